// README: Driver session events: connect, location, accept, reject, waypoints, vendor visits, cancel, availability.
package dispatch

import (
	"context"
	"math"
	"time"

	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/notification"
	"dispatch/internal/modules/persistence"
	"dispatch/internal/modules/trip"
	"dispatch/internal/types"
)

// ConnectDriver attaches a channel to the driver and re-sends every trip
// already assigned to them.
func (s *Service) ConnectDriver(ctx context.Context, driverID types.ID, handle string, coords types.Coordinates) (driver.Driver, []trip.Trip, error) {
	if driverID == "" || handle == "" {
		return driver.Driver{}, nil, badRequest("driver id and channel are required")
	}
	var (
		d        driver.Driver
		assigned []trip.Trip
	)
	err := s.commit(ctx, func(fx *effects) error {
		d = s.drivers.UpsertOnConnect(driverID, handle, coords)
		assigned = s.trips.ByDriver(driverID)
		for _, t := range assigned {
			s.bus.SendTo(handle, EventAlreadyAssignedTrip, t)
		}
		s.mirrorUpsert(fx, d.ID, d.Location)
		return nil
	})
	return d, assigned, err
}

// DisconnectDriver clears the channel only; location and availability stay.
func (s *Service) DisconnectDriver(ctx context.Context, handle string) {
	s.commit(ctx, func(fx *effects) error {
		d, ok := s.drivers.MarkDisconnected(handle)
		if !ok {
			return nil
		}
		online := false
		s.notify(fx, notification.Entry{Type: notification.TypeDriverConnection, DriverID: d.ID, Connection: &online})
		if s.mirror != nil {
			fx.add(func(ctx context.Context) {
				if err := s.mirror.Remove(ctx, d.ID); err != nil {
					s.log.WithField("driver_id", d.ID).WithError(err).Warn("location mirror remove failed")
				}
			})
		}
		return nil
	})
}

// DriverFor resolves the driver attached to a channel.
func (s *Service) DriverFor(handle string) (driver.Driver, bool) {
	return s.drivers.FindByHandle(handle)
}

// UpdateLocation records a driver fix and appends it to each of their ongoing
// trips, on the unpaid path until the billable phase starts.
func (s *Service) UpdateLocation(ctx context.Context, driverID types.ID, coords types.Coordinates) error {
	if !validCoords(coords) {
		return badRequest("coordinates out of range")
	}
	return s.commit(ctx, func(fx *effects) error {
		if _, err := s.drivers.UpdateLocation(driverID, coords); err != nil {
			return notFound("driver", driverID)
		}
		s.trips.UpdateWhere(trip.PartitionOngoing,
			func(t *trip.Trip) bool { return t.AssignedTo(driverID) && t.State.TripEnd == nil },
			func(t *trip.Trip) { t.AppendMotion(coords) },
		)
		s.mirrorUpsert(fx, driverID, coords)
		return nil
	})
}

// AcceptTrip starts a ready trip assigned to driverID.
func (s *Service) AcceptTrip(ctx context.Context, driverID, tripID types.ID, loc types.Location, at time.Time) (trip.Trip, error) {
	at = s.orNow(at)
	var started trip.Trip
	err := s.commit(ctx, func(fx *effects) error {
		_, err := s.trips.Update(tripID, trip.PartitionReady, func(t *trip.Trip) error {
			if !t.AssignedTo(driverID) {
				return trip.ErrNotFound
			}
			t.State.TripStart = &trip.Marker{Time: at, Location: loc}
			return nil
		})
		if err != nil {
			return notFound("ready trip", tripID)
		}
		started, err = s.trips.MoveToOngoing(tripID)
		if err != nil {
			return notFound("ready trip", tripID)
		}
		s.broadcastTrips()
		return nil
	})
	return started, err
}

// RejectTrip sends a ready trip back to the pool and frees the driver unless
// they still hold another trip.
func (s *Service) RejectTrip(ctx context.Context, driverID, tripID types.ID) error {
	return s.commit(ctx, func(fx *effects) error {
		t, p, ok := s.trips.Find(tripID)
		if !ok || p != trip.PartitionReady || !t.AssignedTo(driverID) {
			return notFound("ready trip", tripID)
		}
		if _, _, err := s.trips.MoveToPending(tripID); err != nil {
			return notFound("ready trip", tripID)
		}
		s.releaseDriver(driverID)
		s.broadcastTrips()
		return nil
	})
}

// AddWayPoint records a stop on an ongoing trip. A stop at the customer's door
// with an exact fix replaces an approximate customer location.
func (s *Service) AddWayPoint(ctx context.Context, driverID types.ID, cmd WayPointCommand) (trip.Trip, error) {
	at := s.orNow(cmd.Time)
	var updated trip.Trip
	err := s.commit(ctx, func(fx *effects) error {
		upgraded := false
		t, err := s.trips.Update(cmd.TripID, trip.PartitionOngoing, func(t *trip.Trip) error {
			if err := s.ownedInFlight(t, driverID); err != nil {
				return err
			}
			t.State.WayPoints = append(t.State.WayPoints, trip.Marker{Time: at, Location: cmd.Location})
			t.RawPath = append(t.RawPath, cmd.Location.Coords)
			if cmd.AtCustomer && t.Customer.Location.Upgrades(cmd.Location) {
				t.Customer.Location = exact(cmd.Location)
				upgraded = true
			}
			return nil
		})
		if err != nil {
			return s.tripError(err, cmd.TripID)
		}
		updated = t
		if upgraded {
			s.bus.Publish(TopicAdmin, "updateCustomer", EntityEvent{ID: t.Customer.ID, Location: &t.Customer.Location})
			s.persistLocation(fx, persistence.EntityCustomer, t.Customer.ID, t.Customer.Location)
		}
		s.broadcastTrips()
		return nil
	})
	return updated, err
}

// ChangeState writes a vendor-visit marker. Each marker is written once and
// leftVendor requires onVendor.
func (s *Service) ChangeState(ctx context.Context, driverID types.ID, cmd ChangeStateCommand) (trip.Trip, error) {
	if cmd.Name != StateOnVendor && cmd.Name != StateLeftVendor {
		return trip.Trip{}, badRequest("unknown state %q", cmd.Name)
	}
	at := s.orNow(cmd.Time)
	var updated trip.Trip
	err := s.commit(ctx, func(fx *effects) error {
		upgraded := false
		t, err := s.trips.Update(cmd.TripID, trip.PartitionOngoing, func(t *trip.Trip) error {
			if err := s.ownedInFlight(t, driverID); err != nil {
				return err
			}
			if t.Alternative {
				return invalidState("trip %s has no vendor visit", t.ID)
			}
			slot := &t.State.OnVendor
			if cmd.Name == StateLeftVendor {
				if t.State.OnVendor == nil {
					return invalidState("trip %s has not reached the vendor", t.ID)
				}
				slot = &t.State.LeftVendor
			}
			if *slot != nil {
				return invalidState("trip %s already recorded %s", t.ID, cmd.Name)
			}
			*slot = &trip.Marker{Time: at, Location: cmd.Location}
			t.RawPath = append(t.RawPath, cmd.Location.Coords)
			if cmd.Name == StateOnVendor && t.Vendor != nil && t.Vendor.Location.Upgrades(cmd.Location) {
				t.Vendor.Location = exact(cmd.Location)
				upgraded = true
			}
			return nil
		})
		if err != nil {
			return s.tripError(err, cmd.TripID)
		}
		updated = t
		if upgraded {
			s.bus.Publish(TopicAdmin, "updateVendor", EntityEvent{ID: t.Vendor.ID, Location: &t.Vendor.Location})
			s.persistLocation(fx, persistence.EntityVendor, t.Vendor.ID, t.Vendor.Location)
		}
		s.broadcastTrips()
		return nil
	})
	return updated, err
}

// DriverCancelTrip lets the assigned driver cancel an ongoing trip.
func (s *Service) DriverCancelTrip(ctx context.Context, driverID, tripID types.ID) error {
	return s.commit(ctx, func(fx *effects) error {
		t, p, ok := s.trips.Find(tripID)
		if !ok || p != trip.PartitionOngoing || !t.AssignedTo(driverID) {
			return notFound("ongoing trip", tripID)
		}
		if t.State.TripEnd != nil {
			return invalidState("trip %s is being completed", tripID)
		}
		return s.cancelLocked(fx, tripID)
	})
}

// DriverSetAvailable is the driver's own availability toggle.
func (s *Service) DriverSetAvailable(ctx context.Context, driverID types.ID, available bool) error {
	return s.commit(ctx, func(fx *effects) error {
		if _, err := s.drivers.SetAvailability(driverID, available); err != nil {
			return notFound("driver", driverID)
		}
		return nil
	})
}

// Logout removes the driver from the registry. Drivers holding trips must
// finish or hand them back first.
func (s *Service) Logout(ctx context.Context, driverID types.ID) error {
	return s.commit(ctx, func(fx *effects) error {
		if held := s.trips.ByDriver(driverID); len(held) > 0 {
			return invalidState("driver %s still holds %d trips", driverID, len(held))
		}
		if err := s.drivers.Logout(driverID); err != nil {
			return notFound("driver", driverID)
		}
		if s.mirror != nil {
			fx.add(func(ctx context.Context) {
				if err := s.mirror.Remove(ctx, driverID); err != nil {
					s.log.WithField("driver_id", driverID).WithError(err).Warn("location mirror remove failed")
				}
			})
		}
		return nil
	})
}

func (s *Service) ownedInFlight(t *trip.Trip, driverID types.ID) error {
	if !t.AssignedTo(driverID) {
		return trip.ErrNotFound
	}
	if t.State.TripEnd != nil {
		return invalidState("trip %s is being completed", t.ID)
	}
	return nil
}

// tripError maps store misses to NotFound and keeps taxonomy errors as they are.
func (s *Service) tripError(err error, tripID types.ID) error {
	if err == trip.ErrNotFound {
		return notFound("ongoing trip", tripID)
	}
	return err
}

func (s *Service) mirrorUpsert(fx *effects, driverID types.ID, c types.Coordinates) {
	if s.mirror == nil || c.IsZero() {
		return
	}
	fx.add(func(ctx context.Context) {
		if err := s.mirror.Upsert(ctx, driverID, c); err != nil {
			s.log.WithField("driver_id", driverID).WithError(err).Warn("location mirror update failed")
		}
	})
}

func (s *Service) orNow(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t
}

func exact(l types.Location) types.Location {
	l.Approximate = false
	return l
}

func validCoords(c types.Coordinates) bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}
