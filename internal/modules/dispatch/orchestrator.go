// README: Operator-driven dispatch: assignment, availability, routing, pull, cancel, and return to pool.
package dispatch

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"dispatch/internal/modules/notification"
	"dispatch/internal/modules/trip"
	"dispatch/internal/types"
)

type tripRef struct {
	TripID types.ID `json:"tripId"`
}

// AssignDriver pairs a pending trip with a registered driver. Of two concurrent
// calls for the same trip only the first finds it pending.
func (s *Service) AssignDriver(ctx context.Context, tripID, driverID types.ID) (trip.Trip, error) {
	var assigned trip.Trip
	err := s.commit(ctx, func(fx *effects) error {
		d, ok := s.drivers.Find(driverID)
		if !ok {
			return notFound("driver", driverID)
		}
		t, err := s.trips.MoveToReady(tripID, driverID)
		if err != nil {
			return notFound("pending trip", tripID)
		}
		assigned = t
		s.broadcastTrips()
		if d.Connected() {
			s.bus.SendTo(d.ChannelHandle, EventNewTrip, t)
		}
		if _, err := s.drivers.SetAvailability(driverID, false); err != nil {
			return notFound("driver", driverID)
		}
		s.pushDriver(fx, driverID, "New trip", fmt.Sprintf("Trip #%d for %s was assigned to you", t.TripNumber, customerName(t)))
		s.metrics.TripAssigned()
		return nil
	})
	return assigned, err
}

// SetDriverAvailability is the operator toggle. Turning a driver available is
// echoed to the driver's channel.
func (s *Service) SetDriverAvailability(ctx context.Context, driverID types.ID, available bool) error {
	return s.commit(ctx, func(fx *effects) error {
		d, err := s.drivers.SetAvailability(driverID, available)
		if err != nil {
			return notFound("driver", driverID)
		}
		if available && d.Connected() {
			s.bus.SendTo(d.ChannelHandle, EventAvailabilityChange, map[string]bool{"available": true})
		}
		return nil
	})
}

// SetRoutedPath stores an operator-planned route on a pending trip.
func (s *Service) SetRoutedPath(ctx context.Context, tripID types.ID, path []types.Coordinates) error {
	return s.commit(ctx, func(fx *effects) error {
		_, err := s.trips.Update(tripID, trip.PartitionPending, func(t *trip.Trip) error {
			t.RoutedPath = types.ClonePath(path)
			return nil
		})
		if err != nil {
			return notFound("pending trip", tripID)
		}
		s.broadcastTrips()
		return nil
	})
}

// PullTrip takes a ready trip back from its driver.
func (s *Service) PullTrip(ctx context.Context, tripID types.ID) error {
	return s.commit(ctx, func(fx *effects) error {
		t, p, ok := s.trips.Find(tripID)
		if !ok || p != trip.PartitionReady || t.DriverID == nil {
			return notFound("ready trip", tripID)
		}
		driverID := *t.DriverID
		d, ok := s.drivers.Find(driverID)
		if !ok {
			return notFound("driver", driverID)
		}
		if _, _, err := s.trips.MoveToPending(tripID); err != nil {
			return notFound("ready trip", tripID)
		}
		s.releaseDriver(driverID)
		if d.Connected() {
			s.bus.SendTo(d.ChannelHandle, EventTripPulled, tripRef{TripID: tripID})
		}
		s.broadcastTrips()
		s.notify(fx, notification.Entry{Type: notification.TypeTripPulled, TripID: tripID, DriverID: driverID})
		s.pushDriver(fx, driverID, "Trip pulled", fmt.Sprintf("Trip #%d was taken back by dispatch", t.TripNumber))
		s.metrics.TripPulled()
		return nil
	})
}

// CancelTrip removes a trip from whichever partition holds it.
func (s *Service) CancelTrip(ctx context.Context, tripID types.ID) error {
	return s.commit(ctx, func(fx *effects) error {
		t, _, ok := s.trips.Find(tripID)
		if !ok {
			return notFound("trip", tripID)
		}
		if t.State.TripEnd != nil {
			return invalidState("trip %s is being completed", tripID)
		}
		return s.cancelLocked(fx, tripID)
	})
}

func (s *Service) cancelLocked(fx *effects, tripID types.ID) error {
	removed, _, err := s.trips.Remove(tripID)
	if err != nil {
		return notFound("trip", tripID)
	}
	entry := notification.Entry{Type: notification.TypeTripCancelled, TripID: tripID}
	if removed.DriverID != nil {
		driverID := *removed.DriverID
		entry.DriverID = driverID
		if d, err := s.releaseDriver(driverID); err == nil && d.Connected() {
			s.bus.SendTo(d.ChannelHandle, EventTripCancelled, tripRef{TripID: tripID})
		}
		s.pushDriver(fx, driverID, "Trip cancelled", fmt.Sprintf("Trip #%d was cancelled", removed.TripNumber))
		s.relayCustomer(fx, removed.Customer.ID, fmt.Sprintf("Your delivery #%d has been cancelled.", removed.TripNumber))
	}
	s.broadcastTrips()
	s.notify(fx, entry)
	s.metrics.TripCancelled()

	removed.Status = trip.StatusCancelled
	if s.persistence != nil && removed.TripNumber != 0 {
		fx.add(func(ctx context.Context) {
			if err := s.persistence.UpdateTrip(ctx, removed); err != nil {
				s.metrics.PersistenceFailure("cancel")
				s.log.WithField("trip_id", tripID).WithError(err).Warn("cancelled trip not persisted")
			}
		})
	}
	return nil
}

// MoveOngoingToPending returns a trip whose delivery attempt failed to the pool.
// Its in-flight fields are reset and its driver freed.
func (s *Service) MoveOngoingToPending(ctx context.Context, tripID types.ID, reason string) error {
	return s.commit(ctx, func(fx *effects) error {
		return s.returnLocked(tripID, reason)
	})
}

func (s *Service) returnLocked(tripID types.ID, reason string) error {
	t, p, ok := s.trips.Find(tripID)
	if !ok || p != trip.PartitionOngoing {
		return notFound("ongoing trip", tripID)
	}
	if t.State.TripEnd != nil {
		return invalidState("trip %s is being completed", tripID)
	}
	_, err := s.trips.Update(tripID, trip.PartitionOngoing, func(t *trip.Trip) error {
		r := reason
		t.Reason = &r
		return nil
	})
	if err != nil {
		return notFound("ongoing trip", tripID)
	}
	if _, _, err := s.trips.MoveToPending(tripID); err != nil {
		return notFound("ongoing trip", tripID)
	}
	if t.DriverID != nil {
		if _, err := s.releaseDriver(*t.DriverID); err != nil {
			s.log.WithFields(logrus.Fields{"trip_id": tripID, "driver_id": *t.DriverID}).Warn("returned trip driver no longer registered")
		}
	}
	s.broadcastTrips()
	s.metrics.TripReturned()
	return nil
}
