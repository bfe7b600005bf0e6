// README: Trip completion: record the end, match and price outside the lock, persist, then remove.
package dispatch

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"dispatch/internal/modules/location"
	"dispatch/internal/modules/pathmatch"
	"dispatch/internal/modules/persistence"
	"dispatch/internal/modules/trip"
	"dispatch/internal/types"
)

// EndTrip finishes an ongoing trip assigned to driverID. A returned delivery
// goes back to pending instead of completing.
func (s *Service) EndTrip(ctx context.Context, driverID types.ID, cmd EndTripCommand) (CompletionResult, error) {
	switch cmd.Type {
	case "":
		cmd.Type = EndDelivered
	case EndDelivered, EndFailed:
	case EndReturned:
		return CompletionResult{}, s.returnDelivery(ctx, driverID, cmd)
	default:
		return CompletionResult{}, badRequest("unknown end type %q", cmd.Type)
	}
	at := s.orNow(cmd.Time)
	end := trip.Marker{Time: at, Location: cmd.Location}

	// Mark the trip as completing. Cancel, pull and return all refuse it from here on.
	var t trip.Trip
	err := s.commit(ctx, func(fx *effects) error {
		var err error
		t, err = s.trips.Update(cmd.TripID, trip.PartitionOngoing, func(t *trip.Trip) error {
			if err := s.ownedInFlight(t, driverID); err != nil {
				return err
			}
			t.State.TripEnd = &end
			t.RawPath = append(t.RawPath, cmd.Location.Coords)
			if cmd.Receipt != nil {
				t.Receipt = append([]trip.ReceiptLine(nil), cmd.Receipt...)
			}
			if cmd.ItemPrice > 0 {
				t.ItemPrice = cmd.ItemPrice
			}
			if cmd.Reason != "" {
				r := cmd.Reason
				t.Reason = &r
			}
			return nil
		})
		if err != nil {
			return s.tripError(err, cmd.TripID)
		}
		s.broadcastTrips()
		return nil
	})
	if err != nil {
		return CompletionResult{}, err
	}

	res := CompletionResult{}
	if t.State.TripStart != nil {
		res.Elapsed = at.Sub(t.State.TripStart.Time)
		t.ElapsedSeconds = res.Elapsed.Seconds()
	}
	t.UnpaidDistance = location.PathLength(t.UnpaidPath)
	res.Matched = s.matchPath(ctx, &t)
	if t.FixedPrice > 0 {
		t.Price = t.FixedPrice
	} else {
		t.Price = s.pricer.Price(t.Distance, t.VehicleClass)
	}
	applyDiscounts(&t)

	customerUpgraded := false
	if cmd.Type == EndDelivered && t.Customer.Location.Upgrades(cmd.Location) {
		t.Customer.Location = exact(cmd.Location)
		customerUpgraded = true
		if s.persistence != nil {
			if err := s.persistence.UpdateLocation(ctx, persistence.EntityCustomer, t.Customer.ID, t.Customer.Location); err != nil {
				s.metrics.PersistenceFailure("location")
				s.log.WithFields(logrus.Fields{"trip_id": t.ID, "customer_id": t.Customer.ID}).WithError(err).Warn("customer location upgrade not persisted")
			}
		}
	}

	t.Status = trip.StatusDelivered
	if cmd.Type == EndFailed {
		t.Status = trip.StatusFailed
	}
	res.Persisted = s.persistCompleted(ctx, &t)

	if s.relay != nil && t.Customer.ID != "" {
		if err := s.relay.SendToCustomer(ctx, t.Customer.ID, FormatReceipt(t)); err != nil {
			s.log.WithFields(logrus.Fields{"trip_id": t.ID, "customer_id": t.Customer.ID}).WithError(err).Warn("receipt relay failed")
		}
	}

	s.commit(ctx, func(fx *effects) error {
		if _, _, err := s.trips.Remove(t.ID); err != nil {
			s.log.WithField("trip_id", t.ID).Warn("completed trip already left the store")
		}
		if _, err := s.releaseDriver(driverID); err != nil {
			s.log.WithFields(logrus.Fields{"trip_id": t.ID, "driver_id": driverID}).Warn("completing driver no longer registered")
		}
		if customerUpgraded {
			s.bus.Publish(TopicAdmin, "updateCustomer", EntityEvent{ID: t.Customer.ID, Location: &t.Customer.Location})
		}
		s.broadcastTrips()
		s.metrics.TripFinished(string(t.Status))
		return nil
	})

	res.Trip = t
	return res, nil
}

func (s *Service) returnDelivery(ctx context.Context, driverID types.ID, cmd EndTripCommand) error {
	return s.commit(ctx, func(fx *effects) error {
		t, p, ok := s.trips.Find(cmd.TripID)
		if !ok || p != trip.PartitionOngoing || !t.AssignedTo(driverID) {
			return notFound("ongoing trip", cmd.TripID)
		}
		return s.returnLocked(cmd.TripID, cmd.Reason)
	})
}

// matchPath snaps the raw path and falls back to its geometric length on any
// failure. Reports whether the matched path was adopted.
func (s *Service) matchPath(ctx context.Context, t *trip.Trip) bool {
	reason := "disabled"
	if s.matcher != nil {
		started := time.Now()
		res, err := s.matcher.Match(ctx, t.RawPath, t.VehicleClass)
		s.metrics.PathMatchObserve(time.Since(started))
		if err == nil {
			t.MatchedPath = res.Path
			t.Distance = res.DistanceMeters
			return true
		}
		reason = fallbackReason(err)
		s.log.WithFields(logrus.Fields{"trip_id": t.ID, "points": len(t.RawPath)}).WithError(err).Warn("path matching failed, using raw path")
	}
	s.metrics.PathMatchFallback(reason)
	t.MatchedPath = []types.Coordinates{}
	t.Distance = location.PathLength(t.RawPath)
	return false
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, pathmatch.ErrEmptyPath):
		return "short_path"
	case errors.Is(err, pathmatch.ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "upstream"
	}
}

// applyDiscounts runs once, after pricing.
func applyDiscounts(t *trip.Trip) {
	if !t.Discounts.Any() {
		return
	}
	t.Price -= int64(math.Round(float64(t.Price) * t.Discounts.Delivery))
	t.ItemPrice -= int64(math.Round(float64(t.ItemPrice) * t.Discounts.Item))
}

// persistCompleted writes the final record with bounded retries. A trip that
// was never saved gets its number first.
func (s *Service) persistCompleted(ctx context.Context, t *trip.Trip) bool {
	if s.persistence == nil {
		return false
	}
	var lastErr error
retry:
	for attempt := 1; attempt <= s.cfg.PersistAttempts; attempt++ {
		err := s.persistOnce(ctx, t)
		if err == nil {
			return true
		}
		lastErr = err
		s.log.WithFields(logrus.Fields{"trip_id": t.ID, "attempt": attempt}).WithError(err).Warn("persisting completed trip failed")
		if attempt == s.cfg.PersistAttempts {
			break
		}
		select {
		case <-ctx.Done():
			break retry
		case <-time.After(time.Duration(attempt) * s.cfg.PersistBackoff):
		}
	}
	s.metrics.PersistenceFailure("complete")
	s.log.WithFields(logrus.Fields{"trip_id": t.ID, "trip": *t}).WithError(lastErr).Error("completed trip not persisted, reconcile manually")
	return false
}

func (s *Service) persistOnce(ctx context.Context, t *trip.Trip) error {
	if t.TripNumber == 0 {
		n, err := s.persistence.SaveTrip(ctx, *t)
		if err != nil {
			return err
		}
		t.TripNumber = n
	}
	return s.persistence.UpdateTrip(ctx, *t)
}
