// README: Periodic sweep that reminds operators of scheduled trips still waiting in pending.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"dispatch/internal/modules/notification"
	"dispatch/internal/modules/trip"
)

func (s *Service) RunReminderTicker(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReminderInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.SweepReminders(ctx); n > 0 {
				s.log.WithField("sent", n).Info("scheduled trip reminders sent")
			}
		}
	}
}

// SweepReminders reads a pending snapshot and reminds once per trip whose
// scheduling date falls within the lead window. Returns how many were sent.
func (s *Service) SweepReminders(ctx context.Context) int {
	now := s.now()
	sent := 0
	for _, t := range s.trips.List(trip.PartitionPending) {
		if t.SchedulingDate == nil {
			continue
		}
		until := t.SchedulingDate.Sub(now)
		if until <= 0 || until > s.cfg.ReminderLead {
			continue
		}
		key := fmt.Sprintf("%s:%d", t.ID, t.SchedulingDate.Unix())
		ok, err := s.reminders.Claim(ctx, key, until+s.cfg.ReminderInterval)
		if err != nil {
			s.log.WithField("trip_id", t.ID).WithError(err).Warn("reminder claim failed")
			continue
		}
		if !ok {
			continue
		}
		s.remind(ctx, t, until)
		sent++
	}
	return sent
}

func (s *Service) remind(ctx context.Context, t trip.Trip, until time.Duration) {
	s.commit(ctx, func(fx *effects) error {
		s.notify(fx, notification.Entry{
			Type:   notification.TypeTripReminder,
			TripID: t.ID,
			Data: map[string]any{
				"schedulingDate": t.SchedulingDate,
				"tripNumber":     t.TripNumber,
			},
		})
		s.pushOperators(fx, "Scheduled trip", fmt.Sprintf("Trip #%d starts in %d minutes and has no driver", t.TripNumber, int(until.Minutes())))
		s.metrics.ReminderSent()
		s.log.WithFields(logrus.Fields{"trip_id": t.ID, "scheduled": t.SchedulingDate}).Debug("trip reminder")
		return nil
	})
}
