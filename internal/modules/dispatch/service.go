// README: Dispatch service is the single authority over driver and trip state and the fan-out that follows.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dispatch/internal/metrics"
	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/notification"
	"dispatch/internal/modules/persistence"
	"dispatch/internal/modules/trip"
	"dispatch/internal/types"
)

// Topics the service publishes to.
const (
	TopicAdmin         = "admin"
	TopicNotifications = "notifications"
)

const (
	defaultReminderInterval = 15 * time.Minute
	defaultReminderLead     = time.Hour
	defaultPersistAttempts  = 3
	defaultPersistBackoff   = 250 * time.Millisecond
)

type Config struct {
	AllowReset       bool
	ReminderInterval time.Duration
	ReminderLead     time.Duration
	PersistAttempts  int
	PersistBackoff   time.Duration
}

// Deps wires the service. Drivers, Trips, Bus and Pricer are required; every
// other collaborator may be nil and is then skipped.
type Deps struct {
	Drivers       *driver.Registry
	Trips         *trip.Store
	Bus           Broadcaster
	Matcher       PathMatcher
	Pricer        Pricer
	Persistence   PersistenceGateway
	Sender        NotificationSender
	Relay         MessageRelay
	Notifications NotificationLog
	Mirror        LocationMirror
	Geocoder      Geocoder
	Reminders     ReminderGuard
	Metrics       *metrics.Collector
	Log           logrus.FieldLogger
	Config        Config
	Now           func() time.Time
}

// Service serializes every mutation of the registry and the trip store under
// mu. Network I/O is collected as effects and runs after mu is released.
type Service struct {
	mu sync.Mutex

	drivers       *driver.Registry
	trips         *trip.Store
	bus           Broadcaster
	matcher       PathMatcher
	pricer        Pricer
	persistence   PersistenceGateway
	sender        NotificationSender
	relay         MessageRelay
	notifications NotificationLog
	mirror        LocationMirror
	geocoder      Geocoder
	reminders     ReminderGuard
	metrics       *metrics.Collector
	log           logrus.FieldLogger
	cfg           Config
	now           func() time.Time
}

func NewService(d Deps) *Service {
	cfg := d.Config
	if cfg.ReminderInterval <= 0 {
		cfg.ReminderInterval = defaultReminderInterval
	}
	if cfg.ReminderLead <= 0 {
		cfg.ReminderLead = defaultReminderLead
	}
	if cfg.PersistAttempts <= 0 {
		cfg.PersistAttempts = defaultPersistAttempts
	}
	if cfg.PersistBackoff < 0 {
		cfg.PersistBackoff = 0
	}
	log := d.Log
	if log == nil {
		l := logrus.New()
		l.SetOutput(nopWriter{})
		log = l
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	reminders := d.Reminders
	if reminders == nil {
		reminders = NewMemoryReminderGuard(now)
	}
	s := &Service{
		drivers:       d.Drivers,
		trips:         d.Trips,
		bus:           d.Bus,
		matcher:       d.Matcher,
		pricer:        d.Pricer,
		persistence:   d.Persistence,
		sender:        d.Sender,
		relay:         d.Relay,
		notifications: d.Notifications,
		mirror:        d.Mirror,
		geocoder:      d.Geocoder,
		reminders:     reminders,
		metrics:       d.Metrics,
		log:           log,
		cfg:           cfg,
		now:           now,
	}
	s.drivers.OnChange(s.onDriverChange)
	return s
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// effects is I/O queued under the lock and run once it is released.
type effects []func(context.Context)

func (fx *effects) add(fn func(context.Context)) {
	*fx = append(*fx, fn)
}

// commit runs fn under the service lock, then runs whatever effects fn queued.
func (s *Service) commit(ctx context.Context, fn func(fx *effects) error) error {
	var fx effects
	s.mu.Lock()
	err := fn(&fx)
	s.mu.Unlock()
	for _, run := range fx {
		run(ctx)
	}
	return err
}

// onDriverChange runs on the mutating goroutine, which always holds mu.
func (s *Service) onDriverChange(c driver.Change) {
	if c.Kind == driver.ChangeLocation {
		s.bus.Publish(TopicAdmin, EventLocation, LocationEvent{
			DriverID: c.Driver.ID,
			Location: c.Driver.Location,
			Geohash:  location.Cell(c.Driver.Location),
		})
		return
	}
	s.broadcastDrivers()
}

func (s *Service) broadcastTrips() {
	snap := s.trips.Snapshot()
	s.metrics.SetPartitions(len(snap.Pending), len(snap.Ready), len(snap.Ongoing))
	s.bus.Publish(TopicAdmin, EventTripUpdate, snap)
}

func (s *Service) broadcastDrivers() {
	views := s.driverViews()
	s.metrics.SetConnectedDrivers(len(s.drivers.Connected()))
	s.bus.Publish(TopicAdmin, EventDriverConnection, map[string]any{"onlineDrivers": views})
}

// releaseDriver marks a driver available once they hold no ready or ongoing
// trip. Call it after the trip has left the driver. Must hold s.mu.
func (s *Service) releaseDriver(driverID types.ID) (driver.Driver, error) {
	if len(s.trips.ByDriver(driverID)) > 0 {
		d, ok := s.drivers.Find(driverID)
		if !ok {
			return driver.Driver{}, driver.ErrNotFound
		}
		return d, nil
	}
	return s.drivers.SetAvailability(driverID, true)
}

func (s *Service) driverViews() []DriverView {
	all := s.drivers.All()
	out := make([]DriverView, 0, len(all))
	for _, d := range all {
		out = append(out, toView(d))
	}
	return out
}

func toView(d driver.Driver) DriverView {
	return DriverView{
		ID:         d.ID,
		Location:   d.Location,
		Available:  d.Available,
		Connected:  d.Connected(),
		LastSeenAt: d.LastSeenAt,
	}
}

// notify publishes an entry on the notifications topic and queues its durable append.
func (s *Service) notify(fx *effects, e notification.Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	s.bus.Publish(TopicNotifications, string(e.Type), e)
	if s.notifications == nil {
		return
	}
	fx.add(func(ctx context.Context) {
		if _, err := s.notifications.Append(ctx, e); err != nil {
			s.log.WithFields(logrus.Fields{"type": e.Type, "trip_id": e.TripID, "driver_id": e.DriverID}).
				WithError(err).Warn("notification log append failed")
		}
	})
}

func (s *Service) pushDriver(fx *effects, driverID types.ID, title, body string) {
	if s.sender == nil {
		return
	}
	fx.add(func(ctx context.Context) {
		if err := s.sender.Send(ctx, driverID, title, body); err != nil {
			s.log.WithField("driver_id", driverID).WithError(err).Warn("push notification failed")
		}
	})
}

func (s *Service) pushOperators(fx *effects, title, body string) {
	if s.sender == nil {
		return
	}
	fx.add(func(ctx context.Context) {
		if err := s.sender.SendOperators(ctx, title, body); err != nil {
			s.log.WithError(err).Warn("operator push notification failed")
		}
	})
}

func (s *Service) relayCustomer(fx *effects, customerID types.ID, text string) {
	if s.relay == nil || customerID == "" {
		return
	}
	fx.add(func(ctx context.Context) {
		if err := s.relay.SendToCustomer(ctx, customerID, text); err != nil {
			s.log.WithField("customer_id", customerID).WithError(err).Warn("customer relay failed")
		}
	})
}

func (s *Service) persistLocation(fx *effects, kind persistence.EntityKind, id types.ID, loc types.Location) {
	if s.persistence == nil || id == "" {
		return
	}
	fx.add(func(ctx context.Context) {
		if err := s.persistence.UpdateLocation(ctx, kind, id, loc); err != nil {
			s.metrics.PersistenceFailure("location")
			s.log.WithFields(logrus.Fields{"kind": kind, "id": id}).WithError(err).Warn("location upgrade not persisted")
		}
	})
}

// Snapshot returns every in-flight trip by partition.
func (s *Service) Snapshot() trip.Snapshot {
	return s.trips.Snapshot()
}

func (s *Service) Drivers() []DriverView {
	return s.driverViews()
}

// AttachOperator subscribes an operator channel and sends it the current view.
// Done under the lock so no broadcast can slip between the two.
func (s *Service) AttachOperator(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bus.Subscribe(handle, TopicAdmin)
	s.bus.Subscribe(handle, TopicNotifications)
	s.bus.SendTo(handle, EventOnConnection, OnConnection{
		OnlineDrivers: s.driverViews(),
		Snapshot:      s.trips.Snapshot(),
	})
}

// SubmitTrip hands a new trip to the pending partition.
func (s *Service) SubmitTrip(ctx context.Context, cmd SubmitCommand) (trip.Trip, error) {
	if cmd.Customer.ID == "" {
		return trip.Trip{}, badRequest("customer id is required")
	}
	if cmd.TripID == "" {
		cmd.TripID = types.ID(uuid.NewString())
	}
	if _, _, ok := s.trips.Find(cmd.TripID); ok {
		return trip.Trip{}, invalidState("trip %s already in flight", cmd.TripID)
	}
	if err := s.resolve(ctx, &cmd.Customer.Location, cmd.Customer.Address); err != nil {
		return trip.Trip{}, fmt.Errorf("customer location: %w", err)
	}
	if cmd.Vendor != nil {
		if err := s.resolve(ctx, &cmd.Vendor.Location, cmd.Vendor.Address); err != nil {
			return trip.Trip{}, fmt.Errorf("vendor location: %w", err)
		}
	}

	t := trip.Trip{
		ID:             cmd.TripID,
		Customer:       cmd.Customer,
		Vendor:         cmd.Vendor,
		VehicleNumber:  cmd.VehicleNumber,
		VehicleClass:   cmd.VehicleClass,
		Alternative:    cmd.Alternative,
		ItemTypes:      cmd.ItemTypes,
		ItemPrice:      cmd.ItemPrice,
		FixedPrice:     cmd.FixedPrice,
		Discounts:      cmd.Discounts,
		RoutedPath:     types.ClonePath(cmd.RoutedPath),
		SchedulingDate: cmd.SchedulingDate,
		Status:         trip.StatusPending,
		CreatedAt:      s.now(),
	}
	if s.persistence != nil {
		n, err := s.persistence.SaveTrip(ctx, t)
		if err != nil {
			s.metrics.PersistenceFailure("submit")
			return trip.Trip{}, fmt.Errorf("save trip %s: %w: %w", t.ID, ErrPersistence, err)
		}
		t.TripNumber = n
	}

	var added trip.Trip
	err := s.commit(ctx, func(fx *effects) error {
		var err error
		added, err = s.trips.AddPending(t)
		if errors.Is(err, trip.ErrDuplicate) {
			return invalidState("trip %s already in flight", t.ID)
		}
		if err != nil {
			return err
		}
		s.broadcastTrips()
		s.notify(fx, notification.Entry{Type: notification.TypeTripReceived, TripID: added.ID})
		s.pushOperators(fx, "New trip", fmt.Sprintf("Trip #%d for %s is waiting for a driver", added.TripNumber, customerName(added)))
		s.metrics.TripSubmitted()
		return nil
	})
	return added, err
}

// resolve fills an empty location from the address. Geocoded points are approximate.
func (s *Service) resolve(ctx context.Context, loc *types.Location, address string) error {
	if !loc.Coords.IsZero() {
		return nil
	}
	if address == "" || s.geocoder == nil {
		return badRequest("location or address is required")
	}
	resolved, err := s.geocoder.Resolve(ctx, address)
	if err != nil {
		return fmt.Errorf("geocode %q: %w: %w", address, ErrUpstream, err)
	}
	resolved.Approximate = true
	*loc = resolved
	return nil
}

// Reset clears every partition and frees every driver.
func (s *Service) Reset(ctx context.Context) error {
	if !s.cfg.AllowReset {
		return fmt.Errorf("reset environment is disabled: %w", ErrForbidden)
	}
	return s.commit(ctx, func(fx *effects) error {
		removed := s.trips.Reset()
		s.drivers.SetAllAvailable()
		s.broadcastTrips()
		s.broadcastDrivers()
		s.log.WithField("removed", len(removed)).Warn("dispatch environment reset")
		return nil
	})
}

var entityActions = map[string]bool{"new": true, "update": true, "delete": true}
var entityKinds = map[string]string{"vendor": "Vendor", "customer": "Customer", "driver": "Driver"}

// PublishEntityChange republishes a CRUD change from an external service on the admin topic.
func (s *Service) PublishEntityChange(action, kind string, ev EntityEvent) error {
	suffix, ok := entityKinds[kind]
	if !entityActions[action] || !ok {
		return badRequest("unknown entity event %s/%s", action, kind)
	}
	if ev.ID == "" {
		return badRequest("entity id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bus.Publish(TopicAdmin, action+suffix, ev)
	return nil
}

// Nearby lists available connected drivers around origin, nearest first.
// Uses the Redis mirror when present and the registry otherwise.
func (s *Service) Nearby(ctx context.Context, origin types.Coordinates, radiusKm float64) ([]location.NearbyDriver, error) {
	if radiusKm <= 0 {
		return nil, badRequest("radius must be positive")
	}
	eligible := func(id types.ID) bool {
		d, ok := s.drivers.Find(id)
		return ok && d.Available && d.Connected()
	}
	if s.mirror != nil {
		found, err := s.mirror.Nearby(ctx, origin, radiusKm)
		if err == nil {
			out := found[:0]
			for _, n := range found {
				if eligible(n.DriverID) {
					out = append(out, n)
				}
			}
			return out, nil
		}
		s.log.WithError(err).Warn("location mirror lookup failed, ranking from registry")
	}
	var candidates []location.Candidate
	for _, d := range s.drivers.All() {
		if d.Available && d.Connected() && !d.Location.IsZero() {
			candidates = append(candidates, location.Candidate{DriverID: d.ID, Coords: d.Location})
		}
	}
	return location.Rank(origin, candidates, radiusKm), nil
}

func customerName(t trip.Trip) string {
	if t.Customer.Name != "" {
		return t.Customer.Name
	}
	return string(t.Customer.ID)
}
