package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/notification"
	"dispatch/internal/modules/pathmatch"
	"dispatch/internal/modules/persistence"
	"dispatch/internal/modules/pricing"
	"dispatch/internal/modules/trip"
	"dispatch/internal/types"
)

type published struct {
	topic string
	event string
	data  any
}

type sent struct {
	handle string
	event  string
	data   any
}

type fakeBus struct {
	mu        sync.Mutex
	published []published
	sent      []sent
	subs      map[string][]string
}

func (b *fakeBus) Publish(topic, event string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, published{topic: topic, event: event, data: data})
}

func (b *fakeBus) SendTo(handle, event string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sent{handle: handle, event: event, data: data})
}

func (b *fakeBus) Subscribe(handle, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[string][]string)
	}
	b.subs[handle] = append(b.subs[handle], topic)
}

func (b *fakeBus) publishCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func (b *fakeBus) events(topic string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, p := range b.published {
		if p.topic == topic {
			out = append(out, p.event)
		}
	}
	return out
}

func (b *fakeBus) lastPublished(event string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.published) - 1; i >= 0; i-- {
		if b.published[i].event == event {
			return b.published[i].data, true
		}
	}
	return nil, false
}

func (b *fakeBus) sentTo(handle string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, s := range b.sent {
		if s.handle == handle {
			out = append(out, s.event)
		}
	}
	return out
}

type fakeMatcher struct {
	result  pathmatch.Result
	err     error
	entered chan struct{}
	release chan struct{}
}

func (m *fakeMatcher) Match(ctx context.Context, path []types.Coordinates, vehicleClass string) (pathmatch.Result, error) {
	if m.entered != nil {
		close(m.entered)
	}
	if m.release != nil {
		<-m.release
	}
	return m.result, m.err
}

type fakePersistence struct {
	mu          sync.Mutex
	next        int64
	saved       []trip.Trip
	updated     []trip.Trip
	locations   map[types.ID]types.Location
	saveErr     error
	updateFails int
}

func (p *fakePersistence) SaveTrip(ctx context.Context, t trip.Trip) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return 0, p.saveErr
	}
	p.next++
	p.saved = append(p.saved, t)
	return p.next, nil
}

func (p *fakePersistence) UpdateTrip(ctx context.Context, t trip.Trip) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.updateFails > 0 {
		p.updateFails--
		return errors.New("connection reset")
	}
	p.updated = append(p.updated, t)
	return nil
}

func (p *fakePersistence) UpdateLocation(ctx context.Context, kind persistence.EntityKind, id types.ID, loc types.Location) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.locations == nil {
		p.locations = make(map[types.ID]types.Location)
	}
	p.locations[id] = loc
	return nil
}

func (p *fakePersistence) updates() []trip.Trip {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]trip.Trip(nil), p.updated...)
}

type fakeSender struct {
	mu        sync.Mutex
	drivers   []types.ID
	operators []string
}

func (s *fakeSender) Send(ctx context.Context, driverID types.ID, title, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drivers = append(s.drivers, driverID)
	return nil
}

func (s *fakeSender) SendOperators(ctx context.Context, title, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operators = append(s.operators, title)
	return nil
}

type fakeRelay struct {
	mu       sync.Mutex
	messages map[types.ID][]string
	err      error
}

func (r *fakeRelay) SendToCustomer(ctx context.Context, customerID types.ID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.messages == nil {
		r.messages = make(map[types.ID][]string)
	}
	r.messages[customerID] = append(r.messages[customerID], text)
	return r.err
}

type fakeLog struct {
	mu      sync.Mutex
	entries []notification.Entry
}

func (l *fakeLog) Append(ctx context.Context, e notification.Entry) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return "1-0", nil
}

func (l *fakeLog) types() []notification.Type {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []notification.Type
	for _, e := range l.entries {
		out = append(out, e.Type)
	}
	return out
}

type fakeGeocoder struct {
	loc types.Location
	err error
}

func (g *fakeGeocoder) Resolve(ctx context.Context, address string) (types.Location, error) {
	return g.loc, g.err
}

type harness struct {
	svc         *Service
	drivers     *driver.Registry
	trips       *trip.Store
	bus         *fakeBus
	matcher     *fakeMatcher
	persistence *fakePersistence
	sender      *fakeSender
	relay       *fakeRelay
	log         *fakeLog
	now         time.Time
}

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, mutate ...func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		drivers:     driver.NewRegistry(),
		trips:       trip.NewStore(),
		bus:         &fakeBus{},
		matcher:     &fakeMatcher{err: pathmatch.ErrUpstream},
		persistence: &fakePersistence{},
		sender:      &fakeSender{},
		relay:       &fakeRelay{},
		log:         &fakeLog{},
		now:         testNow,
	}
	d := Deps{
		Drivers:       h.drivers,
		Trips:         h.trips,
		Bus:           h.bus,
		Matcher:       h.matcher,
		Pricer:        pricing.NewService(),
		Persistence:   h.persistence,
		Sender:        h.sender,
		Relay:         h.relay,
		Notifications: h.log,
		Config:        Config{PersistBackoff: 0},
		Now:           func() time.Time { return h.now },
	}
	for _, fn := range mutate {
		fn(&d)
	}
	h.svc = NewService(d)
	return h
}

func (h *harness) addPending(t *testing.T, id types.ID, mutate ...func(*trip.Trip)) trip.Trip {
	t.Helper()
	tr := trip.Trip{
		ID:           id,
		Customer:     trip.CustomerRef{ID: "c-" + id, Location: types.Location{Coords: types.Coordinates{Lat: 25.05, Lng: 121.55}}},
		Vendor:       &trip.VendorRef{ID: "v-" + id, Name: "Corner Bakery", Location: types.Location{Coords: types.Coordinates{Lat: 25.0, Lng: 121.5}}},
		VehicleClass: "scooter",
		CreatedAt:    h.now,
	}
	for _, fn := range mutate {
		fn(&tr)
	}
	added, err := h.trips.AddPending(tr)
	if err != nil {
		t.Fatalf("add pending %s: %v", id, err)
	}
	return added
}

func (h *harness) connect(t *testing.T, id types.ID) string {
	t.Helper()
	handle := "sock-" + string(id)
	if _, _, err := h.svc.ConnectDriver(context.Background(), id, handle, types.Coordinates{Lat: 25.0, Lng: 121.5}); err != nil {
		t.Fatalf("connect %s: %v", id, err)
	}
	return handle
}

// startTrip drives a trip from pending to ongoing for driverID.
func (h *harness) startTrip(t *testing.T, tripID, driverID types.ID) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.svc.AssignDriver(ctx, tripID, driverID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	start := types.Location{Coords: types.Coordinates{Lat: 25.0, Lng: 121.5}}
	if _, err := h.svc.AcceptTrip(ctx, driverID, tripID, start, h.now); err != nil {
		t.Fatalf("accept: %v", err)
	}
}

func partitionOf(h *harness, id types.ID) trip.Partition {
	_, p, _ := h.trips.Find(id)
	return p
}
