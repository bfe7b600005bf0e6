package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"dispatch/internal/modules/location"
	"dispatch/internal/modules/pathmatch"
	"dispatch/internal/modules/pricing"
	"dispatch/internal/modules/trip"
	"dispatch/internal/types"
)

// driveBillable records a vendor visit and a few fixes so the raw path has length.
func driveBillable(t *testing.T, h *harness, tripID, driverID types.ID) {
	t.Helper()
	ctx := context.Background()
	for _, c := range []types.Coordinates{{Lat: 24.99, Lng: 121.5}, {Lat: 24.995, Lng: 121.5}} {
		if err := h.svc.UpdateLocation(ctx, driverID, c); err != nil {
			t.Fatalf("location: %v", err)
		}
	}
	vendor := types.Location{Coords: types.Coordinates{Lat: 25.0, Lng: 121.5}}
	if _, err := h.svc.ChangeState(ctx, driverID, ChangeStateCommand{TripID: tripID, Name: StateOnVendor, Location: vendor}); err != nil {
		t.Fatalf("onVendor: %v", err)
	}
	for _, c := range []types.Coordinates{{Lat: 25.01, Lng: 121.5}, {Lat: 25.02, Lng: 121.5}} {
		if err := h.svc.UpdateLocation(ctx, driverID, c); err != nil {
			t.Fatalf("location: %v", err)
		}
	}
}

func TestEndTrip_FallbackStillCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addPending(t, "T1")
	h.connect(t, "D1")
	h.startTrip(t, "T1", "D1")
	driveBillable(t, h, "T1", "D1")

	end := types.Location{Coords: types.Coordinates{Lat: 25.03, Lng: 121.5}}
	res, err := h.svc.EndTrip(ctx, "D1", EndTripCommand{TripID: "T1", Location: end, Time: testNow.Add(25 * time.Minute)})
	if err != nil {
		t.Fatalf("end trip: %v", err)
	}
	got := res.Trip
	if res.Matched {
		t.Fatalf("expected fallback")
	}
	if got.MatchedPath == nil || len(got.MatchedPath) != 0 {
		t.Fatalf("expected empty matched path, got %v", got.MatchedPath)
	}
	wantDistance := location.PathLength(got.RawPath)
	if got.Distance != wantDistance {
		t.Fatalf("distance = %v, want %v", got.Distance, wantDistance)
	}
	if want := pricing.NewService().Price(wantDistance, "scooter"); got.Price != want {
		t.Fatalf("price = %d, want %d", got.Price, want)
	}
	if res.Elapsed != 25*time.Minute {
		t.Fatalf("elapsed = %v", res.Elapsed)
	}
	if got.UnpaidDistance <= 0 {
		t.Fatalf("expected unpaid distance from the approach leg")
	}
	if _, _, ok := h.trips.Find("T1"); ok {
		t.Fatalf("completed trip should leave the store")
	}
	updates := h.persistence.updates()
	if !res.Persisted || len(updates) != 1 {
		t.Fatalf("expected the trip persisted once")
	}
	if updates[0].ElapsedSeconds != 1500 {
		t.Fatalf("persisted elapsed = %v, want 1500s", updates[0].ElapsedSeconds)
	}
	if got.TripNumber == 0 {
		t.Fatalf("unsaved trip should get a number at completion")
	}
	if d, _ := h.drivers.Find("D1"); !d.Available {
		t.Fatalf("driver should be available after completion")
	}
	if len(h.relay.messages["c-T1"]) != 1 {
		t.Fatalf("expected a receipt relayed to the customer")
	}
}

func TestEndTrip_DiscountsApplyOnceAfterMatching(t *testing.T) {
	h := newHarness(t)
	h.matcher.err = nil
	h.matcher.result = pathmatch.Result{
		Path:           []types.Coordinates{{Lat: 25.0, Lng: 121.5}, {Lat: 25.0009, Lng: 121.5}},
		DistanceMeters: 100,
	}
	ctx := context.Background()
	h.addPending(t, "T1", func(tr *trip.Trip) { tr.Discounts = &trip.Discounts{Item: 0.2, Delivery: 0.4} })
	h.connect(t, "D1")
	h.startTrip(t, "T1", "D1")
	driveBillable(t, h, "T1", "D1")

	res, err := h.svc.EndTrip(ctx, "D1", EndTripCommand{
		TripID:    "T1",
		ItemPrice: 20000,
		Receipt:   []trip.ReceiptLine{{Name: "bread", Price: 20000}},
		Location:  types.Location{Coords: types.Coordinates{Lat: 25.03, Lng: 121.5}},
	})
	if err != nil {
		t.Fatalf("end trip: %v", err)
	}
	if !res.Matched || len(res.Trip.MatchedPath) != 2 {
		t.Fatalf("expected matched path adopted")
	}
	if res.Trip.Price != 6000 || res.Trip.ItemPrice != 16000 {
		t.Fatalf("price/itemPrice = %d/%d, want 6000/16000", res.Trip.Price, res.Trip.ItemPrice)
	}
	if ReceiptTotal(res.Trip) != 22000 {
		t.Fatalf("receipt total = %d", ReceiptTotal(res.Trip))
	}
}

func TestEndTrip_FixedPriceOverrides(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addPending(t, "T1", func(tr *trip.Trip) { tr.FixedPrice = 50000 })
	h.connect(t, "D1")
	h.startTrip(t, "T1", "D1")
	driveBillable(t, h, "T1", "D1")

	res, err := h.svc.EndTrip(ctx, "D1", EndTripCommand{TripID: "T1", Location: types.Location{Coords: types.Coordinates{Lat: 25.03, Lng: 121.5}}})
	if err != nil {
		t.Fatalf("end trip: %v", err)
	}
	if res.Trip.Price != 50000 || res.Trip.Distance == 0 {
		t.Fatalf("expected fixed price with recorded distance, got %d / %v", res.Trip.Price, res.Trip.Distance)
	}
}

func TestEndTrip_FailedAndReturned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addPending(t, "T1")
	h.addPending(t, "T2")
	h.connect(t, "D1")
	h.connect(t, "D2")
	h.startTrip(t, "T1", "D1")
	h.startTrip(t, "T2", "D2")
	end := types.Location{Coords: types.Coordinates{Lat: 25.03, Lng: 121.5}}

	res, err := h.svc.EndTrip(ctx, "D1", EndTripCommand{TripID: "T1", Type: EndFailed, Location: end, Reason: "shop closed"})
	if err != nil {
		t.Fatalf("failed end: %v", err)
	}
	if res.Trip.Status != trip.StatusFailed {
		t.Fatalf("status = %q", res.Trip.Status)
	}

	if _, err := h.svc.EndTrip(ctx, "D2", EndTripCommand{TripID: "T2", Type: EndReturned, Location: end, Reason: "nobody home"}); err != nil {
		t.Fatalf("returned end: %v", err)
	}
	got, p, _ := h.trips.Find("T2")
	if p != trip.PartitionPending || got.Reason == nil || *got.Reason != "nobody home" {
		t.Fatalf("returned trip should be pending with reason, got %q %v", p, got.Reason)
	}

	if _, err := h.svc.EndTrip(ctx, "D1", EndTripCommand{TripID: "T1", Type: "lost"}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestEndTrip_Preconditions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addPending(t, "T1")
	h.connect(t, "D1")
	h.connect(t, "D2")
	if _, err := h.svc.AssignDriver(ctx, "T1", "D1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := h.svc.EndTrip(ctx, "D1", EndTripCommand{TripID: "T1"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ready trip: expected ErrNotFound, got %v", err)
	}
	h.acceptOnly(t, "T1", "D1")
	if _, err := h.svc.EndTrip(ctx, "D2", EndTripCommand{TripID: "T1"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other driver: expected ErrNotFound, got %v", err)
	}
}

func (h *harness) acceptOnly(t *testing.T, tripID, driverID types.ID) {
	t.Helper()
	if _, err := h.svc.AcceptTrip(context.Background(), driverID, tripID, types.Location{}, h.now); err != nil {
		t.Fatalf("accept: %v", err)
	}
}

func TestEndTrip_CancelRefusedWhileCompleting(t *testing.T) {
	h := newHarness(t)
	h.matcher.entered = make(chan struct{})
	h.matcher.release = make(chan struct{})
	ctx := context.Background()
	h.addPending(t, "T1")
	h.addPending(t, "T2")
	h.connect(t, "D1")
	h.connect(t, "D2")
	h.startTrip(t, "T1", "D1")
	driveBillable(t, h, "T1", "D1")

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.EndTrip(ctx, "D1", EndTripCommand{TripID: "T1", Location: types.Location{Coords: types.Coordinates{Lat: 25.03, Lng: 121.5}}})
		done <- err
	}()
	<-h.matcher.entered

	// The lock is free while matching: unrelated work proceeds.
	if _, err := h.svc.AssignDriver(ctx, "T2", "D2"); err != nil {
		t.Fatalf("assign during completion: %v", err)
	}
	if err := h.svc.CancelTrip(ctx, "T1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if err := h.svc.MoveOngoingToPending(ctx, "T1", "late"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	close(h.matcher.release)
	if err := <-done; err != nil {
		t.Fatalf("end trip: %v", err)
	}
	if _, _, ok := h.trips.Find("T1"); ok {
		t.Fatalf("completed trip should leave the store")
	}
}

func TestEndTrip_PersistenceRetries(t *testing.T) {
	h := newHarness(t)
	h.persistence.updateFails = 2
	ctx := context.Background()
	h.addPending(t, "T1")
	h.connect(t, "D1")
	h.startTrip(t, "T1", "D1")

	res, err := h.svc.EndTrip(ctx, "D1", EndTripCommand{TripID: "T1", Location: types.Location{Coords: types.Coordinates{Lat: 25.03, Lng: 121.5}}})
	if err != nil {
		t.Fatalf("end trip: %v", err)
	}
	if !res.Persisted {
		t.Fatalf("expected success on the third attempt")
	}
	h.persistence.mu.Lock()
	saved, updated, left := len(h.persistence.saved), len(h.persistence.updated), h.persistence.updateFails
	h.persistence.mu.Unlock()
	if saved != 1 || updated != 1 || left != 0 {
		t.Fatalf("expected one save then update retried until it landed, got saved=%d updated=%d fails left=%d", saved, updated, left)
	}
	if res.Trip.TripNumber != 1 {
		t.Fatalf("expected trip number from the first save, got %d", res.Trip.TripNumber)
	}

	h.addPending(t, "T2")
	h.startTrip(t, "T2", "D1")
	h.persistence.updateFails = 10
	res, err = h.svc.EndTrip(ctx, "D1", EndTripCommand{TripID: "T2", Location: types.Location{Coords: types.Coordinates{Lat: 25.03, Lng: 121.5}}})
	if err != nil {
		t.Fatalf("persistence failure must not fail completion: %v", err)
	}
	if res.Persisted {
		t.Fatalf("expected persisted=false")
	}
	if _, _, ok := h.trips.Find("T2"); ok {
		t.Fatalf("in-memory removal happens even when persistence fails")
	}
}

func TestFormatReceipt(t *testing.T) {
	tr := trip.Trip{
		TripNumber: 42,
		Vendor:     &trip.VendorRef{Name: "Corner Bakery"},
		Receipt:    []trip.ReceiptLine{{Name: "bread", Price: 12000}, {Name: "milk", Price: 4400}},
		ItemPrice:  16400,
		Price:      23000,
		Distance:   5300,
		Discounts:  &trip.Discounts{Delivery: 0.1},
	}
	out := FormatReceipt(tr)
	for _, want := range []string{"#42", "Corner Bakery", "- bread: 12000", "Delivery fee: 23000 (10% off)", "Distance: 5.3 km", "Total: 39000"} {
		if !strings.Contains(out, want) {
			t.Fatalf("receipt missing %q:\n%s", want, out)
		}
	}
}

func TestEndTrip_DriverWithAnotherOngoingTripStaysUnavailable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addPending(t, "T1")
	h.addPending(t, "T2")
	h.connect(t, "D1")
	h.startTrip(t, "T1", "D1")
	h.startTrip(t, "T2", "D1")

	end := types.Location{Coords: types.Coordinates{Lat: 25.03, Lng: 121.5}}
	if _, err := h.svc.EndTrip(ctx, "D1", EndTripCommand{TripID: "T1", Location: end}); err != nil {
		t.Fatalf("end T1: %v", err)
	}
	if d, _ := h.drivers.Find("D1"); d.Available {
		t.Fatalf("driver available while T2 is ongoing")
	}
	if p := partitionOf(h, "T2"); p != trip.PartitionOngoing {
		t.Fatalf("T2 partition = %s", p)
	}

	if _, err := h.svc.EndTrip(ctx, "D1", EndTripCommand{TripID: "T2", Location: end}); err != nil {
		t.Fatalf("end T2: %v", err)
	}
	if d, _ := h.drivers.Find("D1"); !d.Available {
		t.Fatalf("driver should be available after the last trip")
	}
}
