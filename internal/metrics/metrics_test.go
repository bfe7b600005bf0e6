package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.TripAssigned()
	c.TripFinished("delivered")
	c.PathMatchObserve(time.Second)
	c.SetPartitions(1, 2, 3)
	c.SocketDrop()
}

func TestCollector_CountsAndExposes(t *testing.T) {
	c := NewCollector()
	c.TripAssigned()
	c.TripAssigned()
	c.PathMatchFallback("upstream")
	c.SetPartitions(3, 1, 2)

	if got := testutil.ToFloat64(c.TripsAssigned); got != 2 {
		t.Errorf("assigned = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.PathMatchFallbacks.WithLabelValues("upstream")); got != 1 {
		t.Errorf("fallbacks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Partition.WithLabelValues("pending")); got != 3 {
		t.Errorf("pending gauge = %v, want 3", got)
	}

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "dispatch_trips_assigned_total 2") {
		t.Errorf("exposition missing assigned counter")
	}
}
