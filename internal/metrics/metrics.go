// README: Prometheus collector for dispatch activity on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector methods are safe on a nil receiver so components can run without metrics.
type Collector struct {
	reg *prometheus.Registry

	TripsSubmitted prometheus.Counter
	TripsAssigned  prometheus.Counter
	TripsPulled    prometheus.Counter
	TripsCancelled prometheus.Counter
	TripsReturned  prometheus.Counter
	TripsFinished  *prometheus.CounterVec // outcome label: delivered|failed

	PathMatchDuration  prometheus.Histogram
	PathMatchFallbacks *prometheus.CounterVec // reason label: empty|upstream|malformed

	PersistenceFailures *prometheus.CounterVec // op label: save|update|location

	Partition        *prometheus.GaugeVec // partition label: pending|ready|ongoing
	ConnectedDrivers prometheus.Gauge
	SocketClients    prometheus.Gauge
	SocketDropped    prometheus.Counter
	RemindersSent    prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		TripsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_trips_submitted_total",
			Help: "Trips handed to the pending pool.",
		}),
		TripsAssigned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_trips_assigned_total",
			Help: "Successful driver assignments.",
		}),
		TripsPulled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_trips_pulled_total",
			Help: "Ready trips pulled back by operators.",
		}),
		TripsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_trips_cancelled_total",
			Help: "Trips cancelled by operators or drivers.",
		}),
		TripsReturned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_trips_returned_total",
			Help: "Ongoing trips returned to pending after a failed attempt.",
		}),
		TripsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_trips_finished_total",
			Help: "Trips completed by drivers.",
		}, []string{"outcome"}),
		PathMatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatch_path_match_duration_seconds",
			Help:    "Duration of road network matching calls.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		PathMatchFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_path_match_fallbacks_total",
			Help: "Completions priced from the raw path.",
		}, []string{"reason"}),
		PersistenceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_persistence_failures_total",
			Help: "Failed durable writes.",
		}, []string{"op"}),
		Partition: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dispatch_trips_in_partition",
			Help: "In-flight trips per lifecycle partition.",
		}, []string{"partition"}),
		ConnectedDrivers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_connected_drivers",
			Help: "Drivers with a live socket.",
		}),
		SocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_socket_clients",
			Help: "Open websocket connections.",
		}),
		SocketDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_socket_frames_dropped_total",
			Help: "Frames dropped because a client could not keep up.",
		}),
		RemindersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_reminders_sent_total",
			Help: "Scheduled trip reminders emitted.",
		}),
	}

	reg.MustRegister(
		c.TripsSubmitted, c.TripsAssigned, c.TripsPulled, c.TripsCancelled, c.TripsReturned, c.TripsFinished,
		c.PathMatchDuration, c.PathMatchFallbacks, c.PersistenceFailures,
		c.Partition, c.ConnectedDrivers, c.SocketClients, c.SocketDropped, c.RemindersSent,
	)
	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

func (c *Collector) TripSubmitted() {
	if c == nil {
		return
	}
	c.TripsSubmitted.Inc()
}

func (c *Collector) TripAssigned() {
	if c == nil {
		return
	}
	c.TripsAssigned.Inc()
}

func (c *Collector) TripPulled() {
	if c == nil {
		return
	}
	c.TripsPulled.Inc()
}

func (c *Collector) TripCancelled() {
	if c == nil {
		return
	}
	c.TripsCancelled.Inc()
}

func (c *Collector) TripReturned() {
	if c == nil {
		return
	}
	c.TripsReturned.Inc()
}

func (c *Collector) ReminderSent() {
	if c == nil {
		return
	}
	c.RemindersSent.Inc()
}

func (c *Collector) TripFinished(outcome string) {
	if c == nil {
		return
	}
	c.TripsFinished.WithLabelValues(outcome).Inc()
}

func (c *Collector) PathMatchObserve(d time.Duration) {
	if c == nil {
		return
	}
	c.PathMatchDuration.Observe(d.Seconds())
}

func (c *Collector) PathMatchFallback(reason string) {
	if c == nil {
		return
	}
	c.PathMatchFallbacks.WithLabelValues(reason).Inc()
}

func (c *Collector) PersistenceFailure(op string) {
	if c == nil {
		return
	}
	c.PersistenceFailures.WithLabelValues(op).Inc()
}

func (c *Collector) SetPartitions(pending, ready, ongoing int) {
	if c == nil {
		return
	}
	c.Partition.WithLabelValues("pending").Set(float64(pending))
	c.Partition.WithLabelValues("ready").Set(float64(ready))
	c.Partition.WithLabelValues("ongoing").Set(float64(ongoing))
}

func (c *Collector) SetConnectedDrivers(n int) {
	if c == nil {
		return
	}
	c.ConnectedDrivers.Set(float64(n))
}

func (c *Collector) SocketOpened() {
	if c == nil {
		return
	}
	c.SocketClients.Inc()
}

func (c *Collector) SocketClosed() {
	if c == nil {
		return
	}
	c.SocketClients.Dec()
}

func (c *Collector) SocketDrop() {
	if c == nil {
		return
	}
	c.SocketDropped.Inc()
}
