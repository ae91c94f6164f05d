package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry with every bustrack metric.
type Collector struct {
	reg *prometheus.Registry

	IngestTotal    *prometheus.CounterVec // result label: ok|validation|not_found|internal
	IngestDuration prometheus.Histogram
	ArrivalsTotal  prometheus.Counter

	Published         prometheus.Counter
	Delivered         prometheus.Counter
	Dropped           prometheus.Counter
	ConnectedClients  prometheus.Gauge
	ActiveSubscribers prometheus.Gauge

	ResetsTotal   *prometheus.CounterVec // result label: ok|error
	LastResetTime prometheus.Gauge
	NextResetTime prometheus.Gauge

	NATSConnected   prometheus.Gauge
	NATSPublishErrs prometheus.Counter
}

// NewCollector creates and registers all metrics.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		IngestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustrack_ingest_total",
			Help: "Location ingest calls by result.",
		}, []string{"result"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bustrack_ingest_duration_seconds",
			Help:    "Time to validate, persist and publish one location update.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		ArrivalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustrack_stop_arrivals_total",
			Help: "Stop arrivals recorded.",
		}),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustrack_events_published_total",
			Help: "Events published to the fan-out channel.",
		}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustrack_events_delivered_total",
			Help: "Events enqueued to a viewer connection.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustrack_events_dropped_total",
			Help: "Events dropped because a connection's send buffer was full.",
		}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustrack_connected_clients",
			Help: "Open realtime connections.",
		}),
		ActiveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustrack_active_subscriptions",
			Help: "Topic memberships across all connections.",
		}),
		ResetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustrack_resets_total",
			Help: "Daily resets by result.",
		}, []string{"result"}),
		LastResetTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustrack_last_reset_timestamp_seconds",
			Help: "Unix time of the last daily reset.",
		}),
		NextResetTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustrack_next_reset_timestamp_seconds",
			Help: "Unix time the next daily reset is armed for.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustrack_nats_connected",
			Help: "1 if the NATS relay is connected, 0 otherwise.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustrack_nats_publish_errors_total",
			Help: "NATS publish errors.",
		}),
	}

	reg.MustRegister(
		c.IngestTotal, c.IngestDuration, c.ArrivalsTotal,
		c.Published, c.Delivered, c.Dropped, c.ConnectedClients, c.ActiveSubscribers,
		c.ResetsTotal, c.LastResetTime, c.NextResetTime,
		c.NATSConnected, c.NATSPublishErrs,
	)

	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (used by tests).
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// The methods below let components depend on small interfaces instead of the
// concrete collector. All are safe on a nil *Collector.

func (c *Collector) IngestObserved(result string, d time.Duration) {
	if c == nil {
		return
	}
	c.IngestTotal.WithLabelValues(result).Inc()
	c.IngestDuration.Observe(d.Seconds())
}

func (c *Collector) ArrivalRecorded() {
	if c != nil {
		c.ArrivalsTotal.Inc()
	}
}

func (c *Collector) EventPublished() {
	if c != nil {
		c.Published.Inc()
	}
}

func (c *Collector) EventDelivered() {
	if c != nil {
		c.Delivered.Inc()
	}
}

func (c *Collector) EventDropped() {
	if c != nil {
		c.Dropped.Inc()
	}
}

func (c *Collector) ClientsChanged(clients, subscriptions int) {
	if c == nil {
		return
	}
	c.ConnectedClients.Set(float64(clients))
	c.ActiveSubscribers.Set(float64(subscriptions))
}

func (c *Collector) ResetObserved(err error, at time.Time) {
	if c == nil {
		return
	}
	if err != nil {
		c.ResetsTotal.WithLabelValues("error").Inc()
		return
	}
	c.ResetsTotal.WithLabelValues("ok").Inc()
	c.LastResetTime.Set(float64(at.Unix()))
}

func (c *Collector) ResetArmed(at time.Time) {
	if c != nil {
		c.NextResetTime.Set(float64(at.Unix()))
	}
}

func (c *Collector) NATSSetConnected(connected bool) {
	if c == nil {
		return
	}
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

func (c *Collector) NATSPublishErrInc() {
	if c != nil {
		c.NATSPublishErrs.Inc()
	}
}
