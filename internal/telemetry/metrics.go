// Package telemetry provides the structured logging and metrics
// collaborators the core depends on through interfaces, plus a default
// Prometheus-backed implementation of the metrics side.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Collector is the metrics collaborator the core components call into.
// Labels are attached at the call site; implementations decide how (or
// whether) to expose them.
type Collector interface {
	IncCounter(name string, labels map[string]string)
	ObserveHistogram(name string, seconds float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

// NoopCollector discards every observation. It is the default when a
// caller does not configure metrics.
type NoopCollector struct{}

func (NoopCollector) IncCounter(string, map[string]string)                {}
func (NoopCollector) ObserveHistogram(string, float64, map[string]string) {}
func (NoopCollector) SetGauge(string, float64, map[string]string)         {}

// PrometheusCollector implements Collector on top of client_golang,
// registering one fixed set of vectors keyed by the metric family name
// passed at the call site. Label sets are restricted to the ones declared
// at construction so the label cardinality stays bounded.
type PrometheusCollector struct {
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewPrometheusCollector builds the default connectkit metric families and
// registers them into reg (a fresh or shared *prometheus.Registry, the same
// way the teacher's internal/telemetry.All() feeds a registry).
func NewPrometheusCollector(reg *prometheus.Registry) *PrometheusCollector {
	c := &PrometheusCollector{
		registry:   reg,
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
		gauges:     map[string]*prometheus.GaugeVec{},
	}

	c.counters["http_requests_total"] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "connectkit", Subsystem: "http", Name: "requests_total",
		Help: "Total outbound requests by provider, method, and status.",
	}, []string{"provider", "method", "status"})

	c.counters["token_refresh_total"] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "connectkit", Subsystem: "token", Name: "refresh_total",
		Help: "Total refresh attempts by provider and outcome.",
	}, []string{"provider", "outcome"})

	c.counters["token_refresh_dedup_total"] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "connectkit", Subsystem: "token", Name: "refresh_dedup_total",
		Help: "Total refresh calls coalesced by single-flight, by scope (local/distributed).",
	}, []string{"provider", "scope"})

	c.counters["retry_attempts_total"] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "connectkit", Subsystem: "retry", Name: "attempts_total",
		Help: "Total retry attempts by provider.",
	}, []string{"provider"})

	c.histograms["http_request_duration_seconds"] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "connectkit", Subsystem: "http", Name: "request_duration_seconds",
		Help:    "Outbound request latency in seconds.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"provider"})

	c.histograms["token_refresh_duration_seconds"] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "connectkit", Subsystem: "token", Name: "refresh_duration_seconds",
		Help:    "Token refresh latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"provider"})

	c.gauges["ratelimit_queue_depth"] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "connectkit", Subsystem: "ratelimit", Name: "queue_depth",
		Help: "Current number of requests holding a concurrency slot, by provider.",
	}, []string{"provider"})

	c.gauges["breaker_state"] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "connectkit", Subsystem: "breaker", Name: "state",
		Help: "Circuit breaker state by provider (0=closed, 1=open).",
	}, []string{"provider"})

	for _, cv := range c.counters {
		reg.MustRegister(cv)
	}
	for _, hv := range c.histograms {
		reg.MustRegister(hv)
	}
	for _, gv := range c.gauges {
		reg.MustRegister(gv)
	}

	return c
}

func (c *PrometheusCollector) IncCounter(name string, labels map[string]string) {
	cv, ok := c.counters[name]
	if !ok {
		return
	}
	cv.With(labels).Inc()
}

func (c *PrometheusCollector) ObserveHistogram(name string, seconds float64, labels map[string]string) {
	hv, ok := c.histograms[name]
	if !ok {
		return
	}
	hv.With(labels).Observe(seconds)
}

func (c *PrometheusCollector) SetGauge(name string, value float64, labels map[string]string) {
	gv, ok := c.gauges[name]
	if !ok {
		return
	}
	gv.With(labels).Set(value)
}
