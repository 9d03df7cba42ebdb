package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all SDK-level metrics (not application-specific)
type Metrics struct {
	// Request handling metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	MiddlewareSkips  *prometheus.CounterVec
	ResolutionErrors *prometheus.CounterVec

	// Runtime call metrics
	RuntimeCallsTotal   *prometheus.CounterVec
	RuntimeCallDuration *prometheus.HistogramVec
	MergeConflicts      prometheus.Counter

	// NATS metrics
	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all SDK metrics
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "servicekit",
				Subsystem: "dispatch",
				Name:      "requests_total",
				Help:      "Total number of dispatched requests",
			},
			[]string{"service", "action", "status"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "servicekit",
				Subsystem: "dispatch",
				Name:      "request_duration_seconds",
				Help:      "Request handling duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "action"},
		),

		MiddlewareSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "servicekit",
				Subsystem: "middleware",
				Name:      "finalized_total",
				Help:      "Total number of pipeline runs short-circuited by a finalizing hook",
			},
			[]string{"service", "stage"},
		),

		ResolutionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "servicekit",
				Subsystem: "schema",
				Name:      "resolution_errors_total",
				Help:      "Total number of schema resolution failures",
			},
			[]string{"service", "kind"},
		),

		RuntimeCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "servicekit",
				Subsystem: "runtime",
				Name:      "calls_total",
				Help:      "Total number of runtime calls issued",
			},
			[]string{"target", "status"},
		),

		RuntimeCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "servicekit",
				Subsystem: "runtime",
				Name:      "call_duration_seconds",
				Help:      "Runtime call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"target"},
		),

		MergeConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "servicekit",
				Subsystem: "transport",
				Name:      "merge_conflicts_total",
				Help:      "Total number of data conflicts observed while merging transports",
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "servicekit",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "servicekit",
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "servicekit",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "servicekit",
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open)",
			},
		),
	}
}

// RecordRequest increments the dispatched request counter
func (c *Metrics) RecordRequest(service, action, status string) {
	c.RequestsTotal.WithLabelValues(service, action, status).Inc()
}

// RecordRequestDuration records request handling time
func (c *Metrics) RecordRequestDuration(service, action string, duration time.Duration) {
	c.RequestDuration.WithLabelValues(service, action).Observe(duration.Seconds())
}

// RecordFinalized increments the middleware short-circuit counter
func (c *Metrics) RecordFinalized(service, stage string) {
	c.MiddlewareSkips.WithLabelValues(service, stage).Inc()
}

// RecordResolutionError increments the schema resolution failure counter
func (c *Metrics) RecordResolutionError(service, kind string) {
	c.ResolutionErrors.WithLabelValues(service, kind).Inc()
}

// RecordRuntimeCall increments the runtime call counter
func (c *Metrics) RecordRuntimeCall(target, status string) {
	c.RuntimeCallsTotal.WithLabelValues(target, status).Inc()
}

// RecordRuntimeCallDuration records runtime call latency
func (c *Metrics) RecordRuntimeCallDuration(target string, duration time.Duration) {
	c.RuntimeCallDuration.WithLabelValues(target).Observe(duration.Seconds())
}

// RecordMergeConflict increments the merge conflict counter
func (c *Metrics) RecordMergeConflict() {
	c.MergeConflicts.Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSRTT updates NATS round-trip time
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(open bool) {
	value := 0.0
	if open {
		value = 1.0
	}
	c.NATSCircuitBreaker.Set(value)
}
