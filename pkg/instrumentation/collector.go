// Package instrumentation registers the Prometheus metrics served from
// /metrics: transport retry/rate-limit counters and circuit breaker
// state, both labeled by marketplace, in the promauto style used
// elsewhere in the pack for counted-in-telemetry concerns.
package instrumentation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/skinarb/skinarb/pkg/transport"
)

// breakerStateValue maps a transport.CircuitState onto the gauge value
// Grafana/alerting dashboards expect: 0=closed, 1=half-open, 2=open.
func breakerStateValue(s transport.CircuitState) float64 {
	switch s {
	case transport.StateHalfOpen:
		return 1
	case transport.StateOpen:
		return 2
	default:
		return 0
	}
}

// Collector implements transport.Metrics and additionally exposes a
// circuit-breaker state hook; both are wired from cmd/skinarb-server.
type Collector struct {
	retries      *prometheus.CounterVec
	rateLimited  *prometheus.CounterVec
	breakerState *prometheus.GaugeVec
	breakerTrips *prometheus.CounterVec
}

// NewCollector registers its metrics into reg. Passing nil registers
// into prometheus.DefaultRegisterer, which is what promhttp.Handler()
// serves by default in pkg/httpapi.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Collector{
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skinarb_transport_retries_total",
			Help: "Retries attempted against an upstream marketplace.",
		}, []string{"marketplace"}),
		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skinarb_transport_rate_limited_total",
			Help: "429 responses observed from an upstream marketplace.",
		}, []string{"marketplace"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "skinarb_circuit_breaker_state",
			Help: "Circuit breaker state per marketplace (0=closed, 1=half-open, 2=open).",
		}, []string{"marketplace"}),
		breakerTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skinarb_circuit_breaker_trips_total",
			Help: "Times the circuit breaker for a marketplace transitioned into the open state.",
		}, []string{"marketplace"}),
	}
}

// ObserveRetry implements transport.Metrics.
func (c *Collector) ObserveRetry(marketplace string) {
	c.retries.WithLabelValues(marketplace).Inc()
}

// ObserveRateLimited implements transport.Metrics.
func (c *Collector) ObserveRateLimited(marketplace string) {
	c.rateLimited.WithLabelValues(marketplace).Inc()
}

// BreakerStateHook returns a transport.StateChangeFunc to pass as
// transport.CircuitBreakerConfig.OnStateChange, so the breaker's own
// transitions drive the gauge without transport needing to know this
// package exists.
func (c *Collector) BreakerStateHook() transport.StateChangeFunc {
	return func(marketplace string, from, to transport.CircuitState) {
		c.breakerState.WithLabelValues(marketplace).Set(breakerStateValue(to))
		if to == transport.StateOpen {
			c.breakerTrips.WithLabelValues(marketplace).Inc()
		}
	}
}
