// ABOUTME: Prometheus metrics for dispatches and worker invocations.
// ABOUTME: Carries its own registry so tests never trip over duplicate collectors.

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects coordinator-level counters and histograms.
type Metrics struct {
	registry *prometheus.Registry

	dispatchesTotal  *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	invocationsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with a private Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		dispatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fleet",
				Name:      "dispatches_total",
				Help:      "Total number of dispatch operations",
			},
			[]string{"mode", "outcome"},
		),
		dispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fleet",
				Name:      "dispatch_duration_seconds",
				Help:      "Dispatch operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		invocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fleet",
				Name:      "invocations_total",
				Help:      "Total number of worker invocations",
			},
			[]string{"source", "outcome"},
		),
	}
}

// ObserveDispatch records one dispatch operation.
func (m *Metrics) ObserveDispatch(mode string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.dispatchesTotal.WithLabelValues(mode, outcome(ok)).Inc()
	m.dispatchDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// ObserveInvocation records one worker invocation.
func (m *Metrics) ObserveInvocation(source string, ok bool) {
	if m == nil {
		return
	}
	if source == "" {
		source = "none"
	}
	m.invocationsTotal.WithLabelValues(source, outcome(ok)).Inc()
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
