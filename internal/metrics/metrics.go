// Package metrics holds the Prometheus collectors for the reservation
// lifecycle and the completion scheduler.  A nil *Metrics is valid and
// records nothing, so tests and tools can skip instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cycle"

// Metrics groups every collector the service exports.
type Metrics struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	registryFails *prometheus.CounterVec
	ticks         prometheus.Counter
	tickFailures  prometheus.Counter
	tickDuration  prometheus.Histogram
	dueEntries    prometheus.Gauge
	reconciled    prometheus.Counter
	httpRequests  *prometheus.CounterVec
}

// New builds a registry with the Go and process collectors plus the
// lifecycle collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_transitions_total",
			Help:      "Reservation lifecycle transitions by kind (created, extended, cancelled, completed) and source.",
		}, []string{"kind", "source"}),
		registryFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_registry_errors_total",
			Help:      "Failed writes to the completion registry by operation.",
		}, []string{"op"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Completion scheduler ticks.",
		}),
		tickFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_entry_failures_total",
			Help:      "Due entries left in place because completion failed.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_tick_duration_seconds",
			Help:      "Completion scheduler tick latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		dueEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_due_entries",
			Help:      "Due entries seen by the last tick.",
		}),
		reconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_reconciled_entries_total",
			Help:      "Completion entries re-registered by reconciliation.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions, m.registryFails, m.ticks, m.tickFailures,
		m.tickDuration, m.dueEntries, m.reconciled, m.httpRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Transition counts a lifecycle transition by kind and by the caller that
// caused it.
func (m *Metrics) Transition(kind, source string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind, source).Inc()
}

// RegistryError counts a failed completion registry write.
func (m *Metrics) RegistryError(op string) {
	if m == nil {
		return
	}
	m.registryFails.WithLabelValues(op).Inc()
}

// Tick records one scheduler pass.
func (m *Metrics) Tick(elapsed time.Duration, due, failures int) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(elapsed.Seconds())
	m.dueEntries.Set(float64(due))
	m.tickFailures.Add(float64(failures))
}

// Reconciled counts entries restored by a sweep.
func (m *Metrics) Reconciled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reconciled.Add(float64(n))
}

// Request counts one served HTTP request.
func (m *Metrics) Request(method, route, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, code).Inc()
}
