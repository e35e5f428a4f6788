// Package metrics exposes Prometheus instrumentation for Switchboard.
//
// Each Metrics owns its own registry, so tests and multiple servers in one
// process never collide on collector registration.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/switchboard/internal/device"
)

const namespace = "switchboard"

// Metrics holds the collectors scraped at /api/v1/metrics/prometheus.
type Metrics struct {
	registry *prometheus.Registry

	requestTiming *prometheus.SummaryVec
	requestCount  *prometheus.CounterVec
	errorCounter  *prometheus.CounterVec
	stateChanges  *prometheus.CounterVec
}

// New creates and registers the collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestTiming: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Namespace:  namespace,
				Name:       "http_request_duration_seconds",
				Help:       "HTTP request latency by route.",
				Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
			},
			[]string{"method", "route"},
		),
		requestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code.",
			},
			[]string{"method", "route", "status"},
		),
		errorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Errors returned to clients by error code.",
			},
			[]string{"code"},
		),
		stateChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "device_state_changes_total",
				Help:      "Committed device state changes by device and source.",
			},
			[]string{"device", "source"},
		),
	}

	m.registry.MustRegister(
		m.requestTiming,
		m.requestCount,
		m.errorCounter,
		m.stateChanges,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, started time.Time) {
	m.requestTiming.WithLabelValues(method, route).Observe(time.Since(started).Seconds())
	m.requestCount.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// ErrorCounter counts an error response by its code.
func (m *Metrics) ErrorCounter(code string) {
	m.errorCounter.WithLabelValues(code).Inc()
}

// OnStateChange counts a committed device change.
func (m *Metrics) OnStateChange(_ context.Context, change device.StateChange) error {
	m.stateChanges.WithLabelValues(change.Device.Name, change.Source).Inc()
	return nil
}
