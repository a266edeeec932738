// Package metrics exposes Prometheus collectors for the stock watcher.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Probe outcomes.
const (
	OutcomeInStock    = "in_stock"
	OutcomeOutOfStock = "out_of_stock"
	OutcomeError      = "error"
	OutcomeSkipped    = "skipped"
)

// Metrics holds every collector on a private registry so tests can build
// their own instance. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	probes        *prometheus.CounterVec
	probeDuration prometheus.Histogram
	transitions   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	active        prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		probes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockwatch_probes_total",
			Help: "Probe cycles, labeled by outcome.",
		}, []string{"outcome"}),
		probeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockwatch_probe_duration_seconds",
			Help:    "Histogram of availability probe latencies.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockwatch_status_transitions_total",
			Help: "Observed status changes, labeled by the new status.",
		}, []string{"status"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockwatch_notifications_total",
			Help: "Notifications handed to the transport, labeled by result.",
		}, []string{"result"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Name: "stockwatch_active_subscriptions",
			Help: "Subscriptions with a live schedule.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) ObserveProbe(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(outcome).Inc()
	if seconds > 0 {
		m.probeDuration.Observe(seconds)
	}
}

func (m *Metrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveNotification(err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) SetActiveSubscriptions(n int) {
	if m == nil {
		return
	}
	m.active.Set(float64(n))
}
