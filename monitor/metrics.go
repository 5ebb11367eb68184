// Package monitor exposes Prometheus metrics for printer status queries.
package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Probe outcomes.
const (
	OutcomeReply     = "reply"
	OutcomeTimeout   = "timeout"
	OutcomeMalformed = "malformed"
	OutcomeError     = "error"
)

// Metrics groups the collectors updated by the detection engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Probes        *prometheus.CounterVec
	SessionOpens  prometheus.Counter
	SessionErrors *prometheus.CounterVec
	QueryDuration prometheus.Histogram
	CanPrint      *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escpos_probe_total",
			Help: "Status commands sent, by command and outcome.",
		}, []string{"command", "outcome"}),
		SessionOpens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "escpos_session_opens_total",
			Help: "Transport sessions opened.",
		}),
		SessionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escpos_session_errors_total",
			Help: "Transport failures that tore a session down, by kind.",
		}, []string{"kind"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "escpos_query_duration_seconds",
			Help:    "Wall time of a full status query.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 3, 5, 8},
		}),
		CanPrint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "escpos_can_print",
			Help: "1 when the last query for the endpoint allowed printing.",
		}, []string{"endpoint"}),
	}

	m.registry.MustRegister(m.Probes, m.SessionOpens, m.SessionErrors, m.QueryDuration, m.CanPrint)

	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveProbe(command, outcome string) {
	if m == nil {
		return
	}
	m.Probes.WithLabelValues(command, outcome).Inc()
}

func (m *Metrics) ObserveSessionOpen() {
	if m == nil {
		return
	}
	m.SessionOpens.Inc()
}

func (m *Metrics) ObserveSessionError(kind string) {
	if m == nil {
		return
	}
	m.SessionErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveQuery(endpoint string, elapsed time.Duration, canPrint bool) {
	if m == nil {
		return
	}
	m.QueryDuration.Observe(elapsed.Seconds())
	v := 0.0
	if canPrint {
		v = 1
	}
	m.CanPrint.WithLabelValues(endpoint).Set(v)
}
