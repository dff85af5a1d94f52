// Package metrics exposes translation and storage counters in Prometheus
// format. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "linguachat"

// Outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// Request kinds.
const (
	KindOne   = "one"
	KindBatch = "batch"
)

type Metrics struct {
	registry *prometheus.Registry

	TranslationRequests *prometheus.CounterVec
	TranslationDuration *prometheus.HistogramVec
	TranslationInflight prometheus.Gauge
	StoreWrites         *prometheus.CounterVec
	Conversations       prometheus.Gauge
}

// New registers every collector on a private registry so that separate
// instances (and tests) never collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		TranslationRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "translation",
				Name:      "requests_total",
				Help:      "Outbound translation requests by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		TranslationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "translation",
				Name:      "duration_seconds",
				Help:      "Outbound translation latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"kind"},
		),
		TranslationInflight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "translation",
				Name:      "inflight",
				Help:      "Outbound translation requests currently pending",
			},
		),
		StoreWrites: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "writes_total",
				Help:      "Durable collection writes by outcome",
			},
			[]string{"outcome"},
		),
		Conversations: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "conversations",
				Help:      "Conversations in the last persisted collection",
			},
		),
	}
}

func (m *Metrics) ObserveTranslation(kind, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.TranslationRequests.WithLabelValues(kind, outcome).Inc()
	m.TranslationDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

func (m *Metrics) InflightInc() {
	if m != nil {
		m.TranslationInflight.Inc()
	}
}

func (m *Metrics) InflightDec() {
	if m != nil {
		m.TranslationInflight.Dec()
	}
}

func (m *Metrics) StoreWrite(outcome string, count int) {
	if m == nil {
		return
	}
	m.StoreWrites.WithLabelValues(outcome).Inc()
	m.Conversations.Set(float64(count))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
