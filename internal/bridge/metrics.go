package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the engine. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// Events dropped before reaching the registry, by reason.
	Dropped *prometheus.CounterVec

	// Registry outcomes by outcome and island type.
	Outcomes *prometheus.CounterVec

	// Evictions by limit mode.
	Evictions *prometheus.CounterVec

	Removals prometheus.Counter

	// Sink errors by operation ("post", "cancel").
	SinkErrors *prometheus.CounterVec

	Active prometheus.Gauge

	TranslateLatency prometheus.Histogram
}

// NewMetrics registers the engine metrics with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperbridge_events_dropped_total",
			Help: "Posted notifications dropped before admission, by reason",
		}, []string{"reason"}),

		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperbridge_island_outcomes_total",
			Help: "Registry admission outcomes by outcome and island type",
		}, []string{"outcome", "type"}),

		Evictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperbridge_island_evictions_total",
			Help: "Islands evicted to make room, by limit mode",
		}, []string{"mode"}),

		Removals: f.NewCounter(prometheus.CounterOpts{
			Name: "hyperbridge_island_removals_total",
			Help: "Islands removed because the source notification went away",
		}),

		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperbridge_sink_errors_total",
			Help: "Sink calls that returned an error, by operation",
		}, []string{"op"}),

		Active: f.NewGauge(prometheus.GaugeOpts{
			Name: "hyperbridge_islands_active",
			Help: "Islands currently displayed",
		}),

		TranslateLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hyperbridge_translate_duration_seconds",
			Help:    "Duration of payload translation",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025},
		}),
	}
}

func (m *Metrics) drop(reason DropReason) {
	if m != nil {
		m.Dropped.WithLabelValues(string(reason)).Inc()
	}
}

func (m *Metrics) outcome(outcome, typ string) {
	if m != nil {
		m.Outcomes.WithLabelValues(outcome, typ).Inc()
	}
}

func (m *Metrics) evicted(mode string) {
	if m != nil {
		m.Evictions.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) removed() {
	if m != nil {
		m.Removals.Inc()
	}
}

func (m *Metrics) sinkError(op string) {
	if m != nil {
		m.SinkErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) setActive(n int) {
	if m != nil {
		m.Active.Set(float64(n))
	}
}

func (m *Metrics) observeTranslate(d time.Duration) {
	if m != nil {
		m.TranslateLatency.Observe(d.Seconds())
	}
}
