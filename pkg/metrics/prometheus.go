package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	successRatio  prometheus.Gauge
	resolved      prometheus.Counter
	failures      *prometheus.CounterVec
	attempts      *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
}

// New registers the updater metrics on reg. A nil reg uses the default
// registry, which is what /metrics serves.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricesheet_cycles_total",
				Help: "Update cycles by result (success, failed, skipped)",
			},
			[]string{"result"},
		),
		cycleDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pricesheet_cycle_duration_seconds",
				Help:    "Wall time of one update cycle",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		successRatio: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricesheet_cycle_success_ratio",
				Help: "Share of requested tickers resolved in the last cycle (0-1)",
			},
		),
		resolved: f.NewCounter(
			prometheus.CounterOpts{
				Name: "pricesheet_prices_resolved_total",
				Help: "Prices resolved and written",
			},
		),
		failures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricesheet_price_failures_total",
				Help: "Tickers that ended a cycle without a price",
			},
			[]string{"ticker"},
		),
		attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricesheet_fetch_attempts_total",
				Help: "Provider lookups by outcome",
			},
			[]string{"result"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pricesheet_last_price",
				Help: "Last resolved price for a ticker",
			},
			[]string{"ticker"},
		),
	}
}

// RecordCycle records a finished cycle. successRatio is in [0, 1].
func (r *Recorder) RecordCycle(result string, seconds, successRatio float64) {
	r.cycles.WithLabelValues(result).Inc()
	if seconds > 0 {
		r.cycleDuration.Observe(seconds)
	}
	r.successRatio.Set(successRatio)
}

// RecordPrice records a resolved price.
func (r *Recorder) RecordPrice(ticker string, price float64) {
	r.resolved.Inc()
	r.lastPrice.WithLabelValues(ticker).Set(price)
}

// RecordPriceFailure records a ticker left without a price.
func (r *Recorder) RecordPriceFailure(ticker string) {
	r.failures.WithLabelValues(ticker).Inc()
}

// RecordFetchAttempt records one provider lookup outcome.
func (r *Recorder) RecordFetchAttempt(result string) {
	r.attempts.WithLabelValues(result).Inc()
}
