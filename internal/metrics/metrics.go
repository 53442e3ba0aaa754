package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exposes the engine's counters and gauges to Prometheus.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry     *prometheus.Registry
	ticks        *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	orders       *prometheus.CounterVec
	exits        *prometheus.CounterVec
	buySignals   *prometheus.GaugeVec
	lastPrice    *prometheus.GaugeVec
	dailyPnL     *prometheus.GaugeVec
	positionOpen *prometheus.GaugeVec
	tickLatency  *prometheus.HistogramVec
}

// New creates a recorder with its own registry, so several engines or tests never collide.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		ticks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalbot_ticks_total",
				Help: "Total number of completed decision cycles",
			},
			[]string{"symbol"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalbot_errors_total",
				Help: "Total number of failed decision cycles",
			},
			[]string{"symbol", "kind"},
		),
		orders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalbot_orders_total",
				Help: "Market orders by side and outcome",
			},
			[]string{"symbol", "side", "outcome"},
		),
		exits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalbot_exits_total",
				Help: "Position exits by reason",
			},
			[]string{"symbol", "reason"},
		),
		buySignals: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalbot_buy_signals",
				Help: "Number of timeframes with a buy signal in the last cycle",
			},
			[]string{"symbol"},
		),
		lastPrice: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalbot_last_price",
				Help: "Last observed price",
			},
			[]string{"symbol"},
		),
		dailyPnL: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalbot_daily_pnl_ratio",
				Help: "Cumulative realized P&L of the day as a fraction of reference capital",
			},
			[]string{"symbol"},
		),
		positionOpen: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalbot_position_open",
				Help: "1 while a position is open",
			},
			[]string{"symbol"},
		),
		tickLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalbot_tick_duration_seconds",
				Help:    "Duration of decision cycles in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"symbol"},
		),
	}
}

// RecordTick records one completed cycle.
func (r *Recorder) RecordTick(symbol string, price float64, buySignals int, seconds float64) {
	if r == nil {
		return
	}
	r.ticks.WithLabelValues(symbol).Inc()
	r.lastPrice.WithLabelValues(symbol).Set(price)
	r.buySignals.WithLabelValues(symbol).Set(float64(buySignals))
	r.tickLatency.WithLabelValues(symbol).Observe(seconds)
}

// RecordError records a failed cycle.
func (r *Recorder) RecordError(symbol, kind string) {
	if r == nil {
		return
	}
	r.errorsTotal.WithLabelValues(symbol, kind).Inc()
}

// RecordOrder records a submitted order; outcome is "filled" or "failed".
func (r *Recorder) RecordOrder(symbol, side, outcome string) {
	if r == nil {
		return
	}
	r.orders.WithLabelValues(symbol, side, outcome).Inc()
}

// RecordExit records an exit decision that was filled.
func (r *Recorder) RecordExit(symbol, reason string) {
	if r == nil {
		return
	}
	r.exits.WithLabelValues(symbol, reason).Inc()
}

// SetDailyPnL sets the daily P&L gauge.
func (r *Recorder) SetDailyPnL(symbol string, pct float64) {
	if r == nil {
		return
	}
	r.dailyPnL.WithLabelValues(symbol).Set(pct)
}

// SetPositionOpen sets the position gauge.
func (r *Recorder) SetPositionOpen(symbol string, open bool) {
	if r == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	r.positionOpen.WithLabelValues(symbol).Set(v)
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the recorder's metrics.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
