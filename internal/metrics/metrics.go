package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics for the decision service.
type Registry struct {
	*prometheus.Registry

	signalsGenerated  *prometheus.CounterVec
	ordersEvaluated   *prometheus.CounterVec
	blocksByCheck     *prometheus.CounterVec
	breakerTrips      *prometheus.CounterVec
	breakerActive     prometheus.Gauge
	evalCycles        prometheus.Counter
	evalDuration      prometheus.Histogram
	trailingStopMoves prometheus.Counter
	trailingTriggers  prometheus.Counter
	trackedPositions  prometheus.Gauge
	accountEquity     prometheus.Gauge
}

// NewRegistry creates a metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		signalsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decision_signals_generated_total",
				Help: "Total number of signals generated",
			},
			[]string{"strategy", "direction", "regime"},
		),
		ordersEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decision_orders_evaluated_total",
				Help: "Total number of risk evaluations by decision",
			},
			[]string{"decision"},
		),
		blocksByCheck: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decision_blocks_total",
				Help: "Total number of blocked orders by failing check",
			},
			[]string{"check"},
		),
		breakerTrips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decision_circuit_breaker_trips_total",
				Help: "Total number of circuit breaker trips by type",
			},
			[]string{"type"},
		),
		breakerActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "decision_circuit_breaker_active",
				Help: "Whether the circuit breaker currently blocks trading",
			},
		),
		evalCycles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "decision_eval_cycles_total",
				Help: "Total number of completed evaluation cycles",
			},
		),
		evalDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "decision_eval_duration_seconds",
				Help:    "Evaluation cycle duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		trailingStopMoves: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "decision_trailing_stop_moves_total",
				Help: "Total number of trailing stop tightenings",
			},
		),
		trailingTriggers: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "decision_trailing_stop_triggers_total",
				Help: "Total number of trailing stop triggers",
			},
		),
		trackedPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "decision_tracked_positions",
				Help: "Number of positions with an active trailing stop",
			},
		),
		accountEquity: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "decision_account_equity_dollars",
				Help: "Latest merged account equity",
			},
		),
	}

	reg.MustRegister(r.signalsGenerated)
	reg.MustRegister(r.ordersEvaluated)
	reg.MustRegister(r.blocksByCheck)
	reg.MustRegister(r.breakerTrips)
	reg.MustRegister(r.breakerActive)
	reg.MustRegister(r.evalCycles)
	reg.MustRegister(r.evalDuration)
	reg.MustRegister(r.trailingStopMoves)
	reg.MustRegister(r.trailingTriggers)
	reg.MustRegister(r.trackedPositions)
	reg.MustRegister(r.accountEquity)

	return r
}

// RecordSignal records a generated signal.
func (r *Registry) RecordSignal(strategy, direction, regime string) {
	r.signalsGenerated.WithLabelValues(strategy, direction, regime).Inc()
}

// RecordEvaluation records a risk decision; blocked orders also count
// against the failing check.
func (r *Registry) RecordEvaluation(decision, failedCheck string) {
	r.ordersEvaluated.WithLabelValues(decision).Inc()
	if failedCheck != "" {
		r.blocksByCheck.WithLabelValues(failedCheck).Inc()
	}
}

// RecordBreakerTrip records a circuit breaker trip.
func (r *Registry) RecordBreakerTrip(breakerType string) {
	r.breakerTrips.WithLabelValues(breakerType).Inc()
}

// SetBreakerActive reflects whether the breaker blocks trading.
func (r *Registry) SetBreakerActive(active bool) {
	if active {
		r.breakerActive.Set(1)
	} else {
		r.breakerActive.Set(0)
	}
}

// RecordEvalCycle records a completed evaluation cycle.
func (r *Registry) RecordEvalCycle(duration float64) {
	r.evalCycles.Inc()
	r.evalDuration.Observe(duration)
}

// RecordTrailingMoves records stop tightenings from one update pass.
func (r *Registry) RecordTrailingMoves(n int) {
	r.trailingStopMoves.Add(float64(n))
}

// RecordTrailingTrigger records a stop trigger.
func (r *Registry) RecordTrailingTrigger() {
	r.trailingTriggers.Inc()
}

// SetTrackedPositions sets the trailing-stop position gauge.
func (r *Registry) SetTrackedPositions(n int) {
	r.trackedPositions.Set(float64(n))
}

// SetAccountEquity sets the merged equity gauge.
func (r *Registry) SetAccountEquity(equity float64) {
	r.accountEquity.Set(equity)
}
