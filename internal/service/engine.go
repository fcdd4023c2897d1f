// Package service wires the decision pipeline together: bars in,
// signals generated, risk-admitted orders out, trailing stops
// maintained on their own cadence.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/algomatic/decision-service/internal/metrics"
	"github.com/algomatic/decision-service/internal/redisbus"
	"github.com/algomatic/decision-service/pkg/risk"
	"github.com/algomatic/decision-service/pkg/signal"
	"github.com/algomatic/decision-service/pkg/trailing"
	"github.com/algomatic/decision-service/pkg/types"
)

// BarProvider supplies the bar window for a symbol.
type BarProvider interface {
	RecentBars(ctx context.Context, symbol string, timeframe types.Timeframe, limit int) ([]types.PriceBar, error)
}

// AccountProvider supplies the merged account snapshot.
type AccountProvider interface {
	Snapshot(ctx context.Context) (risk.AccountSnapshot, error)
}

// RiskStateStore persists the risk ledger.
type RiskStateStore interface {
	Load(ctx context.Context, accountID string, startingEquity string, now time.Time) (*risk.State, error)
	Save(ctx context.Context, accountID string, s *risk.State) error
}

// SignalStore persists generated signals.
type SignalStore interface {
	InsertSignal(ctx context.Context, s *types.Signal) error
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// EvaluationStore persists admission decisions.
type EvaluationStore interface {
	InsertEvaluation(ctx context.Context, accountID, signalID string, ev risk.Evaluation, at time.Time) error
}

// Publisher pushes events onto the bus.
type Publisher interface {
	Publish(ctx context.Context, event *redisbus.Event) error
}

// Config holds the engine's operational parameters.
type Config struct {
	Symbols []string
	// AssetClasses maps symbols to their class; unmapped symbols are
	// treated as futures.
	AssetClasses map[string]types.AssetClass
	Timeframe    types.Timeframe
	BarWindow    int

	AccountID      string
	StartingEquity string

	EvalInterval     time.Duration
	TrailingInterval time.Duration

	// DailyResetHourUTC is the session-open hour for daily resets;
	// weekly resets fire at the same hour on Mondays.
	DailyResetHourUTC int
}

// Engine drives the evaluation, trailing and reset loops.
type Engine struct {
	cfg Config

	signals   *signal.Manager
	risk      *risk.Manager
	trailing  *trailing.Manager
	bars      BarProvider
	accounts  AccountProvider
	states    RiskStateStore
	sigStore  SignalStore
	evalStore EvaluationStore
	publisher Publisher
	feed      *redisbus.PriceFeed
	metrics   *metrics.Registry
	logger    *slog.Logger

	// evalMu serializes the risk read-modify-write per engine instance;
	// one engine owns one account.
	evalMu sync.Mutex
}

// NewEngine assembles the engine from its collaborators.
func NewEngine(
	cfg Config,
	signals *signal.Manager,
	riskMgr *risk.Manager,
	trailingMgr *trailing.Manager,
	bars BarProvider,
	accounts AccountProvider,
	states RiskStateStore,
	sigStore SignalStore,
	evalStore EvaluationStore,
	publisher Publisher,
	feed *redisbus.PriceFeed,
	reg *metrics.Registry,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:       cfg,
		signals:   signals,
		risk:      riskMgr,
		trailing:  trailingMgr,
		bars:      bars,
		accounts:  accounts,
		states:    states,
		sigStore:  sigStore,
		evalStore: evalStore,
		publisher: publisher,
		feed:      feed,
		metrics:   reg,
		logger:    logger,
	}
}

// Metrics exposes the engine's registry for the metrics endpoint.
func (e *Engine) Metrics() *metrics.Registry { return e.metrics }

// RunPriceFeed consumes price ticks into the live price view until
// ctx is cancelled.
func (e *Engine) RunPriceFeed(ctx context.Context, bus *redisbus.Bus) error {
	return e.feed.Run(ctx, bus)
}

// RunEvalLoop evaluates all symbols on the configured cadence until
// ctx is cancelled. The first cycle runs immediately.
func (e *Engine) RunEvalLoop(ctx context.Context) {
	e.logger.Info("Starting evaluation loop",
		"symbols", e.cfg.Symbols, "interval", e.cfg.EvalInterval)

	e.RunCycle(ctx, time.Now().UTC())

	ticker := time.NewTicker(e.cfg.EvalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Evaluation loop stopped")
			return
		case t := <-ticker.C:
			e.RunCycle(ctx, t.UTC())
		}
	}
}

// RunCycle performs one full evaluation pass: expire stale signals,
// snapshot the account, then generate and risk-admit per symbol.
func (e *Engine) RunCycle(ctx context.Context, now time.Time) {
	start := time.Now()

	if n, err := e.sigStore.ExpireStale(ctx, now); err != nil {
		e.logger.Error("Failed to expire stale signals", "error", err)
	} else if n > 0 {
		e.logger.Info("Expired stale signals", "count", n)
	}

	account, err := e.accounts.Snapshot(ctx)
	if err != nil {
		e.logger.Error("Account snapshot unavailable, skipping cycle", "error", err)
		return
	}
	equity, _ := account.TotalEquity.Float64()
	e.metrics.SetAccountEquity(equity)

	for _, symbol := range e.cfg.Symbols {
		select {
		case <-ctx.Done():
			return
		default:
		}
		e.evaluateSymbol(ctx, symbol, account, now)
	}

	e.metrics.RecordEvalCycle(time.Since(start).Seconds())
}

func (e *Engine) evaluateSymbol(ctx context.Context, symbol string, account risk.AccountSnapshot, now time.Time) {
	bars, err := e.bars.RecentBars(ctx, symbol, e.cfg.Timeframe, e.cfg.BarWindow)
	if err != nil {
		e.logger.Error("Failed to load bars", "symbol", symbol, "error", err)
		return
	}

	signals := e.signals.GenerateSignals(signal.Input{
		Symbol:     symbol,
		AssetClass: e.assetClass(symbol),
		Timeframe:  e.cfg.Timeframe,
		Bars:       bars,
		Now:        now,
	})
	if len(signals) == 0 {
		return
	}

	for i := range signals {
		sig := &signals[i]
		e.metrics.RecordSignal(sig.Source, string(sig.Direction), string(sig.Regime))

		if err := e.sigStore.InsertSignal(ctx, sig); err != nil {
			e.logger.Error("Failed to store signal", "signal_id", sig.ID, "error", err)
		}
		e.publish(ctx, redisbus.NewEvent(redisbus.EventSignalGenerated, map[string]any{
			"signal_id":    sig.ID,
			"symbol":       sig.Symbol,
			"direction":    string(sig.Direction),
			"strength":     sig.Strength,
			"entry_price":  sig.EntryPrice,
			"stop_loss":    sig.StopLoss,
			"regime":       string(sig.Regime),
			"source":       sig.Source,
			"generated_at": sig.Timestamp,
		}))

		e.admit(ctx, sig, account, now)
	}
}

// admit runs the serialized risk read-modify-write for one signal.
func (e *Engine) admit(ctx context.Context, sig *types.Signal, account risk.AccountSnapshot, now time.Time) {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()

	state, err := e.states.Load(ctx, e.cfg.AccountID, e.cfg.StartingEquity, now)
	if err != nil {
		e.logger.Error("Failed to load risk state", "error", err)
		return
	}

	// Persist an observed cooldown expiry so later reads stop
	// re-deriving it from the timestamp.
	if state.BreakerExpired(now) {
		state.ResetBreaker(now)
		e.logger.Info("Circuit breaker cooldown lapsed, reset persisted")
	}

	wasTripped := state.CircuitBreakerTriggered
	ev, err := e.risk.EvaluateOrder(sig, account, state, now)
	if err != nil {
		e.logger.Error("Risk evaluation failed", "signal_id", sig.ID, "error", err)
		return
	}

	if err := e.states.Save(ctx, e.cfg.AccountID, state); err != nil {
		// A lost save means another writer raced us; drop the decision
		// rather than act on stale state.
		e.logger.Error("Failed to save risk state, discarding decision",
			"signal_id", sig.ID, "error", err)
		return
	}

	if err := e.evalStore.InsertEvaluation(ctx, e.cfg.AccountID, sig.ID, ev, now); err != nil {
		e.logger.Error("Failed to store evaluation", "signal_id", sig.ID, "error", err)
	}

	e.metrics.SetBreakerActive(state.BreakerActive(now))
	if !wasTripped && state.CircuitBreakerTriggered {
		e.metrics.RecordBreakerTrip(string(state.CircuitBreakerType))
		e.publish(ctx, redisbus.NewEvent(redisbus.EventCircuitBreakerTripped, map[string]any{
			"account_id": e.cfg.AccountID,
			"type":       string(state.CircuitBreakerType),
			"reason":     state.CircuitBreakerReason,
		}))
	}

	if ev.Decision == risk.Allow {
		e.metrics.RecordEvaluation(string(ev.Decision), "")
		qty, _ := ev.Quantity.Float64()
		e.publish(ctx, redisbus.NewEvent(redisbus.EventOrderAllowed, map[string]any{
			"signal_id":   sig.ID,
			"symbol":      sig.Symbol,
			"direction":   string(sig.Direction),
			"quantity":    qty,
			"entry_price": sig.EntryPrice,
			"stop_loss":   sig.StopLoss,
			"warnings":    warningsPayload(ev.Warnings),
		}))
		if err := e.trailing.AddPosition(sig.ID, sig.Symbol, sig.Direction, sig.EntryPrice, sig.StopLoss); err != nil {
			e.logger.Error("Failed to track trailing stop", "signal_id", sig.ID, "error", err)
		}
		e.metrics.SetTrackedPositions(len(e.trailing.GetAllStops()))
		return
	}

	failed := ""
	for _, c := range ev.Checks {
		if !c.Passed {
			failed = c.Name
		}
	}
	e.metrics.RecordEvaluation(string(ev.Decision), failed)
	e.publish(ctx, redisbus.NewEvent(redisbus.EventOrderBlocked, map[string]any{
		"signal_id": sig.ID,
		"symbol":    sig.Symbol,
		"reason":    ev.Reason,
		"check":     failed,
	}))
}

// RunTrailingLoop moves trailing stops on their own cadence, firing
// trigger events when a price crosses its stop.
func (e *Engine) RunTrailingLoop(ctx context.Context) {
	e.logger.Info("Starting trailing stop loop", "interval", e.cfg.TrailingInterval)

	ticker := time.NewTicker(e.cfg.TrailingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Trailing stop loop stopped")
			return
		case <-ticker.C:
			e.trailingPass(ctx)
		}
	}
}

func (e *Engine) trailingPass(ctx context.Context) {
	prices := e.feed.Snapshot()
	if len(prices) == 0 {
		return
	}

	changed := e.trailing.UpdateStops(prices)
	e.metrics.RecordTrailingMoves(len(changed))
	for _, id := range changed {
		stop, _ := e.trailing.GetStopLevel(id)
		e.publish(ctx, redisbus.NewEvent(redisbus.EventTrailingStopMoved, map[string]any{
			"position_id": id,
			"stop":        stop,
		}))
	}

	for id, entry := range e.trailing.GetAllStops() {
		price, ok := prices[entry.Symbol]
		if !ok {
			continue
		}
		if e.trailing.CheckTrigger(id, price) {
			e.metrics.RecordTrailingTrigger()
			e.publish(ctx, redisbus.NewEvent(redisbus.EventTrailingStopTriggered, map[string]any{
				"position_id": id,
				"symbol":      entry.Symbol,
				"side":        string(entry.Side),
				"stop":        entry.CurrentStop,
				"price":       price,
			}))
			e.trailing.RemovePosition(id)
		}
	}
	e.metrics.SetTrackedPositions(len(e.trailing.GetAllStops()))
}

// RunResetScheduler fires daily and weekly ledger resets at the
// configured session-open hour. Weekly resets run on Mondays, after
// the daily reset.
func (e *Engine) RunResetScheduler(ctx context.Context) {
	e.logger.Info("Starting reset scheduler", "hour_utc", e.cfg.DailyResetHourUTC)

	for {
		next := nextResetTime(time.Now().UTC(), e.cfg.DailyResetHourUTC)
		select {
		case <-ctx.Done():
			e.logger.Info("Reset scheduler stopped")
			return
		case <-time.After(time.Until(next)):
			e.applyResets(ctx, next)
		}
	}
}

func (e *Engine) applyResets(ctx context.Context, now time.Time) {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()

	state, err := e.states.Load(ctx, e.cfg.AccountID, e.cfg.StartingEquity, now)
	if err != nil {
		e.logger.Error("Failed to load risk state for reset", "error", err)
		return
	}

	account, err := e.accounts.Snapshot(ctx)
	equity := state.CurrentEquity
	if err == nil {
		equity = account.TotalEquity
	} else {
		e.logger.Warn("Account snapshot unavailable at reset, using last known equity", "error", err)
	}

	state.ResetDaily(equity, now)
	if now.Weekday() == time.Monday {
		state.ResetWeekly(equity, now)
	}

	if err := e.states.Save(ctx, e.cfg.AccountID, state); err != nil {
		e.logger.Error("Failed to persist ledger reset", "error", err)
		return
	}
	e.logger.Info("Ledger reset applied", "weekly", now.Weekday() == time.Monday)
}

func (e *Engine) assetClass(symbol string) types.AssetClass {
	if c, ok := e.cfg.AssetClasses[symbol]; ok {
		return c
	}
	return types.AssetFutures
}

func (e *Engine) publish(ctx context.Context, event *redisbus.Event) {
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Error("Failed to publish event", "event_type", event.EventType, "error", err)
	}
}

// nextResetTime returns the next occurrence of the reset hour strictly
// after now.
func nextResetTime(now time.Time, hourUTC int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func warningsPayload(warnings []string) []any {
	out := make([]any, len(warnings))
	for i, w := range warnings {
		out[i] = w
	}
	return out
}
