// Package signal orchestrates regime detection, session/volatility
// filtering and the strategy engines, merging their output into at most
// one long and one short candidate per symbol.
package signal

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/algomatic/decision-service/pkg/regime"
	"github.com/algomatic/decision-service/pkg/strategy"
	"github.com/algomatic/decision-service/pkg/types"
)

// TradingWindow is an allowed session window in UTC, minutes from midnight.
// Windows wrapping midnight (Start > End) are supported.
type TradingWindow struct {
	Start int // inclusive, minutes from 00:00 UTC
	End   int // exclusive
}

// Contains reports whether the instant falls inside the window.
func (w TradingWindow) Contains(t time.Time) bool {
	m := t.UTC().Hour()*60 + t.UTC().Minute()
	if w.Start <= w.End {
		return m >= w.Start && m < w.End
	}
	return m >= w.Start || m < w.End
}

// Config holds the manager's filter and combination settings.
type Config struct {
	MaxSignalsPerSymbol int     // default 2
	MinStrength         float64 // global floor applied after generation, default 0.3

	TimeFilterEnabled bool
	// TradingWindows maps asset class to its allowed UTC session windows.
	// An asset class with no windows configured is always tradable.
	TradingWindows map[types.AssetClass][]TradingWindow

	VolatilityFilterEnabled bool
}

func (c Config) withDefaults() Config {
	if c.MaxSignalsPerSymbol <= 0 {
		c.MaxSignalsPerSymbol = 2
	}
	if c.MinStrength <= 0 {
		c.MinStrength = 0.3
	}
	return c
}

// DefaultTradingWindows returns the stock session map: equities trade the
// 13:30-20:00 UTC cash session, futures almost around the clock with the
// 21:00-22:00 UTC maintenance break.
func DefaultTradingWindows() map[types.AssetClass][]TradingWindow {
	return map[types.AssetClass][]TradingWindow{
		types.AssetEquities: {{Start: 13*60 + 30, End: 20 * 60}},
		types.AssetFutures:  {{Start: 22 * 60, End: 21 * 60}},
	}
}

// Input is one generation request.
type Input struct {
	Symbol     string
	AssetClass types.AssetClass
	Timeframe  types.Timeframe
	Bars       []types.PriceBar
	Now        time.Time // evaluation instant for the time filter
}

// Manager runs the signal pipeline. Strategies are invoked in priority
// order; that order is also the tie-break when two engines propose
// equal-strength signals in the same direction. Regime detectors are
// held per symbol because the ATR percentile history only makes sense
// against one instrument's own price scale.
type Manager struct {
	cfg         Config
	detectorCfg regime.Config
	detectors   map[string]*regime.Detector
	strategies  []strategy.Strategy
	logger      *slog.Logger
}

// NewManager creates a Manager. The strategies slice is the priority
// order used for tie-breaking; pass momentum first, then breakout, then
// mean reversion for the stock configuration.
func NewManager(cfg Config, detectorCfg regime.Config, strategies []strategy.Strategy, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:         cfg.withDefaults(),
		detectorCfg: detectorCfg,
		detectors:   make(map[string]*regime.Detector),
		strategies:  strategies,
		logger:      logger,
	}
}

// detectorFor returns the symbol's detector, creating it on first use.
func (m *Manager) detectorFor(symbol string) *regime.Detector {
	d, ok := m.detectors[symbol]
	if !ok {
		d = regime.NewDetector(m.detectorCfg)
		m.detectors[symbol] = d
	}
	return d
}

// GenerateSignals runs the full pipeline: regime detection, session and
// volatility filters, eligible strategies, strength floor, per-direction
// combination and truncation to MaxSignalsPerSymbol.
func (m *Manager) GenerateSignals(in Input) []types.Signal {
	detection := m.detectorFor(in.Symbol).Detect(in.Bars)

	if m.cfg.TimeFilterEnabled && !m.insideTradingWindow(in.AssetClass, in.Now) {
		m.logger.Debug("Time filter blocked signal generation",
			"symbol", in.Symbol, "asset_class", in.AssetClass, "at", in.Now)
		return nil
	}

	var candidates []types.Signal
	for _, strat := range m.strategies {
		if m.cfg.VolatilityFilterEnabled &&
			detection.Regime == types.RegimeHighVolatility &&
			strat.Name() != "momentum" {
			// Only momentum targets volatility breakouts; the rest are
			// unsafe in a high-volatility tape.
			continue
		}
		if !prefersRegime(strat, detection.Regime) {
			continue
		}

		out := strat.Generate(strategy.Input{
			Symbol:     in.Symbol,
			AssetClass: in.AssetClass,
			Timeframe:  in.Timeframe,
			Bars:       in.Bars,
			Regime:     detection.Regime,
		})
		candidates = append(candidates, out...)
	}

	// Global strength floor.
	kept := candidates[:0]
	for _, sig := range candidates {
		if sig.Strength >= m.cfg.MinStrength {
			kept = append(kept, sig)
		}
	}

	combined := combineByDirection(kept)

	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].Strength > combined[j].Strength
	})
	if len(combined) > m.cfg.MaxSignalsPerSymbol {
		combined = combined[:m.cfg.MaxSignalsPerSymbol]
	}

	for _, sig := range combined {
		m.logger.Info("Signal generated",
			"symbol", sig.Symbol,
			"direction", sig.Direction,
			"strength", fmt.Sprintf("%.2f", sig.Strength),
			"source", sig.Source,
			"regime", sig.Regime,
		)
	}
	return combined
}

// ValidateSignal re-checks a previously generated signal: expired
// signals and signals outside the current session window are invalid.
// This is a pure re-check, independent of generation.
func (m *Manager) ValidateSignal(sig *types.Signal, now time.Time) bool {
	if sig.Expired(now) {
		return false
	}
	if m.cfg.TimeFilterEnabled && !m.insideTradingWindow(sig.AssetClass, now) {
		return false
	}
	return true
}

func (m *Manager) insideTradingWindow(asset types.AssetClass, now time.Time) bool {
	windows, ok := m.cfg.TradingWindows[asset]
	if !ok || len(windows) == 0 {
		return true
	}
	for _, w := range windows {
		if w.Contains(now) {
			return true
		}
	}
	return false
}

func prefersRegime(strat strategy.Strategy, r types.MarketRegime) bool {
	for _, preferred := range strat.PreferredRegimes() {
		if preferred == r {
			return true
		}
	}
	return false
}

// combineByDirection keeps the single highest-strength signal per
// direction. Ties keep the earlier entry, which is the higher-priority
// strategy because engines run in priority order.
func combineByDirection(signals []types.Signal) []types.Signal {
	best := make(map[types.Direction]types.Signal, 2)
	order := make([]types.Direction, 0, 2)
	for _, sig := range signals {
		current, seen := best[sig.Direction]
		if !seen {
			best[sig.Direction] = sig
			order = append(order, sig.Direction)
			continue
		}
		if sig.Strength > current.Strength {
			best[sig.Direction] = sig
		}
	}

	out := make([]types.Signal, 0, len(order))
	for _, dir := range order {
		out = append(out, best[dir])
	}
	return out
}
