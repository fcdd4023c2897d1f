// Package strategy implements the signal-generating strategy engines:
// momentum, mean reversion and breakout. Each engine consumes a bar
// window plus the detected regime and proposes zero or more candidate
// signals with a strength score in [0,1].
//
// Strategies are pure: no I/O, no clocks, no shared state. A window
// shorter than the engine's lookback yields an empty result, never an
// error.
package strategy

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/algomatic/decision-service/pkg/types"
)

// Input carries everything a strategy needs for one generation pass.
type Input struct {
	Symbol     string
	AssetClass types.AssetClass
	Timeframe  types.Timeframe
	Bars       []types.PriceBar // ordered oldest first
	Regime     types.MarketRegime
}

// Strategy is the common engine contract.
type Strategy interface {
	// Name identifies the engine in Signal.Source and tie-breaking.
	Name() string
	// PreferredRegimes lists the regimes this engine should run in.
	PreferredRegimes() []types.MarketRegime
	// Generate proposes candidate signals for the window. Returns an
	// empty slice when the window is shorter than the required lookback.
	Generate(in Input) []types.Signal
}

// Config holds tunables shared by the three engines.
// Zero fields fall back to defaults.
type Config struct {
	MinStrength       float64 // signals below this are not emitted, default 0.3
	RSIPeriod         int     // default 14
	ATRPeriod         int     // default 14
	BollingerPeriod   int     // default 20
	BollingerMult     float64 // default 2.0
	StopATRMult       float64 // default 2.0
	TargetATRMult     float64 // default 3.0
	VolumeLookback    int     // bars averaged for volume confirmation, default 20
	VolumeConfirmMult float64 // current volume must exceed average by this, default 1.5
	SignalTTLBars     int     // expiry horizon in bar intervals, default 4
}

func (c Config) withDefaults() Config {
	if c.MinStrength <= 0 {
		c.MinStrength = 0.3
	}
	if c.RSIPeriod <= 0 {
		c.RSIPeriod = 14
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = 14
	}
	if c.BollingerPeriod <= 0 {
		c.BollingerPeriod = 20
	}
	if c.BollingerMult <= 0 {
		c.BollingerMult = 2.0
	}
	if c.StopATRMult <= 0 {
		c.StopATRMult = 2.0
	}
	if c.TargetATRMult <= 0 {
		c.TargetATRMult = 3.0
	}
	if c.VolumeLookback <= 0 {
		c.VolumeLookback = 20
	}
	if c.VolumeConfirmMult <= 0 {
		c.VolumeConfirmMult = 1.5
	}
	if c.SignalTTLBars <= 0 {
		c.SignalTTLBars = 4
	}
	return c
}

// Strength component weights: indicator extremity carries half the score,
// trend confirmation under a third, volume confirmation the remainder.
const (
	extremityWeight = 0.5
	confirmWeight   = 0.3
	volumeWeight    = 0.2
)

// score combines the three strength components into [0,1].
func score(extremity, confirmation float64, volumeConfirmed bool) float64 {
	s := extremityWeight*clamp01(extremity) + confirmWeight*clamp01(confirmation)
	if volumeConfirmed {
		s += volumeWeight
	}
	return clamp01(s)
}

// volumeConfirmed reports whether the last bar's volume exceeds the
// recent average by the configured multiple.
func volumeConfirmed(bars []types.PriceBar, lookback int, mult float64) bool {
	if len(bars) < lookback+1 {
		return false
	}
	window := bars[len(bars)-1-lookback : len(bars)-1]
	sum := 0.0
	for _, b := range window {
		sum += b.Volume
	}
	avg := sum / float64(lookback)
	return avg > 0 && bars[len(bars)-1].Volume >= avg*mult
}

// regimeConfirmation scores how well the detected regime supports a
// directional trade: strong aligned trend scores 1, weak aligned trend
// 0.6, anything else a residual 0.25.
func regimeConfirmation(regime types.MarketRegime, dir types.Direction) float64 {
	switch {
	case dir == types.Long && regime == types.RegimeStrongTrendUp,
		dir == types.Short && regime == types.RegimeStrongTrendDown:
		return 1.0
	case dir == types.Long && regime == types.RegimeWeakTrendUp,
		dir == types.Short && regime == types.RegimeWeakTrendDown:
		return 0.6
	}
	return 0.25
}

// newSignal assembles a Signal with lifecycle fields filled in. The
// expiry horizon is anchored to the last bar so generation stays
// deterministic for a given window.
func newSignal(in Input, cfg Config, dir types.Direction, source string,
	strength, entry, stop, target float64,
	results []types.IndicatorResult, reasons []string) types.Signal {

	lastBar := in.Bars[len(in.Bars)-1]
	ttl := time.Duration(cfg.SignalTTLBars) * in.Timeframe.Duration()

	sig := types.Signal{
		ID:         uuid.NewString(),
		Symbol:     in.Symbol,
		AssetClass: in.AssetClass,
		Timeframe:  in.Timeframe,
		Direction:  dir,
		Strength:   strength,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: target,
		Source:     source,
		Indicators: results,
		Reasons:    reasons,
		Regime:     in.Regime,
		Timestamp:  lastBar.Timestamp,
		ExpiresAt:  lastBar.Timestamp.Add(ttl),
		Status:     types.SignalActive,
	}
	if target != 0 && entry != stop {
		sig.RiskRewardRatio = abs(target-entry) / abs(entry-stop)
	}
	return sig
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func reason(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
