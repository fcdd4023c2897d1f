// Package regime classifies market conditions from a bar window using
// trend strength (ADX), volatility rank (ATR percentile) and a
// trend-direction EMA.
package regime

import (
	"fmt"

	"github.com/algomatic/decision-service/pkg/indicators"
	"github.com/algomatic/decision-service/pkg/types"
)

// Config holds detector thresholds. Zero fields fall back to defaults.
type Config struct {
	ADXPeriod          int     // default 14
	TrendEMAPeriod     int     // default 20
	VolatilityHighPct  float64 // ATR percentile above which the market is high-volatility, default 80
	VolatilityLowPct   float64 // ATR percentile below which low-volatility is considered, default 20
	StrongTrendADX     float64 // default 40
	WeakTrendADX       float64 // default 25
	ATRHistoryCapacity int     // ring buffer length for ATR percentile history, default 100
}

func (c Config) withDefaults() Config {
	if c.ADXPeriod <= 0 {
		c.ADXPeriod = 14
	}
	if c.TrendEMAPeriod <= 0 {
		c.TrendEMAPeriod = 20
	}
	if c.VolatilityHighPct <= 0 {
		c.VolatilityHighPct = 80
	}
	if c.VolatilityLowPct <= 0 {
		c.VolatilityLowPct = 20
	}
	if c.StrongTrendADX <= 0 {
		c.StrongTrendADX = 40
	}
	if c.WeakTrendADX <= 0 {
		c.WeakTrendADX = 25
	}
	if c.ATRHistoryCapacity <= 0 {
		c.ATRHistoryCapacity = 100
	}
	return c
}

// Result is one regime classification.
type Result struct {
	Regime        types.MarketRegime
	Confidence    float64 // [0,1], 0 when data was insufficient
	ADX           types.ADXResult
	ATR           types.ATRResult
	TrendEMA      types.EMAResult
	Justification string
}

// Detector classifies the market regime for one symbol/timeframe stream.
// It keeps a bounded history of ATR samples for percentile ranking, so a
// detector instance is stateful and not safe for concurrent use.
type Detector struct {
	cfg        Config
	atrHistory []float64
	atrNext    int
	atrFull    bool
}

// NewDetector creates a Detector with the given thresholds.
func NewDetector(cfg Config) *Detector {
	cfg = cfg.withDefaults()
	return &Detector{
		cfg:        cfg,
		atrHistory: make([]float64, cfg.ATRHistoryCapacity),
	}
}

// MinBars returns the minimum window length needed for a full classification.
func (d *Detector) MinBars() int {
	return 2*d.cfg.ADXPeriod + d.cfg.TrendEMAPeriod
}

// Detect classifies the current regime from an ordered bar window.
// A window shorter than MinBars yields RANGING with zero confidence;
// insufficient data is a safe default here, not an error.
func (d *Detector) Detect(bars []types.PriceBar) Result {
	if len(bars) < d.MinBars() {
		return Result{
			Regime:        types.RegimeRanging,
			Confidence:    0,
			Justification: fmt.Sprintf("insufficient data: %d bars, need %d", len(bars), d.MinBars()),
		}
	}

	closes := types.Closes(bars)

	adx := indicators.ADX(bars, d.cfg.ADXPeriod)
	atrValue := indicators.ATR(bars, d.cfg.ADXPeriod)
	atrPct := indicators.PercentileRank(d.historySnapshot(), atrValue)
	d.pushATR(atrValue)

	emaSeries := indicators.EMASeries(closes, d.cfg.TrendEMAPeriod)
	emaNow := emaSeries[len(emaSeries)-1]
	emaPrev := emaSeries[len(emaSeries)-2]

	atr := types.ATRResult{Period: d.cfg.ADXPeriod, Value: atrValue, Percentile: atrPct}
	ema := types.EMAResult{Period: d.cfg.TrendEMAPeriod, Value: emaNow}

	regime, confidence, why := d.classify(adx, atrPct, emaNow, emaPrev)
	return Result{
		Regime:        regime,
		Confidence:    confidence,
		ADX:           adx,
		ATR:           atr,
		TrendEMA:      ema,
		Justification: why,
	}
}

// classify applies the first-match-wins ordering: volatility extremes,
// then strong trend, then weak trend, then ranging.
func (d *Detector) classify(adx types.ADXResult, atrPct, emaNow, emaPrev float64) (types.MarketRegime, float64, string) {
	bullish := adx.PlusDI > adx.MinusDI
	emaRising := emaNow > emaPrev
	emaFalling := emaNow < emaPrev

	switch {
	case atrPct > d.cfg.VolatilityHighPct:
		return types.RegimeHighVolatility,
			clamp01(atrPct / 100),
			fmt.Sprintf("ATR percentile %.1f above %.0f", atrPct, d.cfg.VolatilityHighPct)

	case atrPct < d.cfg.VolatilityLowPct && adx.ADX < d.cfg.WeakTrendADX:
		return types.RegimeLowVolatility,
			clamp01(1 - atrPct/100),
			fmt.Sprintf("ATR percentile %.1f below %.0f with ADX %.1f", atrPct, d.cfg.VolatilityLowPct, adx.ADX)

	case adx.ADX >= d.cfg.StrongTrendADX && bullish && emaRising:
		return types.RegimeStrongTrendUp, clamp01(adx.ADX / 100),
			fmt.Sprintf("ADX %.1f with +DI dominant and rising EMA", adx.ADX)

	case adx.ADX >= d.cfg.StrongTrendADX && !bullish && emaFalling:
		return types.RegimeStrongTrendDown, clamp01(adx.ADX / 100),
			fmt.Sprintf("ADX %.1f with -DI dominant and falling EMA", adx.ADX)

	// Weak trend is the band between the two ADX thresholds. Strong ADX
	// without EMA confirmation falls through to ranging.
	case adx.ADX >= d.cfg.WeakTrendADX && adx.ADX < d.cfg.StrongTrendADX && bullish:
		return types.RegimeWeakTrendUp, clamp01(adx.ADX / 100),
			fmt.Sprintf("ADX %.1f with +DI dominant", adx.ADX)

	case adx.ADX >= d.cfg.WeakTrendADX && adx.ADX < d.cfg.StrongTrendADX && !bullish:
		return types.RegimeWeakTrendDown, clamp01(adx.ADX / 100),
			fmt.Sprintf("ADX %.1f with -DI dominant", adx.ADX)
	}

	return types.RegimeRanging, clamp01(1 - adx.ADX/d.cfg.WeakTrendADX),
		fmt.Sprintf("ADX %.1f without a confirmed trend", adx.ADX)
}

// pushATR appends an ATR sample, evicting the oldest once full.
func (d *Detector) pushATR(v float64) {
	d.atrHistory[d.atrNext] = v
	d.atrNext++
	if d.atrNext == len(d.atrHistory) {
		d.atrNext = 0
		d.atrFull = true
	}
}

// historySnapshot returns the populated portion of the ring buffer.
func (d *Detector) historySnapshot() []float64 {
	if d.atrFull {
		return d.atrHistory
	}
	return d.atrHistory[:d.atrNext]
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
