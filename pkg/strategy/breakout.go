package strategy

import (
	"github.com/algomatic/decision-service/pkg/indicators"
	"github.com/algomatic/decision-service/pkg/types"
)

// Breakout looks for a Bollinger squeeze resolving: bandwidth compressed
// against its own recent history, then a close pushing through a band.
// Squeezes form in quiet tape, so low-volatility and ranging regimes are
// preferred.
type Breakout struct {
	cfg Config
}

// NewBreakout creates the breakout engine.
func NewBreakout(cfg Config) *Breakout {
	return &Breakout{cfg: cfg.withDefaults()}
}

func (b *Breakout) Name() string { return "breakout" }

func (b *Breakout) PreferredRegimes() []types.MarketRegime {
	return []types.MarketRegime{types.RegimeLowVolatility, types.RegimeRanging}
}

// squeezeLookback is how many prior bandwidth readings the current one
// is compared against.
const squeezeLookback = 20

func (b *Breakout) lookback() int {
	return b.cfg.BollingerPeriod + squeezeLookback + 1
}

func (b *Breakout) Generate(in Input) []types.Signal {
	if len(in.Bars) < b.lookback() {
		return nil
	}

	closes := types.Closes(in.Bars)
	atr := indicators.ATR(in.Bars, b.cfg.ATRPeriod)
	if atr <= 0 {
		return nil
	}

	bb := indicators.Bollinger(closes, b.cfg.BollingerPeriod, b.cfg.BollingerMult)
	if bb.Middle == 0 {
		return nil
	}

	// Bandwidth history over the prior squeezeLookback windows, current
	// reading excluded.
	history := make([]float64, 0, squeezeLookback)
	for i := 0; i < squeezeLookback; i++ {
		end := len(closes) - squeezeLookback + i
		w := indicators.Bollinger(closes[:end], b.cfg.BollingerPeriod, b.cfg.BollingerMult)
		if w.Bandwidth > 0 {
			history = append(history, w.Bandwidth)
		}
	}
	squeezePct := indicators.PercentileRank(history, bb.Bandwidth)

	last := closes[len(closes)-1]
	var dir types.Direction
	var breakDist float64
	switch {
	case last > bb.Upper:
		dir = types.Long
		breakDist = last - bb.Upper
	case last < bb.Lower:
		dir = types.Short
		breakDist = bb.Lower - last
	default:
		return nil
	}

	// Extremity: how far beyond the band the close pushed, in ATR units.
	extremity := clamp01(breakDist / atr)

	// Confirmation: the tighter the squeeze was, the cleaner the breakout.
	confirmation := clamp01((100 - squeezePct) / 100)

	volOK := volumeConfirmed(in.Bars, b.cfg.VolumeLookback, b.cfg.VolumeConfirmMult)
	strength := score(extremity, confirmation, volOK)
	if strength < b.cfg.MinStrength {
		return nil
	}

	var stop, target float64
	if dir == types.Long {
		stop = last - b.cfg.StopATRMult*atr
		target = last + b.cfg.TargetATRMult*atr
	} else {
		stop = last + b.cfg.StopATRMult*atr
		target = last - b.cfg.TargetATRMult*atr
	}

	reasons := []string{
		reason("close %.4f broke %s band %.4f", last, bandSide(dir), brokenBand(dir, bb)),
		reason("bandwidth %.4f at percentile %.1f of recent history", bb.Bandwidth, squeezePct),
		reason("stop at %.1fx ATR (%.4f), target at %.1fx ATR", b.cfg.StopATRMult, atr, b.cfg.TargetATRMult),
	}
	if volOK {
		reasons = append(reasons, "volume above recent average")
	}

	results := []types.IndicatorResult{
		bb,
		types.ATRResult{Period: b.cfg.ATRPeriod, Value: atr},
	}

	return []types.Signal{
		newSignal(in, b.cfg, dir, b.Name(), strength, last, stop, target, results, reasons),
	}
}

func bandSide(dir types.Direction) string {
	if dir == types.Long {
		return "upper"
	}
	return "lower"
}

func brokenBand(dir types.Direction, bb types.BollingerResult) float64 {
	if dir == types.Long {
		return bb.Upper
	}
	return bb.Lower
}
