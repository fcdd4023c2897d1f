package strategy

import (
	"github.com/algomatic/decision-service/pkg/indicators"
	"github.com/algomatic/decision-service/pkg/types"
)

// Momentum trades in the direction of an established move: RSI leaning
// away from neutral with the MACD histogram not disagreeing. The
// histogram converges toward zero on a steady trend and can park just
// across the axis, so the gate allows a small band around zero scaled
// to price; slope agreement raises the score rather than gating entry.
type Momentum struct {
	cfg Config
}

// NewMomentum creates the momentum engine.
func NewMomentum(cfg Config) *Momentum {
	return &Momentum{cfg: cfg.withDefaults()}
}

func (m *Momentum) Name() string { return "momentum" }

func (m *Momentum) PreferredRegimes() []types.MarketRegime {
	return []types.MarketRegime{
		types.RegimeStrongTrendUp,
		types.RegimeStrongTrendDown,
		types.RegimeWeakTrendUp,
		types.RegimeWeakTrendDown,
		// Momentum explicitly targets volatility breakouts, so it stays
		// eligible when the volatility filter suppresses everything else.
		types.RegimeHighVolatility,
	}
}

// lookback covers the MACD slow+signal window plus a margin for ATR/RSI.
func (m *Momentum) lookback() int { return 40 }

func (m *Momentum) Generate(in Input) []types.Signal {
	if len(in.Bars) < m.lookback() {
		return nil
	}

	closes := types.Closes(in.Bars)
	rsi := indicators.RSI(closes, m.cfg.RSIPeriod)
	macd := indicators.MACD(closes)
	atr := indicators.ATR(in.Bars, m.cfg.ATRPeriod)
	if atr <= 0 {
		return nil
	}
	last := closes[len(closes)-1]

	// Histogram within 0.01% of price reads as flat, not opposing.
	histEps := 1e-4 * last

	var dir types.Direction
	switch {
	case rsi >= 55 && macd.Histogram > -histEps:
		dir = types.Long
	case rsi <= 45 && macd.Histogram < histEps:
		dir = types.Short
	default:
		return nil
	}

	// Extremity: RSI distance from neutral, full score at the 0/100 rails.
	extremity := abs(rsi-50) / 50

	confirmation := regimeConfirmation(in.Regime, dir)
	histRising := macd.Histogram > macd.PrevHist
	if (dir == types.Long && histRising) || (dir == types.Short && !histRising) {
		confirmation = clamp01(confirmation + 0.25)
	}

	volOK := volumeConfirmed(in.Bars, m.cfg.VolumeLookback, m.cfg.VolumeConfirmMult)
	strength := score(extremity, confirmation, volOK)
	if strength < m.cfg.MinStrength {
		return nil
	}

	var stop, target float64
	if dir == types.Long {
		stop = last - m.cfg.StopATRMult*atr
		target = last + m.cfg.TargetATRMult*atr
	} else {
		stop = last + m.cfg.StopATRMult*atr
		target = last - m.cfg.TargetATRMult*atr
	}

	reasons := []string{
		reason("RSI %.1f in %s momentum zone", rsi, dir),
		reason("MACD histogram %.4f consistent with %s bias", macd.Histogram, dir),
		reason("stop at %.1fx ATR (%.4f), target at %.1fx ATR", m.cfg.StopATRMult, atr, m.cfg.TargetATRMult),
	}
	if volOK {
		reasons = append(reasons, "volume above recent average")
	}

	results := []types.IndicatorResult{
		types.RSIResult{Period: m.cfg.RSIPeriod, Value: rsi},
		macd,
		types.ATRResult{Period: m.cfg.ATRPeriod, Value: atr},
	}

	return []types.Signal{
		newSignal(in, m.cfg, dir, m.Name(), strength, last, stop, target, results, reasons),
	}
}
