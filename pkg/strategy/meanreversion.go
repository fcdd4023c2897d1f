package strategy

import (
	"github.com/algomatic/decision-service/pkg/indicators"
	"github.com/algomatic/decision-service/pkg/types"
)

// MeanReversion fades moves stretched away from the Bollinger middle
// band, targeting a return to the mean. Only sensible when no trend is
// running, so ranging and low-volatility regimes are preferred.
type MeanReversion struct {
	cfg Config
}

// NewMeanReversion creates the mean-reversion engine.
func NewMeanReversion(cfg Config) *MeanReversion {
	return &MeanReversion{cfg: cfg.withDefaults()}
}

func (m *MeanReversion) Name() string { return "mean_reversion" }

func (m *MeanReversion) PreferredRegimes() []types.MarketRegime {
	return []types.MarketRegime{types.RegimeRanging, types.RegimeLowVolatility}
}

func (m *MeanReversion) lookback() int { return m.cfg.BollingerPeriod + m.cfg.ATRPeriod + 1 }

// Entry thresholds in %B terms: below 0.2 is stretched low, above 0.8
// stretched high.
const (
	stretchedLow  = 0.2
	stretchedHigh = 0.8
)

func (m *MeanReversion) Generate(in Input) []types.Signal {
	if len(in.Bars) < m.lookback() {
		return nil
	}

	closes := types.Closes(in.Bars)
	bb := indicators.Bollinger(closes, m.cfg.BollingerPeriod, m.cfg.BollingerMult)
	atr := indicators.ATR(in.Bars, m.cfg.ATRPeriod)
	if atr <= 0 || bb.Upper <= bb.Lower {
		return nil
	}
	last := closes[len(closes)-1]

	// %B position of the close inside the bands.
	pctB := (last - bb.Lower) / (bb.Upper - bb.Lower)

	var dir types.Direction
	var extremity float64
	switch {
	case pctB <= stretchedLow:
		dir = types.Long
		extremity = (stretchedLow - pctB) / stretchedLow
	case pctB >= stretchedHigh:
		dir = types.Short
		extremity = (pctB - stretchedHigh) / (1 - stretchedHigh)
	default:
		return nil
	}

	// Reverting trades want a quiet tape, not trend agreement.
	confirmation := 0.25
	if in.Regime == types.RegimeRanging || in.Regime == types.RegimeLowVolatility {
		confirmation = 1.0
	}

	volOK := volumeConfirmed(in.Bars, m.cfg.VolumeLookback, m.cfg.VolumeConfirmMult)
	strength := score(extremity, confirmation, volOK)
	if strength < m.cfg.MinStrength {
		return nil
	}

	// Target is the middle band; stop sits an ATR multiple beyond the stretch.
	var stop float64
	if dir == types.Long {
		stop = last - m.cfg.StopATRMult*atr
	} else {
		stop = last + m.cfg.StopATRMult*atr
	}
	target := bb.Middle

	reasons := []string{
		reason("close %.4f at %%B %.2f, stretched %s from middle band %.4f", last, pctB, stretchSide(dir), bb.Middle),
		reason("targeting reversion to middle band, stop %.1fx ATR", m.cfg.StopATRMult),
	}
	if volOK {
		reasons = append(reasons, "volume above recent average")
	}

	results := []types.IndicatorResult{
		bb,
		types.ATRResult{Period: m.cfg.ATRPeriod, Value: atr},
	}

	return []types.Signal{
		newSignal(in, m.cfg, dir, m.Name(), strength, last, stop, target, results, reasons),
	}
}

func stretchSide(dir types.Direction) string {
	if dir == types.Long {
		return "below"
	}
	return "above"
}
