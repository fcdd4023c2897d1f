// Package types defines the shared data structures for the decision engine.
//
//   - PriceBar = one OHLCV bar, oldest-first sequences everywhere
//   - MarketRegime = classified market condition, recomputed per evaluation
//   - Signal = a directional trade candidate produced by a strategy
//   - IndicatorResult = tagged per-indicator result variants
package types

import (
	"fmt"
	"time"
)

// PriceBar represents a single OHLCV bar.
type PriceBar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Closes extracts the close series from a bar window.
func Closes(bars []PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Direction represents trade direction.
type Direction string

const (
	Long    Direction = "long"
	Short   Direction = "short"
	Neutral Direction = "neutral"
)

// AssetClass distinguishes instruments with different trading sessions
// and sizing rules.
type AssetClass string

const (
	AssetFutures  AssetClass = "futures"
	AssetEquities AssetClass = "equities"
)

// RequiresWholeUnits reports whether the asset class trades only in
// integer quantities.
func (a AssetClass) RequiresWholeUnits() bool {
	return a == AssetFutures
}

// Timeframe names the bar interval a signal was generated from.
type Timeframe string

const (
	Timeframe1Min  Timeframe = "1Min"
	Timeframe5Min  Timeframe = "5Min"
	Timeframe15Min Timeframe = "15Min"
	Timeframe1Hour Timeframe = "1Hour"
	Timeframe1Day  Timeframe = "1Day"
)

// Duration returns the bar interval. Unknown timeframes fall back to one hour.
func (t Timeframe) Duration() time.Duration {
	switch t {
	case Timeframe1Min:
		return time.Minute
	case Timeframe5Min:
		return 5 * time.Minute
	case Timeframe15Min:
		return 15 * time.Minute
	case Timeframe1Hour:
		return time.Hour
	case Timeframe1Day:
		return 24 * time.Hour
	}
	return time.Hour
}

// MarketRegime classifies the current market condition.
type MarketRegime string

const (
	RegimeStrongTrendUp   MarketRegime = "strong_trend_up"
	RegimeStrongTrendDown MarketRegime = "strong_trend_down"
	RegimeWeakTrendUp     MarketRegime = "weak_trend_up"
	RegimeWeakTrendDown   MarketRegime = "weak_trend_down"
	RegimeRanging         MarketRegime = "ranging"
	RegimeHighVolatility  MarketRegime = "high_volatility"
	RegimeLowVolatility   MarketRegime = "low_volatility"
)

// IsTrending reports whether the regime is one of the four trend regimes.
func (r MarketRegime) IsTrending() bool {
	switch r {
	case RegimeStrongTrendUp, RegimeStrongTrendDown, RegimeWeakTrendUp, RegimeWeakTrendDown:
		return true
	}
	return false
}

// SignalStatus tracks the lifecycle of a signal.
// Legal transitions: active -> executed | expired | cancelled.
type SignalStatus string

const (
	SignalActive    SignalStatus = "active"
	SignalExecuted  SignalStatus = "executed"
	SignalExpired   SignalStatus = "expired"
	SignalCancelled SignalStatus = "cancelled"
)

// Signal is a directional trade candidate. Immutable except for the
// status transitions above.
type Signal struct {
	ID              string
	Symbol          string
	AssetClass      AssetClass
	Timeframe       Timeframe
	Direction       Direction
	Strength        float64 // [0,1]
	EntryPrice      float64
	StopLoss        float64
	TakeProfit      float64 // 0 means not set
	RiskRewardRatio float64 // 0 means not computed
	Source          string  // generating strategy name
	Indicators      []IndicatorResult
	Reasons         []string
	Regime          MarketRegime
	Timestamp       time.Time
	ExpiresAt       time.Time
	Status          SignalStatus
}

// Expired reports whether the signal is past its expiry at the given time.
func (s *Signal) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Transition moves the signal to a new status, enforcing the legal
// transition set. Returns an error for anything other than
// active -> executed/expired/cancelled.
func (s *Signal) Transition(to SignalStatus) error {
	if s.Status != SignalActive {
		return fmt.Errorf("illegal signal transition %s -> %s", s.Status, to)
	}
	switch to {
	case SignalExecuted, SignalExpired, SignalCancelled:
		s.Status = to
		return nil
	}
	return fmt.Errorf("illegal signal transition %s -> %s", s.Status, to)
}

// IndicatorResult is the common interface for tagged per-indicator results
// attached to a signal for audit purposes.
type IndicatorResult interface {
	// IndicatorName returns the indicator identifier, e.g. "rsi_14".
	IndicatorName() string
	// Summary returns a compact human-readable rendering for audit trails.
	Summary() string
}

// RSIResult holds a computed RSI value.
type RSIResult struct {
	Period int
	Value  float64
}

func (r RSIResult) IndicatorName() string { return fmt.Sprintf("rsi_%d", r.Period) }
func (r RSIResult) Summary() string       { return fmt.Sprintf("rsi_%d=%.2f", r.Period, r.Value) }

// MACDResult holds the MACD line, signal line and histogram.
type MACDResult struct {
	Line      float64
	Signal    float64
	Histogram float64
	PrevHist  float64
}

func (m MACDResult) IndicatorName() string { return "macd" }
func (m MACDResult) Summary() string {
	return fmt.Sprintf("macd=%.4f signal=%.4f hist=%.4f", m.Line, m.Signal, m.Histogram)
}

// ADXResult holds trend-strength output: ADX plus directional indexes.
type ADXResult struct {
	Period  int
	ADX     float64
	PlusDI  float64
	MinusDI float64
}

func (a ADXResult) IndicatorName() string { return fmt.Sprintf("adx_%d", a.Period) }
func (a ADXResult) Summary() string {
	return fmt.Sprintf("adx_%d=%.2f +di=%.2f -di=%.2f", a.Period, a.ADX, a.PlusDI, a.MinusDI)
}

// ATRResult holds the average true range and its percentile rank against
// recent history.
type ATRResult struct {
	Period     int
	Value      float64
	Percentile float64
}

func (a ATRResult) IndicatorName() string { return fmt.Sprintf("atr_%d", a.Period) }
func (a ATRResult) Summary() string {
	return fmt.Sprintf("atr_%d=%.4f pct=%.1f", a.Period, a.Value, a.Percentile)
}

// BollingerResult holds Bollinger band levels and bandwidth.
type BollingerResult struct {
	Period    int
	Upper     float64
	Middle    float64
	Lower     float64
	Bandwidth float64 // (upper-lower)/middle
}

func (b BollingerResult) IndicatorName() string { return fmt.Sprintf("bb_%d", b.Period) }
func (b BollingerResult) Summary() string {
	return fmt.Sprintf("bb_%d upper=%.4f mid=%.4f lower=%.4f width=%.4f",
		b.Period, b.Upper, b.Middle, b.Lower, b.Bandwidth)
}

// EMAResult holds an exponential moving average value.
type EMAResult struct {
	Period int
	Value  float64
}

func (e EMAResult) IndicatorName() string { return fmt.Sprintf("ema_%d", e.Period) }
func (e EMAResult) Summary() string       { return fmt.Sprintf("ema_%d=%.4f", e.Period, e.Value) }
