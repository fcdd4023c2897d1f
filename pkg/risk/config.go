// Package risk implements the admission gate in front of order routing:
// an ordered battery of limit checks over a candidate signal and an
// account snapshot, bounded position sizing, and the persisted
// circuit-breaker state machine behind it.
//
// Money arithmetic uses shopspring/decimal so that sizing and P&L
// accounting stay deterministic across restarts; limit ratios are plain
// percentages.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CorrelationGroup names a set of symbols treated as one
// concentration-risk bucket.
type CorrelationGroup struct {
	Name             string
	Symbols          []string
	MaxConcentration float64 // percent of equity allowed for the whole group
}

// Config holds every numeric risk limit. Construct once and validate
// eagerly; a Manager never sees an invalid config.
type Config struct {
	MaxRiskPerTradePercent float64 // equity share risked between entry and stop, default 1
	MaxPositionPercent     float64 // notional cap as percent of equity, default 20
	MaxConcurrentPositions int     // default 5

	MaxDailyLossPercent  float64 // default 3
	MaxWeeklyLossPercent float64 // default 6
	MaxDrawdownPercent   float64 // default 10

	MaxTotalExposurePercent    float64 // default 100
	MaxFuturesExposurePercent  float64 // default 60
	MaxEquitiesExposurePercent float64 // default 80

	MaxCorrelatedConcentration float64 // global group cap, default 20
	CorrelationGroups          []CorrelationGroup

	MinOrderValue decimal.Decimal // default 100
	MaxOrderValue decimal.Decimal // default 50000

	ConsecutiveLossLimit int // breaker trigger, default 4
	CooldownMinutes      int // breaker cooldown, default 60

	PDTReservedDayTrades int // day trades kept in reserve, default 1

	// WarnThresholdPercent is the share of a cap above which a passing
	// check still emits a warning. Default 80.
	WarnThresholdPercent float64
}

// DefaultConfig returns the stock limit set.
func DefaultConfig() Config {
	return Config{
		MaxRiskPerTradePercent:     1,
		MaxPositionPercent:         20,
		MaxConcurrentPositions:     5,
		MaxDailyLossPercent:        3,
		MaxWeeklyLossPercent:       6,
		MaxDrawdownPercent:         10,
		MaxTotalExposurePercent:    100,
		MaxFuturesExposurePercent:  60,
		MaxEquitiesExposurePercent: 80,
		MaxCorrelatedConcentration: 20,
		MinOrderValue:              decimal.NewFromInt(100),
		MaxOrderValue:              decimal.NewFromInt(50000),
		ConsecutiveLossLimit:       4,
		CooldownMinutes:            60,
		PDTReservedDayTrades:       1,
		WarnThresholdPercent:       80,
	}
}

// Validate checks every limit for internal consistency. Configuration
// errors surface here, at construction, never during evaluation.
func (c Config) Validate() error {
	positivePercents := map[string]float64{
		"max_risk_per_trade_percent":    c.MaxRiskPerTradePercent,
		"max_position_percent":          c.MaxPositionPercent,
		"max_daily_loss_percent":        c.MaxDailyLossPercent,
		"max_weekly_loss_percent":       c.MaxWeeklyLossPercent,
		"max_drawdown_percent":          c.MaxDrawdownPercent,
		"max_total_exposure_percent":    c.MaxTotalExposurePercent,
		"max_futures_exposure_percent":  c.MaxFuturesExposurePercent,
		"max_equities_exposure_percent": c.MaxEquitiesExposurePercent,
		"max_correlated_concentration":  c.MaxCorrelatedConcentration,
		"warn_threshold_percent":        c.WarnThresholdPercent,
	}
	for name, v := range positivePercents {
		if v <= 0 {
			return fmt.Errorf("%s must be > 0, got %v", name, v)
		}
	}

	if c.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("max_concurrent_positions must be > 0, got %d", c.MaxConcurrentPositions)
	}
	if c.ConsecutiveLossLimit <= 0 {
		return fmt.Errorf("consecutive_loss_limit must be > 0, got %d", c.ConsecutiveLossLimit)
	}
	if c.CooldownMinutes <= 0 {
		return fmt.Errorf("cooldown_minutes must be > 0, got %d", c.CooldownMinutes)
	}
	if c.PDTReservedDayTrades < 0 {
		return fmt.Errorf("pdt_reserved_day_trades must be >= 0, got %d", c.PDTReservedDayTrades)
	}

	if c.MinOrderValue.IsNegative() {
		return fmt.Errorf("min_order_value must be >= 0, got %s", c.MinOrderValue)
	}
	if !c.MaxOrderValue.GreaterThan(c.MinOrderValue) {
		return fmt.Errorf("max_order_value %s must exceed min_order_value %s",
			c.MaxOrderValue, c.MinOrderValue)
	}

	seen := make(map[string]string)
	for _, g := range c.CorrelationGroups {
		if g.Name == "" {
			return fmt.Errorf("correlation group with empty name")
		}
		if len(g.Symbols) == 0 {
			return fmt.Errorf("correlation group %q has no symbols", g.Name)
		}
		if g.MaxConcentration <= 0 {
			return fmt.Errorf("correlation group %q: max_concentration must be > 0, got %v",
				g.Name, g.MaxConcentration)
		}
		for _, sym := range g.Symbols {
			if prev, dup := seen[sym]; dup {
				return fmt.Errorf("symbol %q appears in correlation groups %q and %q", sym, prev, g.Name)
			}
			seen[sym] = g.Name
		}
	}

	return nil
}

// groupFor returns the correlation group containing the symbol, if any.
func (c Config) groupFor(symbol string) (CorrelationGroup, bool) {
	for _, g := range c.CorrelationGroups {
		for _, sym := range g.Symbols {
			if sym == symbol {
				return g, true
			}
		}
	}
	return CorrelationGroup{}, false
}
