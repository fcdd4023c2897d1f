package risk

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/algomatic/decision-service/pkg/types"
)

// ErrInvalidInput marks evaluation calls with unusable arguments, as
// opposed to business-rule blocks which are returned as decisions.
var ErrInvalidInput = errors.New("invalid risk evaluation input")

// Decision is the admission verdict for a candidate order.
type Decision string

const (
	Allow Decision = "ALLOW"
	Block Decision = "BLOCK"
)

// Check names used in evaluation results and reason strings. Reason
// strings are machine-stable; alerting matches on them.
const (
	CheckCircuitBreaker = "circuit_breaker"
	CheckDailyLoss      = "daily_loss"
	CheckWeeklyLoss     = "weekly_loss"
	CheckDrawdown       = "drawdown"
	CheckPositionCount  = "position_count"
	CheckCorrelation    = "correlation"
	CheckExposure       = "exposure"
	CheckPDT            = "pdt"
	CheckOrderValue     = "order_value"
)

// CheckResult records one limit check for the audit trail.
type CheckResult struct {
	Name   string
	Passed bool
	Detail string
}

// Evaluation is the full outcome of an admission decision.
type Evaluation struct {
	Decision Decision
	// Reason is empty on ALLOW. On BLOCK it is machine-stable.
	Reason   string
	Warnings []string
	Checks   []CheckResult
	// Quantity and OrderValue are set only on ALLOW.
	Quantity   decimal.Decimal
	OrderValue decimal.Decimal
}

// Manager runs the ordered check battery and position sizing. It is
// stateless apart from configuration; the caller owns the State and
// must serialize evaluations per account.
type Manager struct {
	cfg    Config
	logger *slog.Logger
}

// NewManager validates the configuration eagerly and returns a ready
// manager.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating risk config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: logger}, nil
}

// Config returns the active limit set.
func (m *Manager) Config() Config { return m.cfg }

// EvaluateOrder runs the ordered checks against the signal, account
// and risk ledger, short-circuiting on the first failure, and sizes
// the position when everything passes. A daily-loss breach trips the
// circuit breaker on the ledger as a side effect; persisting that
// mutation is the caller's job.
func (m *Manager) EvaluateOrder(sig *types.Signal, account AccountSnapshot, state *State, now time.Time) (Evaluation, error) {
	if err := validateInput(sig, account, state); err != nil {
		return Evaluation{}, err
	}

	ev := Evaluation{Decision: Allow}
	ev.Warnings = append(ev.Warnings, account.Warnings...)

	block := func(name, reason string) Evaluation {
		ev.Checks = append(ev.Checks, CheckResult{Name: name, Passed: false, Detail: reason})
		ev.Decision = Block
		ev.Reason = reason
		m.logger.Info("order blocked",
			"symbol", sig.Symbol, "check", name, "reason", reason)
		return ev
	}
	pass := func(name, detail string) {
		ev.Checks = append(ev.Checks, CheckResult{Name: name, Passed: true, Detail: detail})
	}

	// 1. Circuit breaker. Expiry is read-time: a lapsed cooldown stops
	// blocking here even before the owner persists the reset.
	if state.BreakerActive(now) {
		return block(CheckCircuitBreaker,
			fmt.Sprintf("circuit breaker active: %s", state.CircuitBreakerReason)), nil
	}
	pass(CheckCircuitBreaker, "breaker off")

	// 2. Daily loss. A breach also trips the breaker so subsequent
	// evaluations fail at step 1.
	if state.DailyPnLPercent <= -m.cfg.MaxDailyLossPercent {
		reason := fmt.Sprintf("daily loss limit reached: %.2f%% <= -%.2f%%",
			state.DailyPnLPercent, m.cfg.MaxDailyLossPercent)
		if !state.CircuitBreakerTriggered {
			until := now.Add(time.Duration(m.cfg.CooldownMinutes) * time.Minute)
			state.TripBreaker(BreakerDailyLoss, reason, &until, now)
		}
		return block(CheckDailyLoss, reason), nil
	}
	pass(CheckDailyLoss, fmt.Sprintf("daily pnl %.2f%%", state.DailyPnLPercent))

	// 3. Weekly loss.
	if state.WeeklyPnLPercent <= -m.cfg.MaxWeeklyLossPercent {
		return block(CheckWeeklyLoss,
			fmt.Sprintf("weekly loss limit reached: %.2f%% <= -%.2f%%",
				state.WeeklyPnLPercent, m.cfg.MaxWeeklyLossPercent)), nil
	}
	pass(CheckWeeklyLoss, fmt.Sprintf("weekly pnl %.2f%%", state.WeeklyPnLPercent))

	// 4. Drawdown, measured live from peak to current.
	if dd := state.DrawdownPercent(); dd >= m.cfg.MaxDrawdownPercent {
		return block(CheckDrawdown,
			fmt.Sprintf("drawdown limit reached: %.2f%% >= %.2f%%", dd, m.cfg.MaxDrawdownPercent)), nil
	}
	pass(CheckDrawdown, fmt.Sprintf("drawdown %.2f%%", state.DrawdownPercent()))

	// 5. Position count.
	if len(account.Positions) >= m.cfg.MaxConcurrentPositions {
		return block(CheckPositionCount,
			fmt.Sprintf("Maximum concurrent positions (%d) reached", m.cfg.MaxConcurrentPositions)), nil
	}
	pass(CheckPositionCount, fmt.Sprintf("%d of %d positions open",
		len(account.Positions), m.cfg.MaxConcurrentPositions))

	// The remaining checks need the proposed notional, so sizing runs
	// here; the quantity is only released on ALLOW.
	qty, notional, sizeErr := m.size(sig, account)
	if sizeErr != "" {
		return block(CheckOrderValue, sizeErr), nil
	}

	// 6. Correlation concentration, tighter of the group cap and the
	// global cap.
	if group, ok := m.cfg.groupFor(sig.Symbol); ok {
		groupCap := group.MaxConcentration
		if m.cfg.MaxCorrelatedConcentration < groupCap {
			groupCap = m.cfg.MaxCorrelatedConcentration
		}
		groupExposure := decimal.Zero
		for _, p := range account.Positions {
			for _, sym := range group.Symbols {
				if p.Symbol == sym {
					groupExposure = groupExposure.Add(p.MarketValue)
				}
			}
		}
		pct := percentOf(groupExposure.Add(notional), account.TotalEquity)
		if pct > groupCap {
			return block(CheckCorrelation,
				fmt.Sprintf("correlated exposure for group %q would reach %.2f%% (cap %.2f%%)",
					group.Name, pct, groupCap)), nil
		}
		pass(CheckCorrelation, fmt.Sprintf("group %q at %.2f%% of %.2f%%", group.Name, pct, groupCap))
	} else {
		pass(CheckCorrelation, "symbol not in a correlation group")
	}

	// 7. Exposure ceilings per asset class plus the combined cap.
	classExposure := account.Exposure.Equities
	classCap := m.cfg.MaxEquitiesExposurePercent
	className := "equities"
	if sig.AssetClass == types.AssetFutures {
		classExposure = account.Exposure.Futures
		classCap = m.cfg.MaxFuturesExposurePercent
		className = "futures"
	}
	classPct := percentOf(classExposure.Add(notional), account.TotalEquity)
	if classPct > classCap {
		return block(CheckExposure,
			fmt.Sprintf("%s exposure would reach %.2f%% (cap %.2f%%)", className, classPct, classCap)), nil
	}
	totalPct := percentOf(account.Exposure.Total.Add(notional), account.TotalEquity)
	if totalPct > m.cfg.MaxTotalExposurePercent {
		return block(CheckExposure,
			fmt.Sprintf("total exposure would reach %.2f%% (cap %.2f%%)",
				totalPct, m.cfg.MaxTotalExposurePercent)), nil
	}
	pass(CheckExposure, fmt.Sprintf("%s %.2f%%, total %.2f%%", className, classPct, totalPct))
	if classPct >= classCap*m.cfg.WarnThresholdPercent/100 {
		ev.Warnings = append(ev.Warnings,
			fmt.Sprintf("%s exposure at %.2f%% of equity, cap %.2f%%", className, classPct, classCap))
	}
	if totalPct >= m.cfg.MaxTotalExposurePercent*m.cfg.WarnThresholdPercent/100 {
		ev.Warnings = append(ev.Warnings,
			fmt.Sprintf("total exposure at %.2f%% of equity, cap %.2f%%",
				totalPct, m.cfg.MaxTotalExposurePercent))
	}

	// 8. Pattern-day-trading buffer.
	if account.PatternDayTrader && state.DayTradesRemaining <= m.cfg.PDTReservedDayTrades {
		return block(CheckPDT,
			fmt.Sprintf("day trades remaining (%d) at or below reserved buffer (%d)",
				state.DayTradesRemaining, m.cfg.PDTReservedDayTrades)), nil
	}
	pass(CheckPDT, "day trade buffer available")

	// 9. Order value bounds. The sizing clamp already enforces the
	// upper bound; the lower bound can still fail after rounding.
	if notional.LessThan(m.cfg.MinOrderValue) {
		return block(CheckOrderValue,
			fmt.Sprintf("order value below minimum: %s < %s", notional, m.cfg.MinOrderValue)), nil
	}
	if notional.GreaterThan(m.cfg.MaxOrderValue) {
		return block(CheckOrderValue,
			fmt.Sprintf("order value above maximum: %s > %s", notional, m.cfg.MaxOrderValue)), nil
	}
	pass(CheckOrderValue, fmt.Sprintf("notional %s", notional))

	ev.Quantity = qty
	ev.OrderValue = notional
	m.logger.Info("order allowed",
		"symbol", sig.Symbol, "quantity", qty.String(), "notional", notional.String())
	return ev, nil
}

// size derives the bounded position size. It returns a non-empty
// reason string instead of a quantity when the order cannot reach a
// tradable unit.
func (m *Manager) size(sig *types.Signal, account AccountSnapshot) (qty, notional decimal.Decimal, blockReason string) {
	entry := decimal.NewFromFloat(sig.EntryPrice)
	stop := decimal.NewFromFloat(sig.StopLoss)
	riskPerUnit := entry.Sub(stop).Abs()

	hundred := decimal.NewFromInt(100)
	riskAmount := account.TotalEquity.Mul(decimal.NewFromFloat(m.cfg.MaxRiskPerTradePercent)).Div(hundred)
	raw := riskAmount.Div(riskPerUnit)

	maxByPosition := account.TotalEquity.Mul(decimal.NewFromFloat(m.cfg.MaxPositionPercent)).Div(hundred).Div(entry)
	if raw.GreaterThan(maxByPosition) {
		raw = maxByPosition
	}
	maxByOrderValue := m.cfg.MaxOrderValue.Div(entry)
	if raw.GreaterThan(maxByOrderValue) {
		raw = maxByOrderValue
	}

	if sig.AssetClass.RequiresWholeUnits() {
		raw = raw.Floor()
	} else {
		raw = raw.Truncate(4)
	}
	if !raw.IsPositive() {
		return decimal.Zero, decimal.Zero, "order value below minimum: sized quantity rounds to zero"
	}
	return raw, raw.Mul(entry), ""
}

// RecordTradeOutcome applies a closed trade's P&L to the ledger,
// advancing the streak counters and tripping the breaker when the
// loss streak reaches the configured limit.
func (m *Manager) RecordTradeOutcome(state *State, pnl decimal.Decimal, now time.Time) {
	if pnl.IsNegative() {
		state.RecordLoss(now)
		if state.ConsecutiveLosses >= m.cfg.ConsecutiveLossLimit && !state.CircuitBreakerTriggered {
			until := now.Add(time.Duration(m.cfg.CooldownMinutes) * time.Minute)
			state.TripBreaker(BreakerConsecutiveLosses,
				fmt.Sprintf("%d consecutive losses", state.ConsecutiveLosses), &until, now)
			m.logger.Warn("circuit breaker tripped",
				"type", string(BreakerConsecutiveLosses), "losses", state.ConsecutiveLosses)
		}
	} else if pnl.IsPositive() {
		state.RecordWin(now)
	}
}

// ObserveEquity folds a fresh equity mark into the ledger and trips
// the breaker on a drawdown breach. Drawdown trips carry no cooldown;
// they hold until a manual reset.
func (m *Manager) ObserveEquity(state *State, equity decimal.Decimal, now time.Time) {
	state.UpdateEquity(equity, now)
	if state.DrawdownPercent() >= m.cfg.MaxDrawdownPercent && !state.CircuitBreakerTriggered {
		state.TripBreaker(BreakerDrawdown,
			fmt.Sprintf("drawdown %.2f%% breached limit %.2f%%",
				state.DrawdownPercent(), m.cfg.MaxDrawdownPercent), nil, now)
		m.logger.Warn("circuit breaker tripped", "type", string(BreakerDrawdown))
	}
}

func validateInput(sig *types.Signal, account AccountSnapshot, state *State) error {
	if sig == nil {
		return fmt.Errorf("%w: nil signal", ErrInvalidInput)
	}
	if sig.EntryPrice <= 0 {
		return fmt.Errorf("%w: entry price %v", ErrInvalidInput, sig.EntryPrice)
	}
	if sig.StopLoss <= 0 {
		return fmt.Errorf("%w: stop loss %v", ErrInvalidInput, sig.StopLoss)
	}
	if sig.EntryPrice == sig.StopLoss {
		return fmt.Errorf("%w: entry price equals stop loss", ErrInvalidInput)
	}
	if !account.TotalEquity.IsPositive() {
		return fmt.Errorf("%w: non-positive equity %s", ErrInvalidInput, account.TotalEquity)
	}
	if state == nil {
		return fmt.Errorf("%w: nil risk state", ErrInvalidInput)
	}
	return nil
}

func percentOf(part, whole decimal.Decimal) float64 {
	if !whole.IsPositive() {
		return 0
	}
	pct, _ := part.Div(whole).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}
