package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// BreakerType identifies what tripped the circuit breaker. Drawdown
// trips have no cooldown and require a manual reset.
type BreakerType string

const (
	BreakerNone              BreakerType = ""
	BreakerConsecutiveLosses BreakerType = "consecutive_losses"
	BreakerDailyLoss         BreakerType = "daily_loss"
	BreakerDrawdown          BreakerType = "drawdown"
)

// State is the persisted risk ledger for one account: equity
// high-water marks, rolling P&L against session baselines, streak
// counters and the circuit breaker. A single goroutine owns mutation;
// Version supports optimistic concurrency at the storage layer.
type State struct {
	CurrentEquity     decimal.Decimal
	PeakEquity        decimal.Decimal
	StartOfDayEquity  decimal.Decimal
	StartOfWeekEquity decimal.Decimal

	DailyPnL         decimal.Decimal
	DailyPnLPercent  float64
	WeeklyPnL        decimal.Decimal
	WeeklyPnLPercent float64

	// MaxDrawdown tracks the worst observed peak-to-trough move. Both
	// fields only ever grow until a manual reset.
	MaxDrawdown        decimal.Decimal
	MaxDrawdownPercent float64

	ConsecutiveLosses int
	ConsecutiveWins   int

	CircuitBreakerTriggered bool
	CircuitBreakerType      BreakerType
	CircuitBreakerReason    string
	// CircuitBreakerUntil is nil for trips that need a manual reset.
	CircuitBreakerUntil *time.Time

	DayTradesUsed      int
	DayTradesRemaining int

	Version     int64
	LastUpdated time.Time
}

// NewState seeds a fresh ledger from a starting equity figure.
func NewState(equity decimal.Decimal, now time.Time) *State {
	return &State{
		CurrentEquity:      equity,
		PeakEquity:         equity,
		StartOfDayEquity:   equity,
		StartOfWeekEquity:  equity,
		DayTradesRemaining: 3,
		LastUpdated:        now,
	}
}

// UpdateEquity records a new equity mark. The peak only moves up, the
// drawdown high-water marks only grow, and daily/weekly P&L are
// recomputed against their session baselines.
func (s *State) UpdateEquity(equity decimal.Decimal, now time.Time) {
	s.CurrentEquity = equity
	if equity.GreaterThan(s.PeakEquity) {
		s.PeakEquity = equity
	}

	if s.PeakEquity.IsPositive() {
		dd := s.PeakEquity.Sub(equity)
		if dd.GreaterThan(s.MaxDrawdown) {
			s.MaxDrawdown = dd
			ddPct, _ := dd.Div(s.PeakEquity).Mul(decimal.NewFromInt(100)).Float64()
			if ddPct > s.MaxDrawdownPercent {
				s.MaxDrawdownPercent = ddPct
			}
		}
	}

	s.DailyPnL = equity.Sub(s.StartOfDayEquity)
	s.DailyPnLPercent = pnlPercent(s.DailyPnL, s.StartOfDayEquity)
	s.WeeklyPnL = equity.Sub(s.StartOfWeekEquity)
	s.WeeklyPnLPercent = pnlPercent(s.WeeklyPnL, s.StartOfWeekEquity)
	s.LastUpdated = now
}

// DrawdownPercent returns the live peak-to-current drawdown, not the
// high-water mark.
func (s *State) DrawdownPercent() float64 {
	if !s.PeakEquity.IsPositive() {
		return 0
	}
	dd := s.PeakEquity.Sub(s.CurrentEquity)
	if dd.IsNegative() {
		return 0
	}
	pct, _ := dd.Div(s.PeakEquity).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// RecordLoss bumps the loss streak and clears the win streak.
func (s *State) RecordLoss(now time.Time) {
	s.ConsecutiveLosses++
	s.ConsecutiveWins = 0
	s.LastUpdated = now
}

// RecordWin bumps the win streak and clears the loss streak.
func (s *State) RecordWin(now time.Time) {
	s.ConsecutiveWins++
	s.ConsecutiveLosses = 0
	s.LastUpdated = now
}

// RecordDayTrade consumes one day trade from the session budget. Fill
// tracking lives with the execution collaborator; it calls this when a
// position opens and closes in the same session.
func (s *State) RecordDayTrade(now time.Time) {
	s.DayTradesUsed++
	if s.DayTradesRemaining > 0 {
		s.DayTradesRemaining--
	}
	s.LastUpdated = now
}

// TripBreaker engages the circuit breaker. A nil until means the trip
// holds until ResetBreaker is called.
func (s *State) TripBreaker(btype BreakerType, reason string, until *time.Time, now time.Time) {
	s.CircuitBreakerTriggered = true
	s.CircuitBreakerType = btype
	s.CircuitBreakerReason = reason
	s.CircuitBreakerUntil = until
	s.LastUpdated = now
}

// ResetBreaker clears the breaker. Streak counters reset too so a
// stale streak cannot immediately re-trip.
func (s *State) ResetBreaker(now time.Time) {
	s.CircuitBreakerTriggered = false
	s.CircuitBreakerType = BreakerNone
	s.CircuitBreakerReason = ""
	s.CircuitBreakerUntil = nil
	s.ConsecutiveLosses = 0
	s.LastUpdated = now
}

// BreakerActive reports whether the breaker blocks trading at the
// given instant. Expiry is evaluated at read time; the state itself is
// not mutated here, the owner issues an explicit reset when it
// observes the expiry.
func (s *State) BreakerActive(now time.Time) bool {
	if !s.CircuitBreakerTriggered {
		return false
	}
	if s.CircuitBreakerUntil == nil {
		return true
	}
	return now.Before(*s.CircuitBreakerUntil)
}

// BreakerExpired reports a tripped breaker whose cooldown has lapsed.
func (s *State) BreakerExpired(now time.Time) bool {
	return s.CircuitBreakerTriggered &&
		s.CircuitBreakerUntil != nil &&
		!now.Before(*s.CircuitBreakerUntil)
}

// ResetDaily rebaselines the daily ledger at session open.
func (s *State) ResetDaily(equity decimal.Decimal, now time.Time) {
	s.StartOfDayEquity = equity
	s.DailyPnL = decimal.Zero
	s.DailyPnLPercent = 0
	s.DayTradesUsed = 0
	s.DayTradesRemaining = 3
	s.LastUpdated = now
	s.UpdateEquity(equity, now)
}

// ResetWeekly rebaselines the weekly ledger. Runs at the first session
// of the week, after the daily reset.
func (s *State) ResetWeekly(equity decimal.Decimal, now time.Time) {
	s.StartOfWeekEquity = equity
	s.WeeklyPnL = decimal.Zero
	s.WeeklyPnLPercent = 0
	s.LastUpdated = now
	s.UpdateEquity(equity, now)
}

func pnlPercent(pnl, baseline decimal.Decimal) float64 {
	if !baseline.IsPositive() {
		return 0
	}
	pct, _ := pnl.Div(baseline).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}
