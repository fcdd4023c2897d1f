package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestUpdateEquityPeakOnlyMovesUp(t *testing.T) {
	now := time.Now()
	s := NewState(d(100000), now)

	s.UpdateEquity(d(110000), now)
	if !s.PeakEquity.Equal(d(110000)) {
		t.Fatalf("peak = %s, want 110000", s.PeakEquity)
	}

	s.UpdateEquity(d(95000), now)
	if !s.PeakEquity.Equal(d(110000)) {
		t.Fatalf("peak moved down to %s", s.PeakEquity)
	}
	if !s.CurrentEquity.Equal(d(95000)) {
		t.Fatalf("current = %s, want 95000", s.CurrentEquity)
	}
}

func TestDrawdownHighWaterMarkNeverDecreases(t *testing.T) {
	now := time.Now()
	s := NewState(d(100000), now)

	s.UpdateEquity(d(90000), now)
	if s.MaxDrawdownPercent < 9.99 || s.MaxDrawdownPercent > 10.01 {
		t.Fatalf("max drawdown pct = %v, want ~10", s.MaxDrawdownPercent)
	}

	// Recovery does not claw back the high-water mark.
	s.UpdateEquity(d(99000), now)
	if s.MaxDrawdownPercent < 9.99 {
		t.Fatalf("max drawdown pct decreased to %v", s.MaxDrawdownPercent)
	}
	if !s.MaxDrawdown.Equal(d(10000)) {
		t.Fatalf("max drawdown = %s, want 10000", s.MaxDrawdown)
	}

	// Live drawdown does reflect the recovery.
	if dd := s.DrawdownPercent(); dd > 1.01 {
		t.Fatalf("live drawdown = %v, want ~1", dd)
	}
}

func TestDailyAndWeeklyPnLTrackBaselines(t *testing.T) {
	now := time.Now()
	s := NewState(d(100000), now)

	s.UpdateEquity(d(97000), now)
	if s.DailyPnLPercent > -2.99 || s.DailyPnLPercent < -3.01 {
		t.Fatalf("daily pnl pct = %v, want ~-3", s.DailyPnLPercent)
	}

	s.ResetDaily(d(97000), now)
	if s.DailyPnLPercent != 0 {
		t.Fatalf("daily pnl pct after reset = %v", s.DailyPnLPercent)
	}
	if s.WeeklyPnLPercent > -2.99 {
		t.Fatalf("weekly pnl pct = %v, should survive daily reset", s.WeeklyPnLPercent)
	}

	s.ResetWeekly(d(97000), now)
	if s.WeeklyPnLPercent != 0 {
		t.Fatalf("weekly pnl pct after reset = %v", s.WeeklyPnLPercent)
	}
}

func TestStreaksAreMutuallyResetting(t *testing.T) {
	now := time.Now()
	s := NewState(d(100000), now)

	s.RecordLoss(now)
	s.RecordLoss(now)
	if s.ConsecutiveLosses != 2 || s.ConsecutiveWins != 0 {
		t.Fatalf("streaks = %d losses, %d wins", s.ConsecutiveLosses, s.ConsecutiveWins)
	}

	s.RecordWin(now)
	if s.ConsecutiveLosses != 0 || s.ConsecutiveWins != 1 {
		t.Fatalf("win did not reset loss streak: %d losses, %d wins",
			s.ConsecutiveLosses, s.ConsecutiveWins)
	}

	s.RecordLoss(now)
	if s.ConsecutiveWins != 0 {
		t.Fatalf("loss did not reset win streak: %d wins", s.ConsecutiveWins)
	}
}

func TestRecordDayTradeConsumesBudget(t *testing.T) {
	now := time.Now()
	s := NewState(d(100000), now)

	for i := 0; i < 4; i++ {
		s.RecordDayTrade(now)
	}
	if s.DayTradesUsed != 4 {
		t.Fatalf("used = %d, want 4", s.DayTradesUsed)
	}
	if s.DayTradesRemaining != 0 {
		t.Fatalf("remaining = %d, want floor at 0", s.DayTradesRemaining)
	}

	s.ResetDaily(d(100000), now)
	if s.DayTradesUsed != 0 || s.DayTradesRemaining != 3 {
		t.Fatalf("after daily reset: used %d remaining %d, want 0 and 3",
			s.DayTradesUsed, s.DayTradesRemaining)
	}
}

func TestBreakerActiveRespectsCooldown(t *testing.T) {
	now := time.Now()
	s := NewState(d(100000), now)

	until := now.Add(30 * time.Minute)
	s.TripBreaker(BreakerConsecutiveLosses, "4 consecutive losses", &until, now)

	if !s.BreakerActive(now) {
		t.Fatal("breaker should be active before until")
	}
	if !s.BreakerActive(until.Add(-time.Second)) {
		t.Fatal("breaker should be active just before until")
	}

	// Read-time expiry: the flag stays set but no longer blocks.
	after := until.Add(time.Second)
	if s.BreakerActive(after) {
		t.Fatal("breaker should not block after until")
	}
	if !s.CircuitBreakerTriggered {
		t.Fatal("expiry read must not mutate the state")
	}
	if !s.BreakerExpired(after) {
		t.Fatal("BreakerExpired should report the lapsed cooldown")
	}

	s.ResetBreaker(after)
	if s.CircuitBreakerTriggered || s.CircuitBreakerUntil != nil || s.ConsecutiveLosses != 0 {
		t.Fatal("reset did not clear breaker state")
	}
}

func TestManualResetBreakerHasNoExpiry(t *testing.T) {
	now := time.Now()
	s := NewState(d(100000), now)
	s.TripBreaker(BreakerDrawdown, "drawdown breach", nil, now)

	if !s.BreakerActive(now.Add(365 * 24 * time.Hour)) {
		t.Fatal("nil-until breaker must block until manual reset")
	}
	if s.BreakerExpired(now.Add(time.Hour)) {
		t.Fatal("nil-until breaker never expires")
	}
}
