package risk

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/algomatic/decision-service/pkg/types"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	m, err := NewManager(cfg, logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func testSignal(assetClass types.AssetClass, entry, stop float64) *types.Signal {
	return &types.Signal{
		ID:         "sig-1",
		Symbol:     "ES",
		AssetClass: assetClass,
		Timeframe:  types.Timeframe15Min,
		Direction:  types.Long,
		Strength:   0.7,
		EntryPrice: entry,
		StopLoss:   stop,
		Status:     types.SignalActive,
	}
}

func testAccount(equity float64, positions ...Position) AccountSnapshot {
	return AccountSnapshot{
		TotalEquity: d(equity),
		Positions:   positions,
		Exposure:    ComputeExposure(positions),
	}
}

func position(symbol string, class types.AssetClass, marketValue float64) Position {
	return Position{
		Symbol:      symbol,
		AssetClass:  class,
		Side:        types.Long,
		Quantity:    decimal.NewFromInt(1),
		EntryPrice:  d(marketValue),
		MarketValue: d(marketValue),
	}
}

func TestEvaluateAllowSizesWithinPositionCap(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	now := time.Now()
	state := NewState(d(100000), now)
	account := testAccount(100000)

	ev, err := m.EvaluateOrder(testSignal(types.AssetFutures, 15000, 14700), account, state, now)
	if err != nil {
		t.Fatalf("EvaluateOrder: %v", err)
	}
	if ev.Decision != Allow {
		t.Fatalf("decision = %s, reason %q", ev.Decision, ev.Reason)
	}
	if !ev.Quantity.Equal(ev.Quantity.Floor()) {
		t.Fatalf("futures quantity %s is fractional", ev.Quantity)
	}
	if !ev.Quantity.IsPositive() {
		t.Fatalf("quantity %s not positive", ev.Quantity)
	}
	// quantity x entry must stay within maxPositionPercent of equity.
	maxNotional := d(100000 * 0.20)
	if ev.OrderValue.GreaterThan(maxNotional) {
		t.Fatalf("order value %s exceeds 20%% of equity", ev.OrderValue)
	}
}

func TestEvaluateEquitiesAllowsFractionalQuantity(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	now := time.Now()
	state := NewState(d(100000), now)

	ev, err := m.EvaluateOrder(testSignal(types.AssetEquities, 100, 98), testAccount(100000), state, now)
	if err != nil {
		t.Fatalf("EvaluateOrder: %v", err)
	}
	if ev.Decision != Allow {
		t.Fatalf("decision = %s, reason %q", ev.Decision, ev.Reason)
	}
	// risk cap gives 500 units, position cap clamps to 200.
	if !ev.Quantity.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("quantity = %s, want 200", ev.Quantity)
	}
}

func TestBlockAtMaxConcurrentPositions(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	now := time.Now()
	state := NewState(d(100000), now)

	positions := make([]Position, 5)
	for i := range positions {
		positions[i] = position(fmt.Sprintf("SYM%d", i), types.AssetEquities, 1000)
	}
	account := testAccount(100000, positions...)

	ev, err := m.EvaluateOrder(testSignal(types.AssetFutures, 15000, 14700), account, state, now)
	if err != nil {
		t.Fatalf("EvaluateOrder: %v", err)
	}
	if ev.Decision != Block {
		t.Fatalf("decision = %s, want BLOCK", ev.Decision)
	}
	if !strings.Contains(ev.Reason, "Maximum concurrent positions") {
		t.Fatalf("reason %q missing required substring", ev.Reason)
	}
	last := ev.Checks[len(ev.Checks)-1]
	if last.Name != CheckPositionCount || last.Passed {
		t.Fatalf("last check = %+v, want failed position_count", last)
	}
}

func TestCircuitBreakerBlocksUntilCooldownLapses(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	now := time.Now()
	state := NewState(d(100000), now)
	until := now.Add(30 * time.Minute)
	state.TripBreaker(BreakerConsecutiveLosses, "4 consecutive losses", &until, now)

	sig := testSignal(types.AssetFutures, 15000, 14700)
	account := testAccount(100000)

	ev, err := m.EvaluateOrder(sig, account, state, now)
	if err != nil {
		t.Fatalf("EvaluateOrder: %v", err)
	}
	if ev.Decision != Block || !strings.Contains(ev.Reason, "circuit breaker") {
		t.Fatalf("decision = %s, reason %q", ev.Decision, ev.Reason)
	}

	// Past the cooldown the check stops blocking even though the flag
	// has not been persisted off yet.
	ev, err = m.EvaluateOrder(sig, account, state, until.Add(time.Second))
	if err != nil {
		t.Fatalf("EvaluateOrder: %v", err)
	}
	if ev.Decision != Allow {
		t.Fatalf("decision after cooldown = %s, reason %q", ev.Decision, ev.Reason)
	}
}

func TestDailyLossBlockTripsBreaker(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	now := time.Now()
	state := NewState(d(100000), now)
	state.UpdateEquity(d(96500), now) // -3.5% on the day

	ev, err := m.EvaluateOrder(testSignal(types.AssetFutures, 15000, 14700), testAccount(96500), state, now)
	if err != nil {
		t.Fatalf("EvaluateOrder: %v", err)
	}
	if ev.Decision != Block || !strings.Contains(ev.Reason, "daily loss") {
		t.Fatalf("decision = %s, reason %q", ev.Decision, ev.Reason)
	}
	if !state.CircuitBreakerTriggered || state.CircuitBreakerType != BreakerDailyLoss {
		t.Fatalf("breaker not tripped: %+v", state)
	}
	if state.CircuitBreakerUntil == nil {
		t.Fatal("daily loss trip should carry a cooldown")
	}

	// The next evaluation fails at the breaker check itself.
	ev, err = m.EvaluateOrder(testSignal(types.AssetFutures, 15000, 14700), testAccount(96500), state, now)
	if err != nil {
		t.Fatalf("EvaluateOrder: %v", err)
	}
	if ev.Decision != Block || ev.Checks[0].Name != CheckCircuitBreaker || ev.Checks[0].Passed {
		t.Fatalf("expected breaker block, got %s %q", ev.Decision, ev.Reason)
	}
}

func TestWeeklyLossBlocks(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	now := time.Now()
	state := NewState(d(100000), now)
	state.ResetDaily(d(93500), now) // daily baseline moves, weekly stays
	state.UpdateEquity(d(93500), now)

	ev, err := m.EvaluateOrder(testSignal(types.AssetFutures, 15000, 14700), testAccount(93500), state, now)
	if err != nil {
		t.Fatalf("EvaluateOrder: %v", err)
	}
	if ev.Decision != Block || !strings.Contains(ev.Reason, "weekly loss") {
		t.Fatalf("decision = %s, reason %q", ev.Decision, ev.Reason)
	}
}

func TestDrawdownBlocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDailyLossPercent = 50 // keep the earlier checks out of the way
	cfg.MaxWeeklyLossPercent = 50
	m := newTestManager(t, cfg)
	now := time.Now()
	state := NewState(d(100000), now)
	state.UpdateEquity(d(89000), now) // live drawdown 11%

	ev, err := m.EvaluateOrder(testSignal(types.AssetFutures, 15000, 14700), testAccount(89000), state, now)
	if err != nil {
		t.Fatalf("EvaluateOrder: %v", err)
	}
	if ev.Decision != Block || !strings.Contains(ev.Reason, "drawdown") {
		t.Fatalf("decision = %s, reason %q", ev.Decision, ev.Reason)
	}
}

func TestCorrelationUsesTighterOfGroupAndGlobalCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CorrelationGroups = []CorrelationGroup{
		{Name: "index_futures", Symbols: []string{"ES", "NQ"}, MaxConcentration: 10},
	}
	m := newTestManager(t, cfg)
	now := time.Now()
	state := NewState(d(100000), now)
	account := testAccount(100000, position("NQ", types.AssetFutures, 8000))

	// Proposed notional 15000 + existing 8000 = 23% of equity, over
	// the 10% group cap (tighter than the 20% global cap).
	ev, err := m.EvaluateOrder(testSignal(types.AssetFutures, 15000, 14700), account, state, now)
	if err != nil {
		t.Fatalf("EvaluateOrder: %v", err)
	}
	if ev.Decision != Block || !strings.Contains(ev.Reason, "index_futures") {
		t.Fatalf("decision = %s, reason %q", ev.Decision, ev.Reason)
	}
}

func TestExposureCeilingBlocks(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	now := time.Now()
	state := NewState(d(100000), now)
	account := testAccount(100000,
		position("GC", types.AssetFutures, 30000),
		position("CL", types.AssetFutures, 20000))

	// 50000 existing + 15000 proposed = 65% futures, cap 60%.
	ev, err := m.EvaluateOrder(testSignal(types.AssetFutures, 15000, 14700), account, state, now)
	if err != nil {
		t.Fatalf("EvaluateOrder: %v", err)
	}
	if ev.Decision != Block || !strings.Contains(ev.Reason, "futures exposure") {
		t.Fatalf("decision = %s, reason %q", ev.Decision, ev.Reason)
	}
}

func TestExposureNearCapWarnsButAllows(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	now := time.Now()
	state := NewState(d(100000), now)
	account := testAccount(100000, position("GC", types.AssetFutures, 35000))

	// 35000 + 15000 = 50% futures, which is over 80% of the 60% cap.
	ev, err := m.EvaluateOrder(testSignal(types.AssetFutures, 15000, 14700), account, state, now)
	if err != nil {
		t.Fatalf("EvaluateOrder: %v", err)
	}
	if ev.Decision != Allow {
		t.Fatalf("decision = %s, reason %q", ev.Decision, ev.Reason)
	}
	found := false
	for _, w := range ev.Warnings {
		if strings.Contains(w, "futures exposure") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing exposure warning, got %v", ev.Warnings)
	}
}

func TestPDTBufferBlocks(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	now := time.Now()
	state := NewState(d(100000), now)
	state.DayTradesRemaining = 1 // equal to the reserved buffer
	account := testAccount(100000)
	account.PatternDayTrader = true

	ev, err := m.EvaluateOrder(testSignal(types.AssetEquities, 100, 98), account, state, now)
	if err != nil {
		t.Fatalf("EvaluateOrder: %v", err)
	}
	if ev.Decision != Block || !strings.Contains(ev.Reason, "day trades") {
		t.Fatalf("decision = %s, reason %q", ev.Decision, ev.Reason)
	}
}

func TestQuantityRoundingToZeroBlocks(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	now := time.Now()
	state := NewState(d(50000), now)

	// Position cap allows 10000 notional, under one 15000 contract.
	ev, err := m.EvaluateOrder(testSignal(types.AssetFutures, 15000, 14700), testAccount(50000), state, now)
	if err != nil {
		t.Fatalf("EvaluateOrder: %v", err)
	}
	if ev.Decision != Block || !strings.Contains(ev.Reason, "order value below minimum") {
		t.Fatalf("decision = %s, reason %q", ev.Decision, ev.Reason)
	}
}

func TestInvalidInputReturnsError(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	now := time.Now()
	state := NewState(d(100000), now)
	account := testAccount(100000)

	cases := []struct {
		name string
		sig  *types.Signal
		acct AccountSnapshot
	}{
		{"nil signal", nil, account},
		{"zero entry", testSignal(types.AssetFutures, 0, 14700), account},
		{"zero stop", testSignal(types.AssetFutures, 15000, 0), account},
		{"entry equals stop", testSignal(types.AssetFutures, 15000, 15000), account},
		{"zero equity", testSignal(types.AssetFutures, 15000, 14700), testAccount(0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.EvaluateOrder(tc.sig, tc.acct, state, now)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestRecordTradeOutcomeTripsBreakerOnLossStreak(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	now := time.Now()
	state := NewState(d(100000), now)

	for i := 0; i < 3; i++ {
		m.RecordTradeOutcome(state, d(-500), now)
	}
	if state.CircuitBreakerTriggered {
		t.Fatal("breaker tripped before reaching the limit")
	}

	m.RecordTradeOutcome(state, d(250), now) // win resets the streak
	for i := 0; i < 4; i++ {
		m.RecordTradeOutcome(state, d(-500), now)
	}
	if !state.CircuitBreakerTriggered || state.CircuitBreakerType != BreakerConsecutiveLosses {
		t.Fatalf("breaker not tripped after 4 straight losses: %+v", state)
	}
	if state.CircuitBreakerUntil == nil {
		t.Fatal("loss streak trip should carry a cooldown")
	}
	wantUntil := now.Add(60 * time.Minute)
	if !state.CircuitBreakerUntil.Equal(wantUntil) {
		t.Fatalf("until = %v, want %v", state.CircuitBreakerUntil, wantUntil)
	}
}

func TestObserveEquityTripsDrawdownBreakerWithoutCooldown(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	now := time.Now()
	state := NewState(d(100000), now)

	m.ObserveEquity(state, d(89000), now)
	if !state.CircuitBreakerTriggered || state.CircuitBreakerType != BreakerDrawdown {
		t.Fatalf("breaker not tripped on drawdown: %+v", state)
	}
	if state.CircuitBreakerUntil != nil {
		t.Fatal("drawdown trip must require manual reset")
	}
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero risk per trade", func(c *Config) { c.MaxRiskPerTradePercent = 0 }},
		{"negative drawdown limit", func(c *Config) { c.MaxDrawdownPercent = -1 }},
		{"zero positions", func(c *Config) { c.MaxConcurrentPositions = 0 }},
		{"min over max order value", func(c *Config) {
			c.MinOrderValue = decimal.NewFromInt(60000)
		}},
		{"empty group symbols", func(c *Config) {
			c.CorrelationGroups = []CorrelationGroup{{Name: "g", MaxConcentration: 10}}
		}},
		{"duplicate group symbol", func(c *Config) {
			c.CorrelationGroups = []CorrelationGroup{
				{Name: "a", Symbols: []string{"ES"}, MaxConcentration: 10},
				{Name: "b", Symbols: []string{"ES"}, MaxConcentration: 10},
			}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if _, err := NewManager(cfg, nil); err == nil {
				t.Fatal("expected config error")
			}
		})
	}
}
