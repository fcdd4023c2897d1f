package signal

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/algomatic/decision-service/pkg/regime"
	"github.com/algomatic/decision-service/pkg/strategy"
	"github.com/algomatic/decision-service/pkg/types"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeStrategy emits canned signals and records whether it ran and
// under which regime.
type fakeStrategy struct {
	name       string
	regimes    []types.MarketRegime
	output     []types.Signal
	invoked    bool
	lastRegime types.MarketRegime
}

func (f *fakeStrategy) Name() string                           { return f.name }
func (f *fakeStrategy) PreferredRegimes() []types.MarketRegime { return f.regimes }
func (f *fakeStrategy) Generate(in strategy.Input) []types.Signal {
	f.invoked = true
	f.lastRegime = in.Regime
	out := make([]types.Signal, len(f.output))
	copy(out, f.output)
	for i := range out {
		out[i].Symbol = in.Symbol
		out[i].Regime = in.Regime
	}
	return out
}

func allRegimes() []types.MarketRegime {
	return []types.MarketRegime{
		types.RegimeStrongTrendUp, types.RegimeStrongTrendDown,
		types.RegimeWeakTrendUp, types.RegimeWeakTrendDown,
		types.RegimeRanging, types.RegimeHighVolatility, types.RegimeLowVolatility,
	}
}

func canned(name string, dir types.Direction, strength float64) types.Signal {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return types.Signal{
		Symbol:    "MNQ",
		Direction: dir,
		Strength:  strength,
		Source:    name,
		Reasons:   []string{"canned"},
		Timestamp: now,
		ExpiresAt: now.Add(4 * time.Hour),
		Status:    types.SignalActive,
	}
}

func barAt(i int, price, span float64) types.PriceBar {
	return types.PriceBar{
		Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
		Open:      price,
		High:      price + span,
		Low:       price - span,
		Close:     price,
		Volume:    1000,
	}
}

func choppyBars(n int) []types.PriceBar {
	bars := make([]types.PriceBar, n)
	for i := range bars {
		price := 100.0 + 0.3*float64(i%2)
		bars[i] = barAt(i, price, 0.4)
	}
	return bars
}

func risingBars(n int) []types.PriceBar {
	bars := make([]types.PriceBar, n)
	steps := []float64{5, 7, 9}
	price := 15000.0
	for i := range bars {
		price += steps[i%3]
		bars[i] = barAt(i, price, 6)
	}
	return bars
}

func managerWith(cfg Config, strategies ...strategy.Strategy) *Manager {
	return NewManager(cfg, regime.Config{}, strategies, newTestLogger())
}

func testInput(bars []types.PriceBar, at time.Time) Input {
	return Input{
		Symbol:     "MNQ",
		AssetClass: types.AssetFutures,
		Timeframe:  types.Timeframe1Hour,
		Bars:       bars,
		Now:        at,
	}
}

func TestTimeFilterHardBlock(t *testing.T) {
	fake := &fakeStrategy{name: "momentum", regimes: allRegimes(),
		output: []types.Signal{canned("momentum", types.Long, 0.9)}}

	m := managerWith(Config{
		TimeFilterEnabled: true,
		TradingWindows: map[types.AssetClass][]TradingWindow{
			types.AssetFutures: {{Start: 9 * 60, End: 10 * 60}},
		},
	}, fake)

	outside := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	if got := m.GenerateSignals(testInput(choppyBars(60), outside)); len(got) != 0 {
		t.Errorf("expected hard block outside window, got %d signals", len(got))
	}
	if fake.invoked {
		t.Error("strategies must not run while the time filter blocks")
	}

	inside := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	if got := m.GenerateSignals(testInput(choppyBars(60), inside)); len(got) != 1 {
		t.Errorf("expected 1 signal inside window, got %d", len(got))
	}
}

func TestVolatilityFilterKeepsOnlyMomentum(t *testing.T) {
	momentum := &fakeStrategy{name: "momentum", regimes: allRegimes(),
		output: []types.Signal{canned("momentum", types.Long, 0.8)}}
	reversion := &fakeStrategy{name: "mean_reversion", regimes: allRegimes(),
		output: []types.Signal{canned("mean_reversion", types.Short, 0.8)}}

	m := managerWith(Config{VolatilityFilterEnabled: true}, momentum, reversion)

	// Seed quiet ATR history, then feed wide bars so the detector
	// classifies high volatility.
	quiet := choppyBars(60)
	for i := 0; i < 30; i++ {
		m.GenerateSignals(testInput(quiet, time.Time{}))
	}
	wild := make([]types.PriceBar, 60)
	for i := range wild {
		wild[i] = barAt(i, 100+float64(i%2)*8, 12)
	}
	momentum.invoked, reversion.invoked = false, false

	got := m.GenerateSignals(testInput(wild, time.Time{}))
	if !momentum.invoked {
		t.Error("momentum must stay eligible during high volatility")
	}
	if reversion.invoked {
		t.Error("mean reversion must be suppressed during high volatility")
	}
	for _, sig := range got {
		if sig.Source != "momentum" {
			t.Errorf("unexpected signal from %s during high volatility", sig.Source)
		}
	}
}

func TestDetectorHistoryIsPerSymbol(t *testing.T) {
	rec := &fakeStrategy{name: "momentum", regimes: allRegimes()}
	m := managerWith(Config{}, rec)

	inputFor := func(symbol string, bars []types.PriceBar) Input {
		return Input{
			Symbol:     symbol,
			AssetClass: types.AssetFutures,
			Timeframe:  types.Timeframe1Hour,
			Bars:       bars,
		}
	}

	// Saturate one symbol's ATR history at index-futures scale.
	for i := 0; i < 30; i++ {
		m.GenerateSignals(inputFor("MNQ", risingBars(60)))
	}

	// A low-priced symbol ranks its ATR against its own history. Quiet
	// windows first, then a wide window: percentile must hit the top of
	// the small scale, not the bottom of the large one.
	quiet := make([]types.PriceBar, 60)
	for i := range quiet {
		quiet[i] = barAt(i, 20+0.02*float64(i%2), 0.05)
	}
	for i := 0; i < 30; i++ {
		m.GenerateSignals(inputFor("PENNY", quiet))
	}

	wild := make([]types.PriceBar, 60)
	for i := range wild {
		wild[i] = barAt(i, 20+float64(i%2)*1.5, 2)
	}
	rec.lastRegime = ""
	m.GenerateSignals(inputFor("PENNY", wild))

	if rec.lastRegime != types.RegimeHighVolatility {
		t.Errorf("regime = %s, want high_volatility from the symbol's own ATR history", rec.lastRegime)
	}
}

func TestCombineKeepsBestPerDirection(t *testing.T) {
	a := &fakeStrategy{name: "momentum", regimes: allRegimes(),
		output: []types.Signal{canned("momentum", types.Long, 0.5)}}
	b := &fakeStrategy{name: "breakout", regimes: allRegimes(),
		output: []types.Signal{canned("breakout", types.Long, 0.9), canned("breakout", types.Short, 0.6)}}

	m := managerWith(Config{}, a, b)
	got := m.GenerateSignals(testInput(choppyBars(60), time.Time{}))

	if len(got) != 2 {
		t.Fatalf("expected 2 signals (one per direction), got %d", len(got))
	}
	longs, shorts := 0, 0
	for _, sig := range got {
		switch sig.Direction {
		case types.Long:
			longs++
			if sig.Source != "breakout" || sig.Strength != 0.9 {
				t.Errorf("long winner = %s/%.2f, want breakout/0.90", sig.Source, sig.Strength)
			}
		case types.Short:
			shorts++
		}
	}
	if longs != 1 || shorts != 1 {
		t.Errorf("got %d longs and %d shorts, want 1 and 1", longs, shorts)
	}
	// Sorted by strength descending.
	if got[0].Strength < got[1].Strength {
		t.Error("signals must be sorted by strength descending")
	}
}

func TestEqualStrengthTieBreakByPriority(t *testing.T) {
	first := &fakeStrategy{name: "momentum", regimes: allRegimes(),
		output: []types.Signal{canned("momentum", types.Long, 0.7)}}
	second := &fakeStrategy{name: "breakout", regimes: allRegimes(),
		output: []types.Signal{canned("breakout", types.Long, 0.7)}}

	m := managerWith(Config{}, first, second)
	got := m.GenerateSignals(testInput(choppyBars(60), time.Time{}))
	if len(got) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(got))
	}
	if got[0].Source != "momentum" {
		t.Errorf("tie must go to the higher-priority strategy, got %s", got[0].Source)
	}
}

func TestMaxSignalsPerSymbolTruncation(t *testing.T) {
	fake := &fakeStrategy{name: "momentum", regimes: allRegimes(),
		output: []types.Signal{
			canned("momentum", types.Long, 0.9),
			canned("momentum", types.Short, 0.5),
		}}

	m := managerWith(Config{MaxSignalsPerSymbol: 1}, fake)
	got := m.GenerateSignals(testInput(choppyBars(60), time.Time{}))
	if len(got) != 1 {
		t.Fatalf("expected truncation to 1 signal, got %d", len(got))
	}
	if got[0].Direction != types.Long {
		t.Errorf("truncation must keep the strongest signal, got %s", got[0].Direction)
	}
}

func TestGlobalMinStrengthFloor(t *testing.T) {
	fake := &fakeStrategy{name: "momentum", regimes: allRegimes(),
		output: []types.Signal{canned("momentum", types.Long, 0.1)}}

	m := managerWith(Config{MinStrength: 0.3}, fake)
	if got := m.GenerateSignals(testInput(choppyBars(60), time.Time{})); len(got) != 0 {
		t.Errorf("expected weak signal dropped, got %d", len(got))
	}
}

func TestRegimeDispatch(t *testing.T) {
	trendOnly := &fakeStrategy{name: "momentum",
		regimes: []types.MarketRegime{types.RegimeStrongTrendUp, types.RegimeWeakTrendUp},
		output:  []types.Signal{canned("momentum", types.Long, 0.8)}}
	rangeOnly := &fakeStrategy{name: "mean_reversion",
		regimes: []types.MarketRegime{types.RegimeRanging},
		output:  []types.Signal{canned("mean_reversion", types.Long, 0.8)}}

	m := managerWith(Config{}, trendOnly, rangeOnly)
	m.GenerateSignals(testInput(risingBars(60), time.Time{}))

	if !trendOnly.invoked {
		t.Error("trend strategy should run in a trending regime")
	}
	if rangeOnly.invoked {
		t.Error("range strategy should not run in a trending regime")
	}
}

func TestGenerateWithRealStrategies(t *testing.T) {
	cfg := strategy.Config{MinStrength: 0.3}
	m := NewManager(
		Config{MinStrength: 0.3},
		regime.Config{},
		[]strategy.Strategy{
			strategy.NewMomentum(cfg),
			strategy.NewBreakout(cfg),
			strategy.NewMeanReversion(cfg),
		},
		newTestLogger(),
	)

	got := m.GenerateSignals(testInput(risingBars(50), time.Time{}))
	if len(got) < 1 {
		t.Fatal("expected at least one signal from a strongly rising window")
	}
	if len(got) > 2 {
		t.Errorf("expected at most 2 signals, got %d", len(got))
	}
	seen := map[types.Direction]bool{}
	for _, sig := range got {
		if seen[sig.Direction] {
			t.Errorf("more than one %s signal emitted", sig.Direction)
		}
		seen[sig.Direction] = true
		if sig.Strength < 0.3 || sig.Strength > 1 {
			t.Errorf("strength %f outside [0.3,1]", sig.Strength)
		}
	}
}

func TestValidateSignal(t *testing.T) {
	m := managerWith(Config{TimeFilterEnabled: false})

	sig := canned("momentum", types.Long, 0.8)
	before := sig.ExpiresAt.Add(-time.Minute)
	after := sig.ExpiresAt.Add(time.Minute)

	if !m.ValidateSignal(&sig, before) {
		t.Error("unexpired signal with filters disabled must validate")
	}
	if m.ValidateSignal(&sig, after) {
		t.Error("expired signal must not validate")
	}
}

func TestValidateSignalTimeFilter(t *testing.T) {
	m := managerWith(Config{
		TimeFilterEnabled: true,
		TradingWindows: map[types.AssetClass][]TradingWindow{
			types.AssetFutures: {{Start: 9 * 60, End: 10 * 60}},
		},
	})

	sig := canned("momentum", types.Long, 0.8)
	sig.AssetClass = types.AssetFutures
	sig.ExpiresAt = time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	inside := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	outside := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)

	if !m.ValidateSignal(&sig, inside) {
		t.Error("signal inside session window must validate")
	}
	if m.ValidateSignal(&sig, outside) {
		t.Error("signal outside session window must not validate")
	}
}
