package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/algomatic/decision-service/pkg/types"
)

func makeBars(n int, start, step float64) []types.PriceBar {
	bars := make([]types.PriceBar, n)
	for i := 0; i < n; i++ {
		price := start + float64(i)*step
		bars[i] = types.PriceBar{
			Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
			Open:      price - 0.2,
			High:      price + 1.0,
			Low:       price - 1.0,
			Close:     price,
			Volume:    1000,
		}
	}
	return bars
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	if got := SMA(values, 5); !almostEqual(got, 3, 1e-9) {
		t.Errorf("SMA(5) = %f, want 3", got)
	}
	if got := SMA(values, 2); !almostEqual(got, 4.5, 1e-9) {
		t.Errorf("SMA(2) = %f, want 4.5 (last two values)", got)
	}
	if got := SMA(values, 10); got != 0 {
		t.Errorf("SMA with short input = %f, want 0", got)
	}
}

func TestEMAConvergesToConstant(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = 42.0
	}
	if got := EMA(values, 20); !almostEqual(got, 42, 1e-9) {
		t.Errorf("EMA of constant series = %f, want 42", got)
	}
}

func TestEMASeriesShortInput(t *testing.T) {
	if got := EMASeries([]float64{1, 2}, 5); got != nil {
		t.Errorf("expected nil series for short input, got %v", got)
	}
}

func TestRSIExtremes(t *testing.T) {
	rising := make([]float64, 30)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	if got := RSI(rising, 14); got != 100 {
		t.Errorf("RSI of pure uptrend = %f, want 100", got)
	}

	falling := make([]float64, 30)
	for i := range falling {
		falling[i] = 100 - float64(i)
	}
	if got := RSI(falling, 14); got != 0 {
		t.Errorf("RSI of pure downtrend = %f, want 0", got)
	}

	if got := RSI([]float64{1, 2, 3}, 14); got != 0 {
		t.Errorf("RSI with short input = %f, want 0", got)
	}
}

func TestRSIBounded(t *testing.T) {
	// Alternating series keeps RSI strictly inside (0,100).
	values := make([]float64, 60)
	for i := range values {
		values[i] = 100 + float64(i%3)
	}
	rsi := RSI(values, 14)
	if rsi <= 0 || rsi >= 100 {
		t.Errorf("RSI = %f, want value in (0,100)", rsi)
	}
}

func TestMACDUptrendPositive(t *testing.T) {
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100 + float64(i)*0.5
	}
	m := MACD(closes)
	if m.Line <= 0 {
		t.Errorf("MACD line in steady uptrend = %f, want > 0", m.Line)
	}
}

func TestMACDShortInput(t *testing.T) {
	m := MACD(make([]float64, 20))
	if m.Line != 0 || m.Signal != 0 || m.Histogram != 0 {
		t.Errorf("MACD with short input = %+v, want zero result", m)
	}
}

func TestATR(t *testing.T) {
	bars := makeBars(30, 100, 0.5)
	atr := ATR(bars, 14)
	// Each bar spans high-low = 2.0 with a 0.5 drift; ATR should sit near 2.
	if atr < 1.5 || atr > 3.0 {
		t.Errorf("ATR = %f, want roughly 2", atr)
	}
	if got := ATR(bars[:5], 14); got != 0 {
		t.Errorf("ATR with short input = %f, want 0", got)
	}
}

func TestADXTrendingVsFlat(t *testing.T) {
	trending := makeBars(60, 100, 2.0)
	flat := make([]types.PriceBar, 60)
	for i := range flat {
		price := 100.0
		if i%2 == 0 {
			price = 100.5
		}
		flat[i] = types.PriceBar{
			Open: price, High: price + 0.5, Low: price - 0.5, Close: price, Volume: 1000,
		}
	}

	adxTrend := ADX(trending, 14)
	adxFlat := ADX(flat, 14)

	if adxTrend.ADX <= adxFlat.ADX {
		t.Errorf("ADX trending (%f) should exceed ADX flat (%f)", adxTrend.ADX, adxFlat.ADX)
	}
	if adxTrend.PlusDI <= adxTrend.MinusDI {
		t.Errorf("uptrend should have +DI (%f) > -DI (%f)", adxTrend.PlusDI, adxTrend.MinusDI)
	}
}

func TestADXShortInput(t *testing.T) {
	got := ADX(makeBars(10, 100, 1), 14)
	if got.ADX != 0 {
		t.Errorf("ADX with short input = %f, want 0", got.ADX)
	}
}

func TestBollinger(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i%2) // oscillates 100/101
	}
	b := Bollinger(closes, 20, 2.0)
	if b.Upper <= b.Middle || b.Middle <= b.Lower {
		t.Errorf("band ordering violated: %+v", b)
	}
	if !almostEqual(b.Middle, 100.5, 1e-9) {
		t.Errorf("middle band = %f, want 100.5", b.Middle)
	}
	if b.Bandwidth <= 0 {
		t.Errorf("bandwidth = %f, want > 0", b.Bandwidth)
	}
}

func TestPercentileRank(t *testing.T) {
	history := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := PercentileRank(history, 5); !almostEqual(got, 50, 1e-9) {
		t.Errorf("rank of 5 = %f, want 50", got)
	}
	if got := PercentileRank(history, 10); !almostEqual(got, 100, 1e-9) {
		t.Errorf("rank of 10 = %f, want 100", got)
	}
	if got := PercentileRank(history, 0); got != 0 {
		t.Errorf("rank of 0 = %f, want 0", got)
	}
	if got := PercentileRank(nil, 5); !almostEqual(got, 50, 1e-9) {
		t.Errorf("rank with empty history = %f, want default 50", got)
	}
}
