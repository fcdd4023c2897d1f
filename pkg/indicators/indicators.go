// Package indicators provides pure numeric indicator functions over bar
// and close-price sequences. All inputs are ordered oldest first.
//
// Short inputs return zero values rather than panicking; callers treat
// missing data as "no reading", not as an error.
package indicators

import (
	"math"

	"github.com/algomatic/decision-service/pkg/types"
)

// SMA returns the simple moving average of the last period values.
// Returns 0 when fewer than period values are available.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// StdDev returns the population standard deviation of the last period values.
func StdDev(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	window := values[len(values)-period:]
	mean := SMA(window, period)
	varSum := 0.0
	for _, v := range window {
		d := v - mean
		varSum += d * d
	}
	return math.Sqrt(varSum / float64(period))
}

// EMASeries returns the exponential moving average series for the input.
// The first period-1 entries are NaN; the EMA is seeded with the SMA of
// the first period values.
func EMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, len(values))
	for i := 0; i < period-1; i++ {
		out[i] = math.NaN()
	}

	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	seed /= float64(period)
	out[period-1] = seed

	k := 2.0 / float64(period+1)
	ema := seed
	for i := period; i < len(values); i++ {
		ema = values[i]*k + ema*(1-k)
		out[i] = ema
	}
	return out
}

// EMA returns the latest exponential moving average value.
func EMA(values []float64, period int) float64 {
	series := EMASeries(values, period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// RSI returns the latest Relative Strength Index (Wilder smoothing).
// Returns 0 when fewer than period+1 values are available.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 0
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		delta := values[i] - values[i-1]
		if delta >= 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	for i := period + 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		up, down := 0.0, 0.0
		if delta >= 0 {
			up = delta
		} else {
			down = -delta
		}
		avgGain = (avgGain*float64(period-1) + up) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + down) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACD returns the latest MACD(12,26,9) reading including the previous
// histogram value, which strategies use for slope confirmation.
// Returns a zero result when fewer than 35 closes are available.
func MACD(closes []float64) types.MACDResult {
	const (
		fast   = 12
		slow   = 26
		signal = 9
	)
	if len(closes) < slow+signal {
		return types.MACDResult{}
	}

	fastSeries := EMASeries(closes, fast)
	slowSeries := EMASeries(closes, slow)

	// MACD line is defined from the slow period onward.
	macdSeries := make([]float64, 0, len(closes)-slow+1)
	for i := slow - 1; i < len(closes); i++ {
		macdSeries = append(macdSeries, fastSeries[i]-slowSeries[i])
	}

	signalSeries := EMASeries(macdSeries, signal)
	if len(signalSeries) == 0 {
		return types.MACDResult{}
	}

	last := len(macdSeries) - 1
	result := types.MACDResult{
		Line:      macdSeries[last],
		Signal:    signalSeries[last],
		Histogram: macdSeries[last] - signalSeries[last],
	}
	if last >= 1 && !math.IsNaN(signalSeries[last-1]) {
		result.PrevHist = macdSeries[last-1] - signalSeries[last-1]
	}
	return result
}

// TrueRange returns the true range of a bar given the previous close.
func TrueRange(bar types.PriceBar, prevClose float64) float64 {
	return math.Max(bar.High-bar.Low,
		math.Max(math.Abs(bar.High-prevClose), math.Abs(bar.Low-prevClose)))
}

// ATR returns the latest average true range (Wilder smoothing).
// Returns 0 when fewer than period+1 bars are available.
func ATR(bars []types.PriceBar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}

	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += TrueRange(bars[i], bars[i-1].Close)
	}
	atr := sum / float64(period)

	for i := period + 1; i < len(bars); i++ {
		tr := TrueRange(bars[i], bars[i-1].Close)
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr
}

// ADX returns the latest ADX reading with +DI/-DI (Wilder smoothing).
// Returns a zero result when fewer than 2*period+1 bars are available.
func ADX(bars []types.PriceBar, period int) types.ADXResult {
	if period <= 0 || len(bars) < 2*period+1 {
		return types.ADXResult{Period: period}
	}

	n := len(bars) - 1
	trs := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)

	for i := 1; i < len(bars); i++ {
		trs[i-1] = TrueRange(bars[i], bars[i-1].Close)
		upMove := bars[i].High - bars[i-1].High
		downMove := bars[i-1].Low - bars[i].Low
		if upMove > downMove && upMove > 0 {
			plusDM[i-1] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i-1] = downMove
		}
	}

	// Wilder-smoothed running sums.
	smTR := sum(trs[:period])
	smPlus := sum(plusDM[:period])
	smMinus := sum(minusDM[:period])

	var plusDI, minusDI float64
	dxs := make([]float64, 0, n-period+1)

	record := func() {
		if smTR == 0 {
			plusDI, minusDI = 0, 0
		} else {
			plusDI = 100 * smPlus / smTR
			minusDI = 100 * smMinus / smTR
		}
		diSum := plusDI + minusDI
		if diSum == 0 {
			dxs = append(dxs, 0)
		} else {
			dxs = append(dxs, 100*math.Abs(plusDI-minusDI)/diSum)
		}
	}
	record()

	for i := period; i < n; i++ {
		smTR = smTR - smTR/float64(period) + trs[i]
		smPlus = smPlus - smPlus/float64(period) + plusDM[i]
		smMinus = smMinus - smMinus/float64(period) + minusDM[i]
		record()
	}

	// ADX is the Wilder average of DX.
	adx := sum(dxs[:period]) / float64(period)
	for i := period; i < len(dxs); i++ {
		adx = (adx*float64(period-1) + dxs[i]) / float64(period)
	}

	return types.ADXResult{Period: period, ADX: adx, PlusDI: plusDI, MinusDI: minusDI}
}

// Bollinger returns Bollinger band levels over the last period closes.
// Returns a zero result when fewer than period closes are available.
func Bollinger(closes []float64, period int, mult float64) types.BollingerResult {
	if period <= 0 || len(closes) < period {
		return types.BollingerResult{Period: period}
	}
	middle := SMA(closes, period)
	sd := StdDev(closes, period)
	result := types.BollingerResult{
		Period: period,
		Upper:  middle + mult*sd,
		Middle: middle,
		Lower:  middle - mult*sd,
	}
	if middle != 0 {
		result.Bandwidth = (result.Upper - result.Lower) / middle
	}
	return result
}

// PercentileRank returns the percentile rank of value within history:
// (count of samples <= value) / count * 100. With empty history the rank
// is indeterminate and defaults to 50.
func PercentileRank(history []float64, value float64) float64 {
	if len(history) == 0 {
		return 50
	}
	count := 0
	for _, v := range history {
		if v <= value {
			count++
		}
	}
	return float64(count) / float64(len(history)) * 100
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}
