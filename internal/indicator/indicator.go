// Package indicator provides pure, stateless functions over ordered numeric
// sequences. Output series always have the same length as the input;
// positions without sufficient history carry NaN, which callers must filter.
package indicator

import (
	"math"
	"sort"
)

// Undefined is the sentinel for positions lacking sufficient history.
var Undefined = math.NaN()

// IsDefined reports whether a series value carries a real result.
func IsDefined(v float64) bool {
	return !math.IsNaN(v)
}

// SMA computes the simple moving average over the given period.
func SMA(values []float64, period int) []float64 {
	out := undefinedSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA computes the exponential moving average with smoothing 2/(period+1),
// seeded with the first value.
func EMA(values []float64, period int) []float64 {
	out := undefinedSeries(len(values))
	if period <= 0 || len(values) == 0 {
		return out
	}

	k := 2.0 / float64(period+1)
	ema := values[0]
	out[0] = ema
	for i := 1; i < len(values); i++ {
		ema = values[i]*k + ema*(1-k)
		out[i] = ema
	}
	return out
}

// RollingStdDev computes the rolling population standard deviation.
func RollingStdDev(values []float64, period int) []float64 {
	out := undefinedSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	for i := period - 1; i < len(values); i++ {
		window := values[i-period+1 : i+1]
		mean := 0.0
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)

		variance := 0.0
		for _, v := range window {
			d := v - mean
			variance += d * d
		}
		out[i] = math.Sqrt(variance / float64(period))
	}
	return out
}

// BollingerBands holds the middle band, outer bands, and relative width.
type BollingerBands struct {
	Middle []float64
	Upper  []float64
	Lower  []float64
	Width  []float64 // (upper - lower) / middle
}

// Bollinger computes Bollinger bands: middle = SMA, outer = middle ± k·σ.
func Bollinger(values []float64, period int, k float64) BollingerBands {
	middle := SMA(values, period)
	sigma := RollingStdDev(values, period)

	upper := undefinedSeries(len(values))
	lower := undefinedSeries(len(values))
	width := undefinedSeries(len(values))

	for i := range values {
		if !IsDefined(middle[i]) || !IsDefined(sigma[i]) {
			continue
		}
		upper[i] = middle[i] + k*sigma[i]
		lower[i] = middle[i] - k*sigma[i]
		if middle[i] != 0 {
			width[i] = (upper[i] - lower[i]) / middle[i]
		}
	}

	return BollingerBands{Middle: middle, Upper: upper, Lower: lower, Width: width}
}

// TrueRange computes the true range series. The first element uses
// high - low since no previous close exists.
func TrueRange(highs, lows, closes []float64) []float64 {
	out := undefinedSeries(len(closes))
	for i := range closes {
		if i == 0 {
			out[i] = highs[i] - lows[i]
			continue
		}
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		out[i] = math.Max(hl, math.Max(hc, lc))
	}
	return out
}

// ATR computes the average true range as SMA(TR, period).
func ATR(highs, lows, closes []float64, period int) []float64 {
	return SMA(TrueRange(highs, lows, closes), period)
}

// NATR computes the normalised ATR: 100 * ATR / close.
func NATR(highs, lows, closes []float64, period int) []float64 {
	atr := ATR(highs, lows, closes, period)
	out := undefinedSeries(len(closes))
	for i := range closes {
		if IsDefined(atr[i]) && closes[i] != 0 {
			out[i] = 100 * atr[i] / closes[i]
		}
	}
	return out
}

// RollingMax computes the maximum over a trailing window of size period.
func RollingMax(values []float64, period int) []float64 {
	out := undefinedSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	for i := period - 1; i < len(values); i++ {
		max := values[i-period+1]
		for _, v := range values[i-period+2 : i+1] {
			if v > max {
				max = v
			}
		}
		out[i] = max
	}
	return out
}

// RollingQuantile computes the rolling quantile at level q in [0, 1] over a
// trailing window, with linear interpolation between adjacent order
// statistics.
func RollingQuantile(values []float64, period int, q float64) []float64 {
	out := undefinedSeries(len(values))
	if period <= 0 || len(values) < period || q < 0 || q > 1 {
		return out
	}

	window := make([]float64, period)
	for i := period - 1; i < len(values); i++ {
		copy(window, values[i-period+1:i+1])
		sort.Float64s(window)
		out[i] = Quantile(window, q)
	}
	return out
}

// Quantile computes the q-quantile of a sorted sample with linear
// interpolation, matching the standard numerical-library convention.
func Quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return Undefined
	}
	if n == 1 {
		return sorted[0]
	}

	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// VolumeSpikes flags positions where volume exceeds k times its moving
// average. Positions where the MA is undefined are false.
func VolumeSpikes(volumes []float64, period int, k float64) []bool {
	ma := SMA(volumes, period)
	out := make([]bool, len(volumes))
	for i := range volumes {
		if IsDefined(ma[i]) {
			out[i] = volumes[i] > k*ma[i]
		}
	}
	return out
}

func undefinedSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = Undefined
	}
	return out
}
