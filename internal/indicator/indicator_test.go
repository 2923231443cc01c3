package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"upbit-trading-bot/internal/database"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	out := SMA(values, 3)

	if len(out) != len(values) {
		t.Fatalf("expected output length %d, got %d", len(values), len(out))
	}
	for i := 0; i < 2; i++ {
		if IsDefined(out[i]) {
			t.Errorf("position %d should be undefined", i)
		}
	}
	if !almostEqual(out[2], 2) || !almostEqual(out[3], 3) || !almostEqual(out[4], 4) {
		t.Errorf("unexpected SMA values: %v", out)
	}
}

func TestSMAInsufficientData(t *testing.T) {
	out := SMA([]float64{1, 2}, 5)
	for i, v := range out {
		if IsDefined(v) {
			t.Errorf("position %d should be undefined with short input", i)
		}
	}
}

func TestEMA(t *testing.T) {
	values := []float64{10, 20, 30}
	out := EMA(values, 3) // k = 0.5, seeded with 10

	if !almostEqual(out[0], 10) {
		t.Errorf("expected seed 10, got %f", out[0])
	}
	if !almostEqual(out[1], 15) {
		t.Errorf("expected 15, got %f", out[1])
	}
	if !almostEqual(out[2], 22.5) {
		t.Errorf("expected 22.5, got %f", out[2])
	}
}

func TestBollingerLengthAndSentinels(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	period := 8
	bands := Bollinger(values, period, 2)

	for _, series := range [][]float64{bands.Middle, bands.Upper, bands.Lower, bands.Width} {
		if len(series) != len(values) {
			t.Fatalf("band length %d != input length %d", len(series), len(values))
		}
		for i := 0; i < period-1; i++ {
			if IsDefined(series[i]) {
				t.Errorf("position %d should be undefined", i)
			}
		}
	}

	// Population stddev of this sample is exactly 2
	last := len(values) - 1
	if !almostEqual(bands.Middle[last], 5) {
		t.Errorf("expected middle 5, got %f", bands.Middle[last])
	}
	if !almostEqual(bands.Upper[last], 9) {
		t.Errorf("expected upper 9, got %f", bands.Upper[last])
	}
	if !almostEqual(bands.Lower[last], 1) {
		t.Errorf("expected lower 1, got %f", bands.Lower[last])
	}
}

func TestRollingMax(t *testing.T) {
	out := RollingMax([]float64{3, 1, 4, 1, 5}, 3)
	want := []float64{math.NaN(), math.NaN(), 4, 4, 5}
	for i := 2; i < len(want); i++ {
		if !almostEqual(out[i], want[i]) {
			t.Errorf("position %d: expected %f, got %f", i, want[i], out[i])
		}
	}
}

func TestRollingQuantileInterpolation(t *testing.T) {
	values := []float64{1, 2, 3, 4}
	out := RollingQuantile(values, 4, 0.5)

	if IsDefined(out[2]) {
		t.Error("position 2 should be undefined for period 4")
	}
	// median of {1,2,3,4} with linear interpolation = 2.5
	if !almostEqual(out[3], 2.5) {
		t.Errorf("expected 2.5, got %f", out[3])
	}
}

func TestQuantileEdges(t *testing.T) {
	sorted := []float64{10, 20, 30}
	if !almostEqual(Quantile(sorted, 0), 10) {
		t.Error("q=0 should be the minimum")
	}
	if !almostEqual(Quantile(sorted, 1), 30) {
		t.Error("q=1 should be the maximum")
	}
	if !almostEqual(Quantile(sorted, 0.25), 15) {
		t.Errorf("q=0.25 should interpolate to 15, got %f", Quantile(sorted, 0.25))
	}
}

func TestATRFirstElement(t *testing.T) {
	highs := []float64{12, 13}
	lows := []float64{8, 9}
	closes := []float64{10, 11}

	tr := TrueRange(highs, lows, closes)
	if !almostEqual(tr[0], 4) {
		t.Errorf("first TR should be high-low=4, got %f", tr[0])
	}
	// TR[1] = max(13-9, |13-10|, |9-10|) = 4
	if !almostEqual(tr[1], 4) {
		t.Errorf("expected TR 4, got %f", tr[1])
	}
}

func TestVolumeSpikes(t *testing.T) {
	volumes := []float64{10, 10, 10, 50}
	spikes := VolumeSpikes(volumes, 3, 2)

	if spikes[0] || spikes[1] {
		t.Error("positions without a defined MA must not spike")
	}
	if spikes[2] {
		t.Error("flat volume must not spike")
	}
	// MA over {10, 10, 50} is 23.33; 50 > 2x
	if !spikes[3] {
		t.Error("volume 50 above 2x its MA should spike")
	}
}

func minuteCandle(t time.Time, o, h, l, c, v int64) database.MinuteCandle {
	return database.MinuteCandle{
		Market: "KRW-ETH",
		Time:   t,
		Open:   decimal.NewFromInt(o),
		High:   decimal.NewFromInt(h),
		Low:    decimal.NewFromInt(l),
		Close:  decimal.NewFromInt(c),
		Volume: decimal.NewFromInt(v),
	}
}

func TestResampleBucketAnchors(t *testing.T) {
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, database.KST)

	cases := []struct {
		minute     time.Time
		wantBucket time.Time
	}{
		{day.Add(9 * time.Hour), day.Add(9 * time.Hour)},                     // 09:00 -> 09:00
		{day.Add(12*time.Hour + 59*time.Minute), day.Add(9 * time.Hour)},    // 12:59 -> 09:00
		{day.Add(13 * time.Hour), day.Add(13 * time.Hour)},                  // 13:00 -> 13:00
		{day.Add(30 * time.Minute), day.AddDate(0, 0, -1).Add(21 * time.Hour)}, // 00:30 -> prev 21:00
		{day.Add(time.Hour), day.Add(time.Hour)},                            // 01:00 -> 01:00
	}

	for _, tc := range cases {
		got := bucketStart(tc.minute)
		if !got.Equal(tc.wantBucket) {
			t.Errorf("bucket for %s: expected %s, got %s",
				tc.minute.Format("15:04"), tc.wantBucket.Format("2006-01-02 15:04"), got.Format("2006-01-02 15:04"))
		}
	}
}

func TestResampleAggregation(t *testing.T) {
	start := time.Date(2024, 3, 10, 9, 0, 0, 0, database.KST)
	candles := []database.MinuteCandle{
		minuteCandle(start, 100, 110, 95, 105, 10),
		minuteCandle(start.Add(time.Minute), 105, 120, 100, 115, 20),
		minuteCandle(start.Add(2*time.Minute), 115, 118, 90, 92, 5),
		// next bucket
		minuteCandle(start.Add(4*time.Hour), 92, 95, 91, 94, 7),
	}

	bars := ResampleToFourHour(candles)
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}

	first := bars[0]
	if !first.Open.Equal(decimal.NewFromInt(100)) {
		t.Errorf("open should be first candle's open, got %s", first.Open)
	}
	if !first.Close.Equal(decimal.NewFromInt(92)) {
		t.Errorf("close should be last candle's close, got %s", first.Close)
	}
	if !first.High.Equal(decimal.NewFromInt(120)) {
		t.Errorf("high should be the max, got %s", first.High)
	}
	if !first.Low.Equal(decimal.NewFromInt(90)) {
		t.Errorf("low should be the min, got %s", first.Low)
	}

	// Round-trip: bucket volume equals the sum of constituent volumes
	if !first.Volume.Equal(decimal.NewFromInt(35)) {
		t.Errorf("volume should sum to 35, got %s", first.Volume)
	}
}
