package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"upbit-trading-bot/internal/database"
)

// fakeCandleSource serves candles from a slice, ordered by time.
type fakeCandleSource struct {
	candles []database.MinuteCandle
}

func (f *fakeCandleSource) FindFirstAtOrAfter(_ context.Context, _ string, t time.Time) (*database.MinuteCandle, error) {
	for i := range f.candles {
		if !f.candles[i].Time.Before(t) {
			c := f.candles[i]
			return &c, nil
		}
	}
	return nil, database.ErrNoCandle
}

func (f *fakeCandleSource) FindLastBefore(_ context.Context, _ string, t time.Time) (*database.MinuteCandle, error) {
	for i := len(f.candles) - 1; i >= 0; i-- {
		if f.candles[i].Time.Before(t) {
			c := f.candles[i]
			return &c, nil
		}
	}
	return nil, database.ErrNoCandle
}

func (f *fakeCandleSource) FindRange(_ context.Context, _ string, start, end time.Time) ([]database.MinuteCandle, error) {
	out := []database.MinuteCandle{}
	for _, c := range f.candles {
		if !c.Time.Before(start) && c.Time.Before(end) {
			out = append(out, c)
		}
	}
	return out, nil
}

type sliceIterator struct {
	candles []database.MinuteCandle
	pos     int
}

func (it *sliceIterator) Next() bool {
	if it.pos >= len(it.candles) {
		return false
	}
	it.pos++
	return true
}
func (it *sliceIterator) Candle() database.MinuteCandle { return it.candles[it.pos-1] }
func (it *sliceIterator) Err() error                    { return nil }
func (it *sliceIterator) Close()                        {}

func (f *fakeCandleSource) StreamRange(ctx context.Context, market string, start, end time.Time) (CandleIterator, error) {
	candles, _ := f.FindRange(ctx, market, start, end)
	return &sliceIterator{candles: candles}, nil
}

func candle(t time.Time, o, h, l, c int64) database.MinuteCandle {
	return database.MinuteCandle{
		Market: "KRW-ETH",
		Time:   t,
		Open:   decimal.NewFromInt(o),
		High:   decimal.NewFromInt(h),
		Low:    decimal.NewFromInt(l),
		Close:  decimal.NewFromInt(c),
		Volume: decimal.NewFromInt(100),
	}
}

func decf(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

var testDay = time.Date(2024, 1, 15, 0, 0, 0, 0, database.KST)

func testPrediction(tp, sl int64) database.Prediction {
	return database.Prediction{
		Market:          "KRW-ETH",
		Date:            testDay,
		FoldNumber:      1,
		ModelName:       "GRU",
		PredDirection:   "UP",
		PredProbaUp:     0.7,
		PredProbaDown:   0.3,
		Confidence:      0.2,
		TakeProfitPrice: decimal.NewFromInt(tp),
		StopLossPrice:   decimal.NewFromInt(sl),
	}
}

func TestImmediateTakeProfit(t *testing.T) {
	entryTime := testDay.Add(9 * time.Hour)
	source := &fakeCandleSource{candles: []database.MinuteCandle{
		candle(entryTime, 5000000, 5200000, 4950000, 5100000),
	}}
	sim := NewSimulator(source, "KRW-ETH", 0.0005)

	result, err := sim.RunPrediction(context.Background(), PredictionParams{
		Prediction:    testPrediction(5150000, 4900000),
		Capital:       decimal.NewFromInt(10000),
		FixedFraction: 0.5, // pure Kelly with p=0.7, R=1.5
		HoldingDays:   8,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Skipped() {
		t.Fatalf("expected trade, got skip: %s", result.SkipReason)
	}

	trade := result.Trade
	if trade.ExitReason != ExitTakeProfit {
		t.Errorf("expected TAKE_PROFIT, got %s", trade.ExitReason)
	}
	if !trade.ExitPrice.Equal(decimal.NewFromInt(5150000)) {
		t.Errorf("TP exit price must equal the TP level, got %s", trade.ExitPrice)
	}
	if !trade.PositionSize.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("expected position size 5000, got %s", trade.PositionSize)
	}
	if !trade.Quantity.Equal(decf("0.0009995")) {
		t.Errorf("expected quantity 0.0009995, got %s", trade.Quantity)
	}
	// proceeds 5147.425, exit fee ceil(2.5737125) = 2.58
	if !trade.Profit.Equal(decf("144.845")) {
		t.Errorf("expected profit 144.845, got %s", trade.Profit)
	}
	if !trade.CapitalAfter.Equal(decf("10144.845")) {
		t.Errorf("capitalAfter must equal capital + profit, got %s", trade.CapitalAfter)
	}
	if trade.ExitTime.Before(trade.EntryTime) {
		t.Error("exit must not precede entry")
	}
}

func TestEntryCandleTieBreakStopLoss(t *testing.T) {
	entryTime := testDay.Add(9 * time.Hour)
	// Both TP and SL inside the entry candle, red close vs entry
	source := &fakeCandleSource{candles: []database.MinuteCandle{
		candle(entryTime, 5000000, 5200000, 4800000, 4850000),
	}}
	sim := NewSimulator(source, "KRW-ETH", 0.0005)

	result, err := sim.RunPrediction(context.Background(), PredictionParams{
		Prediction:    testPrediction(5150000, 4900000),
		Capital:       decimal.NewFromInt(10000),
		FixedFraction: 0.5,
		HoldingDays:   8,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Skipped() {
		t.Fatal("expected trade")
	}

	if result.Trade.ExitReason != ExitStopLoss {
		t.Errorf("close below entry must tie-break to STOP_LOSS, got %s", result.Trade.ExitReason)
	}
	if !result.Trade.ExitPrice.Equal(decimal.NewFromInt(4900000)) {
		t.Errorf("SL exit price must equal the SL level, got %s", result.Trade.ExitPrice)
	}
}

func TestLaterCandleTieBreakOnOpen(t *testing.T) {
	entryTime := testDay.Add(9 * time.Hour)
	source := &fakeCandleSource{candles: []database.MinuteCandle{
		candle(entryTime, 5000000, 5050000, 4990000, 5010000),
		// green candle spanning both levels: TP wins
		candle(entryTime.Add(time.Minute), 4950000, 5200000, 4850000, 5100000),
	}}
	sim := NewSimulator(source, "KRW-ETH", 0.0005)

	result, err := sim.RunPrediction(context.Background(), PredictionParams{
		Prediction:    testPrediction(5150000, 4900000),
		Capital:       decimal.NewFromInt(10000),
		FixedFraction: 0.5,
		HoldingDays:   8,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Trade.ExitReason != ExitTakeProfit {
		t.Errorf("green dual-hit candle must exit TAKE_PROFIT, got %s", result.Trade.ExitReason)
	}
}

func TestTimeoutAtLastClose(t *testing.T) {
	entryTime := testDay.Add(9 * time.Hour)
	candles := []database.MinuteCandle{}
	for day := 0; day < 8; day++ {
		candles = append(candles,
			candle(entryTime.AddDate(0, 0, day), 5000000, 5050000, 4950000, 5000000))
	}
	source := &fakeCandleSource{candles: candles}
	sim := NewSimulator(source, "KRW-ETH", 0.0005)

	result, err := sim.RunPrediction(context.Background(), PredictionParams{
		Prediction:    testPrediction(5150000, 4900000),
		Capital:       decimal.NewFromInt(10000),
		FixedFraction: 0.5,
		HoldingDays:   8,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	trade := result.Trade
	if trade.ExitReason != ExitTimeout {
		t.Fatalf("expected TIMEOUT, got %s", trade.ExitReason)
	}
	if !trade.ExitPrice.Equal(decimal.NewFromInt(5000000)) {
		t.Errorf("timeout must exit at last close, got %s", trade.ExitPrice)
	}
	// Flat price round trip loses roughly both fees
	if !trade.Profit.IsNegative() {
		t.Errorf("flat timeout should lose the fees, profit %s", trade.Profit)
	}
	maxLoss := trade.PositionSize.Mul(decf("0.0011"))
	if trade.Profit.Abs().GreaterThan(maxLoss) {
		t.Errorf("loss %s larger than round-trip fees %s", trade.Profit.Abs(), maxLoss)
	}
}

func TestSkipWhenNoCandles(t *testing.T) {
	sim := NewSimulator(&fakeCandleSource{}, "KRW-ETH", 0.0005)

	result, err := sim.RunPrediction(context.Background(), PredictionParams{
		Prediction:    testPrediction(5150000, 4900000),
		Capital:       decimal.NewFromInt(10000),
		FixedFraction: 0.5,
		HoldingDays:   8,
	})
	if err != nil {
		t.Fatalf("a candle gap must not error: %v", err)
	}
	if !result.Skipped() {
		t.Fatal("expected skip when no entry candle exists")
	}
}

func TestSkipWhenSizerReturnsZero(t *testing.T) {
	entryTime := testDay.Add(9 * time.Hour)
	source := &fakeCandleSource{candles: []database.MinuteCandle{
		candle(entryTime, 5000000, 5200000, 4950000, 5100000),
	}}
	sim := NewSimulator(source, "KRW-ETH", 0.0005)

	pred := testPrediction(5150000, 4900000)
	pred.StopLossPrice = decimal.NewFromInt(5000001) // SL above entry

	result, err := sim.RunPrediction(context.Background(), PredictionParams{
		Prediction:  pred,
		Capital:     decimal.NewFromInt(10000),
		Strategy:    "HALF_KELLY",
		HoldingDays: 8,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Skipped() {
		t.Fatal("zero fraction must skip")
	}
}

func TestSkipWhenPositionTooSmall(t *testing.T) {
	entryTime := testDay.Add(9 * time.Hour)
	source := &fakeCandleSource{candles: []database.MinuteCandle{
		candle(entryTime, 5000000, 5200000, 4950000, 5100000),
	}}
	sim := NewSimulator(source, "KRW-ETH", 0.0005)

	result, err := sim.RunPrediction(context.Background(), PredictionParams{
		Prediction:    testPrediction(5150000, 4900000),
		Capital:       decimal.NewFromInt(1), // 50% of 1 is below one unit
		FixedFraction: 0.5,
		HoldingDays:   8,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Skipped() {
		t.Fatal("sub-unit position must skip")
	}
}
