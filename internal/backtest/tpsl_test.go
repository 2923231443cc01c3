package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"upbit-trading-bot/internal/database"
)

type fakePredictionSource struct {
	preds []database.Prediction
}

func (f *fakePredictionSource) FindPredictions(_ context.Context, _ string, fold int, model string) ([]database.Prediction, error) {
	out := []database.Prediction{}
	for _, p := range f.preds {
		if p.FoldNumber == fold && p.ModelName == model {
			out = append(out, p)
		}
	}
	return out, nil
}

func predictionOn(date time.Time, probaUp float64, tp, sl int64) database.Prediction {
	return database.Prediction{
		Market:          "KRW-ETH",
		Date:            date,
		FoldNumber:      1,
		ModelName:       "GRU",
		PredDirection:   "UP",
		PredProbaUp:     probaUp,
		PredProbaDown:   1 - probaUp,
		Confidence:      probaUp - 0.5,
		TakeProfitPrice: decimal.NewFromInt(tp),
		StopLossPrice:   decimal.NewFromInt(sl),
	}
}

func newTPSLUnderTest(source CandleSource, preds []database.Prediction) *TPSLBacktester {
	sim := NewSimulator(source, "KRW-ETH", 0.0005)
	return NewTPSLBacktester(&fakePredictionSource{preds: preds}, sim, 8)
}

func TestTPSLValidation(t *testing.T) {
	bt := newTPSLUnderTest(&fakeCandleSource{}, nil)

	cases := []TPSLRequest{
		{FoldNumber: 0, ModelName: "GRU", InitialCapital: 1000},
		{FoldNumber: 9, ModelName: "GRU", InitialCapital: 1000},
		{FoldNumber: 1, ModelName: "", InitialCapital: 1000},
		{FoldNumber: 1, ModelName: "GRU", InitialCapital: -5},
		{FoldNumber: 1, ModelName: "GRU", InitialCapital: 1000, Threshold: 1.5},
		{FoldNumber: 1, ModelName: "GRU", InitialCapital: 1000, ThresholdColumn: "CONFIDENCE", Threshold: 0.7},
		{FoldNumber: 1, ModelName: "GRU", InitialCapital: 1000, ThresholdMode: "QUANTILE", Threshold: 150},
		{FoldNumber: 1, ModelName: "GRU", InitialCapital: 1000, SizingStrategy: "MARTINGALE"},
	}

	for i, req := range cases {
		if _, err := bt.Run(context.Background(), req); err == nil {
			t.Errorf("case %d should fail validation: %+v", i, req)
		}
	}
}

func TestTPSLEmptyPredictionsYieldsZeroTradeResponse(t *testing.T) {
	bt := newTPSLUnderTest(&fakeCandleSource{}, nil)

	resp, err := bt.Run(context.Background(), TPSLRequest{
		FoldNumber:     1,
		ModelName:      "GRU",
		InitialCapital: 10000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Trades) != 0 {
		t.Errorf("expected no trades, got %d", len(resp.Trades))
	}
	if !resp.FinalCapital.Equal(resp.InitialCapital) {
		t.Errorf("final capital %s must equal initial %s", resp.FinalCapital, resp.InitialCapital)
	}
	if resp.TotalReturnPct != 0 {
		t.Errorf("expected zero return, got %f", resp.TotalReturnPct)
	}
}

func TestTPSLThresholdBoundaryInclusive(t *testing.T) {
	day1 := time.Date(2023, 1, 10, 0, 0, 0, 0, database.KST)
	entry := day1.Add(9 * time.Hour)
	source := &fakeCandleSource{candles: []database.MinuteCandle{
		candle(entry, 5000000, 5200000, 4950000, 5100000),
	}}

	// probaUp exactly at the threshold must be included
	preds := []database.Prediction{predictionOn(day1, 0.6, 5150000, 4900000)}
	bt := newTPSLUnderTest(source, preds)

	resp, err := bt.Run(context.Background(), TPSLRequest{
		FoldNumber:          1,
		ModelName:           "GRU",
		InitialCapital:      10000,
		Threshold:           0.6,
		PositionSizePercent: 50,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Trades) != 1 {
		t.Fatalf("a prediction at the threshold must trade, got %d trades", len(resp.Trades))
	}

	// Just above the prediction's value excludes it
	resp, err = bt.Run(context.Background(), TPSLRequest{
		FoldNumber:          1,
		ModelName:           "GRU",
		InitialCapital:      10000,
		Threshold:           0.601,
		PositionSizePercent: 50,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Trades) != 0 {
		t.Errorf("prediction below threshold must be filtered, got %d trades", len(resp.Trades))
	}
}

func TestTPSLOverlapPrevention(t *testing.T) {
	day1 := time.Date(2023, 1, 10, 0, 0, 0, 0, database.KST)
	day2 := day1.AddDate(0, 0, 1)
	entry1 := day1.Add(9 * time.Hour)

	// Day 1 trade times out over 8 days; the day 2 signal would enter inside
	// that window and must be dropped.
	candles := []database.MinuteCandle{}
	for d := 0; d < 9; d++ {
		candles = append(candles,
			candle(entry1.AddDate(0, 0, d), 5000000, 5050000, 4950000, 5000000))
	}
	source := &fakeCandleSource{candles: candles}

	preds := []database.Prediction{
		predictionOn(day1, 0.7, 9000000, 1000000),
		predictionOn(day2, 0.7, 9000000, 1000000),
	}
	bt := newTPSLUnderTest(source, preds)

	resp, err := bt.Run(context.Background(), TPSLRequest{
		FoldNumber:          1,
		ModelName:           "GRU",
		InitialCapital:      10000,
		PositionSizePercent: 50,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Trades) != 1 {
		t.Fatalf("overlapping signal must be skipped, got %d trades", len(resp.Trades))
	}

	for i := 1; i < len(resp.Trades); i++ {
		if resp.Trades[i].EntryTime.Before(resp.Trades[i-1].ExitTime) {
			t.Error("consecutive trades must not overlap")
		}
	}
}

func TestTPSLCapitalAccumulation(t *testing.T) {
	day1 := time.Date(2023, 1, 10, 0, 0, 0, 0, database.KST)
	day2 := day1.AddDate(0, 0, 1)
	entry1 := day1.Add(9 * time.Hour)
	entry2 := day2.Add(9 * time.Hour)

	source := &fakeCandleSource{candles: []database.MinuteCandle{
		candle(entry1, 5000000, 5200000, 4950000, 5100000), // hits TP same candle
		candle(entry2, 5000000, 5200000, 4950000, 5100000),
	}}

	preds := []database.Prediction{
		predictionOn(day1, 0.7, 5150000, 4900000),
		predictionOn(day2, 0.7, 5150000, 4900000),
	}
	bt := newTPSLUnderTest(source, preds)

	resp, err := bt.Run(context.Background(), TPSLRequest{
		FoldNumber:          1,
		ModelName:           "GRU",
		InitialCapital:      10000,
		PositionSizePercent: 50,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(resp.Trades))
	}

	// Capital after trade one feeds trade two
	expectedSecond := resp.Trades[0].CapitalAfter.Mul(decf("0.5")).RoundDown(2)
	if !resp.Trades[1].PositionSize.Equal(expectedSecond) {
		t.Errorf("second position %s should be half of accumulated capital %s",
			resp.Trades[1].PositionSize, resp.Trades[0].CapitalAfter)
	}
	if !resp.FinalCapital.Equal(resp.Trades[1].CapitalAfter) {
		t.Errorf("final capital must match last trade's capitalAfter")
	}
}

func TestTPSLQuantileThreshold(t *testing.T) {
	day := time.Date(2023, 1, 10, 0, 0, 0, 0, database.KST)

	preds := []database.Prediction{}
	for i := 0; i < 4; i++ {
		preds = append(preds,
			predictionOn(day.AddDate(0, 0, i), 0.5+0.1*float64(i), 5150000, 4900000))
	}

	// Quantile 50 of {0.5,0.6,0.7,0.8} interpolates to 0.65, keeping two
	// predictions; with no candles every selected signal skips, so the run
	// yields zero trades.
	bt := newTPSLUnderTest(&fakeCandleSource{}, preds)

	filterReq := TPSLRequest{ThresholdColumn: ColumnPredProbaUp, ThresholdMode: ThresholdModeQuantile, Threshold: 50}
	if got := len(bt.filterPredictions(preds, &filterReq)); got != 2 {
		t.Errorf("quantile 50 should keep two predictions, got %d", got)
	}

	resp, err := bt.Run(context.Background(), TPSLRequest{
		FoldNumber:     1,
		ModelName:      "GRU",
		InitialCapital: 10000,
		Threshold:      50,
		ThresholdMode:  ThresholdModeQuantile,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Trades) != 0 {
		t.Errorf("no candles means no trades, got %d", len(resp.Trades))
	}
}
