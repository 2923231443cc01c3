package backtest

import (
	"context"
	"testing"
	"time"

	"upbit-trading-bot/internal/database"
)

// Builds a minute-candle series whose 4-hour bars trend upward with a burst
// of volume, producing at least one rule-based entry, and checks the trade
// wiring rather than exact indicator values.
func TestRuleBasedRun(t *testing.T) {
	// Fold 1 starts 2023-01-01; include the 30-day warmup
	start := time.Date(2022, 12, 2, 1, 0, 0, 0, database.KST)
	candles := []database.MinuteCandle{}
	price := int64(1000000)

	for i := 0; i < 6*80; i++ { // 80 days of 4-hour bars, one minute candle each
		ts := start.Add(time.Duration(i) * 4 * time.Hour)
		price += 1000
		c := candle(ts, price, price+500, price-500, price+400)
		if i%10 == 9 {
			c.Volume = c.Volume.Mul(decf("50")) // volume burst
		}
		candles = append(candles, c)
	}

	source := &fakeCandleSource{candles: candles}
	bt := NewRuleBasedBacktester(source, "KRW-ETH", 0.0005)

	resp, err := bt.Run(context.Background(), RuleBasedRequest{
		FoldNumber:     1,
		InitialCapital: 10000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(resp.Trades) == 0 {
		t.Fatal("uptrend with volume bursts should produce entries")
	}

	for i, trade := range resp.Trades {
		if trade.ExitTime.Before(trade.EntryTime) {
			t.Errorf("trade %d exits before it enters", i)
		}
		switch trade.ExitReason {
		case ExitEmaCross, ExitStopLoss, ExitEndOfPeriod:
		default:
			t.Errorf("trade %d has unexpected exit reason %s", i, trade.ExitReason)
		}
		if !trade.EntryTime.Before(resp.PeriodEnd.AddDate(0, 0, 1)) {
			t.Errorf("trade %d entered outside the fold", i)
		}
	}

	for i := 1; i < len(resp.Trades); i++ {
		if resp.Trades[i].EntryTime.Before(resp.Trades[i-1].ExitTime) {
			t.Error("rule-based trades must not overlap")
		}
	}
}

func TestRuleBasedEmptyStore(t *testing.T) {
	bt := NewRuleBasedBacktester(&fakeCandleSource{}, "KRW-ETH", 0.0005)

	resp, err := bt.Run(context.Background(), RuleBasedRequest{
		FoldNumber:     1,
		InitialCapital: 10000,
	})
	if err != nil {
		t.Fatalf("empty store must not error: %v", err)
	}
	if len(resp.Trades) != 0 {
		t.Errorf("expected no trades, got %d", len(resp.Trades))
	}
	if !resp.FinalCapital.Equal(resp.InitialCapital) {
		t.Error("capital must be untouched without trades")
	}
}
