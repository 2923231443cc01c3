package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func statTrade(profit, capitalAfter, returnPct float64, reason ExitReason) Trade {
	return Trade{
		EntryTime:    time.Now(),
		ExitTime:     time.Now(),
		Profit:       decimal.NewFromFloat(profit),
		CapitalAfter: decimal.NewFromFloat(capitalAfter),
		ReturnPct:    decimal.NewFromFloat(returnPct),
		ExitReason:   reason,
		HoldingDays:  1,
	}
}

func TestStatsEmpty(t *testing.T) {
	stats := ComputeStats(nil, decimal.NewFromInt(10000), false)
	if stats.TotalTrades != 0 || stats.WinRate != 0 || stats.SharpeRatio != 0 {
		t.Errorf("empty trade list must produce zeroed stats: %+v", stats)
	}
}

func TestStatsWinRate(t *testing.T) {
	trades := []Trade{
		statTrade(100, 10100, 1, ExitTakeProfit),
		statTrade(-50, 10050, -0.5, ExitStopLoss),
		statTrade(100, 10150, 1, ExitTakeProfit),
		statTrade(-10, 10140, -0.1, ExitTimeout),
	}

	stats := ComputeStats(trades, decimal.NewFromInt(10000), false)
	if stats.WinCount != 2 {
		t.Errorf("expected 2 wins, got %d", stats.WinCount)
	}
	if math.Abs(stats.WinRate-50) > 1e-9 {
		t.Errorf("expected win rate 50, got %f", stats.WinRate)
	}
}

func TestStatsCusumWinRateExcludesTimeouts(t *testing.T) {
	trades := []Trade{
		statTrade(100, 10100, 1, ExitTakeProfit),
		statTrade(-50, 10050, -0.5, ExitStopLoss),
		statTrade(100, 10150, 1, ExitTakeProfit),
		statTrade(-10, 10140, -0.1, ExitTimeout),
	}

	stats := ComputeStats(trades, decimal.NewFromInt(10000), true)
	// TP / (TP + SL) = 2/3
	if math.Abs(stats.WinRate-200.0/3.0) > 1e-9 {
		t.Errorf("expected win rate 66.67, got %f", stats.WinRate)
	}
}

func TestMaxDrawdown(t *testing.T) {
	// 10000 -> 12000 -> 9000 -> 11000: drawdown (12000-9000)/12000 = 25%
	trades := []Trade{
		statTrade(2000, 12000, 20, ExitTakeProfit),
		statTrade(-3000, 9000, -25, ExitStopLoss),
		statTrade(2000, 11000, 22, ExitTakeProfit),
	}

	stats := ComputeStats(trades, decimal.NewFromInt(10000), false)
	if math.Abs(stats.MaxDrawdownPct-25) > 1e-9 {
		t.Errorf("expected MDD 25%%, got %f", stats.MaxDrawdownPct)
	}
}

func TestSharpeRatioEdgeCases(t *testing.T) {
	if SharpeRatio([]float64{5}) != 0 {
		t.Error("fewer than two samples must return 0")
	}
	if SharpeRatio([]float64{2, 2, 2}) != 0 {
		t.Error("zero variance must return 0")
	}

	// mean 1, population stddev 1
	got := SharpeRatio([]float64{0, 2})
	if math.Abs(got-1) > 1e-9 {
		t.Errorf("expected Sharpe 1, got %f", got)
	}
}

func TestWinLossRatio(t *testing.T) {
	trades := []Trade{
		statTrade(200, 10200, 2, ExitTakeProfit),
		statTrade(100, 10300, 1, ExitTakeProfit),
		statTrade(-100, 10200, -1, ExitStopLoss),
	}

	stats := ComputeStats(trades, decimal.NewFromInt(10000), false)
	if math.Abs(stats.AvgWin-1.5) > 1e-9 {
		t.Errorf("expected avg win 1.5, got %f", stats.AvgWin)
	}
	if math.Abs(stats.AvgLoss-(-1)) > 1e-9 {
		t.Errorf("expected avg loss -1, got %f", stats.AvgLoss)
	}
	if math.Abs(stats.WinLossRatio-1.5) > 1e-9 {
		t.Errorf("expected ratio 1.5, got %f", stats.WinLossRatio)
	}
}

func TestWinLossRatioZeroWhenNoLosses(t *testing.T) {
	trades := []Trade{statTrade(200, 10200, 2, ExitTakeProfit)}
	stats := ComputeStats(trades, decimal.NewFromInt(10000), false)
	if stats.WinLossRatio != 0 {
		t.Errorf("ratio must be 0 without losses, got %f", stats.WinLossRatio)
	}
}
