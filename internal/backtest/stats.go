package backtest

import (
	"math"

	"github.com/shopspring/decimal"
)

// ComputeStats aggregates a trade list. When winRateExcludesTimeouts is set
// (the CUSUM convention) the win rate is TP / (TP + SL) instead of
// wins / total.
func ComputeStats(trades []Trade, initialCapital decimal.Decimal, winRateExcludesTimeouts bool) Stats {
	stats := Stats{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return stats
	}

	returns := make([]float64, 0, len(trades))
	var winSum, lossSum float64
	var lossCount int
	var holdingSum float64

	for _, t := range trades {
		switch t.ExitReason {
		case ExitTakeProfit:
			stats.TakeProfitCount++
		case ExitStopLoss:
			stats.StopLossCount++
		case ExitTimeout:
			stats.TimeoutCount++
		case ExitProfitLadder:
			stats.ProfitLadderCount++
		case ExitTimeDecay:
			stats.TimeDecayCount++
		}

		ret := t.ReturnPct.InexactFloat64()
		returns = append(returns, ret)
		holdingSum += t.HoldingDays

		if t.Profit.IsPositive() {
			stats.WinCount++
			winSum += ret
		} else {
			lossCount++
			lossSum += ret
		}
	}

	if winRateExcludesTimeouts {
		decided := stats.TakeProfitCount + stats.StopLossCount
		if decided > 0 {
			stats.WinRate = float64(stats.TakeProfitCount) / float64(decided) * 100
		}
	} else {
		stats.WinRate = float64(stats.WinCount) / float64(len(trades)) * 100
	}

	stats.AvgHoldingDays = holdingSum / float64(len(trades))
	stats.MaxDrawdownPct = maxDrawdown(trades, initialCapital)
	stats.SharpeRatio = SharpeRatio(returns)

	if stats.WinCount > 0 {
		stats.AvgWin = winSum / float64(stats.WinCount)
	}
	if lossCount > 0 {
		stats.AvgLoss = lossSum / float64(lossCount)
	}
	if stats.AvgLoss != 0 {
		stats.WinLossRatio = stats.AvgWin / math.Abs(stats.AvgLoss)
	}

	return stats
}

// maxDrawdown walks the capitalAfter trajectory from the initial capital and
// reports the largest peak-to-trough decline in percent.
func maxDrawdown(trades []Trade, initialCapital decimal.Decimal) float64 {
	peak := initialCapital.InexactFloat64()
	maxDD := 0.0

	for _, t := range trades {
		capital := t.CapitalAfter.InexactFloat64()
		if capital > peak {
			peak = capital
		}
		if peak > 0 {
			dd := (peak - capital) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}

	return maxDD
}

// SharpeRatio is the simplified risk-free-zero Sharpe over a series of return
// percentages (per trade or per fold): mean / population stddev. Zero when fewer than two samples or
// when the returns do not vary.
func SharpeRatio(returns []float64) float64 {
	n := len(returns)
	if n < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(n)

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(n))
	if stddev == 0 {
		return 0
	}

	return mean / stddev
}
