package backtest

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"upbit-trading-bot/internal/database"
	"upbit-trading-bot/internal/signal"
)

// Fallback investment weight when a signal carries no usable suggestion.
const defaultCusumWeight = 0.8

// RunCusum simulates one BUY signal. Entry resolves to the first candle at
// or after the signal time; the CSV's TP/SL percentages are re-applied to
// the re-resolved entry price, and the holding window ends at the signal's
// explicit expiration.
func (s *Simulator) RunCusum(ctx context.Context, sig signal.CusumSignal, capital decimal.Decimal) (SimResult, error) {
	if sig.FinalAction != signal.ActionBuy {
		return skip("signal is not a BUY"), nil
	}

	entryCandle, err := s.candles.FindFirstAtOrAfter(ctx, s.market, sig.SignalTime)
	if errors.Is(err, database.ErrNoCandle) {
		return skip("no candle at or after signal time"), nil
	}
	if err != nil {
		return SimResult{}, err
	}
	if !entryCandle.Time.Before(sig.ExpirationTime) {
		return skip("first available candle past signal expiration"), nil
	}

	entryPrice := entryCandle.Open
	entryTime := entryCandle.Time

	if !sig.EntryPriceRef.IsPositive() {
		return skip("signal has no reference entry price"), nil
	}

	// Rescale TP/SL so the CSV's percentage distances apply to the actual
	// entry: entry * (tpRef / entryRef).
	takeProfit := entryPrice.Mul(sig.TakeProfitPrice).Div(sig.EntryPriceRef).Round(8)
	stopLoss := entryPrice.Mul(sig.StopLossPrice).Div(sig.EntryPriceRef).Round(8)

	weight := sig.SuggestedWeight
	if weight <= 0 || weight > 1 {
		weight = defaultCusumWeight
	}

	positionSize := capital.Mul(decimal.NewFromFloat(weight)).RoundDown(2)
	if positionSize.LessThan(one) {
		return skip("position size below one unit"), nil
	}

	entryFee := positionSize.Mul(s.feeRate).RoundUp(2)
	quantity := positionSize.Sub(entryFee).Div(entryPrice).RoundDown(8)
	if !quantity.IsPositive() {
		return skip("quantity rounds to zero"), nil
	}

	outcome, err := s.scanForExit(ctx, entryTime, sig.ExpirationTime, entryPrice, takeProfit, stopLoss)
	if err != nil {
		return SimResult{}, err
	}
	if !outcome.found {
		return skip("no candles before signal expiration"), nil
	}

	trade := s.settle(settleParams{
		entryTime:    entryTime,
		entryPrice:   entryPrice,
		exitTime:     outcome.exitTime,
		exitPrice:    outcome.exitPrice,
		reason:       outcome.reason,
		takeProfit:   takeProfit,
		stopLoss:     stopLoss,
		positionSize: positionSize,
		quantity:     quantity,
		capital:      capital,
		ratio:        weight,
	})
	trade.ModelName = sig.Model
	trade.FoldNumber = sig.FoldID
	trade.Confidence = sig.Confidence
	trade.CusumStrategy = sig.Strategy
	trade.SelectivityPct = sig.SelectivityPct
	trade.Threshold = sig.Threshold

	return SimResult{Trade: trade}, nil
}
