package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"upbit-trading-bot/internal/database"
)

// Profit-ladder levels: unrealised return thresholds and the share of the
// initial position each level sells. Firing a higher level marks all lower
// levels fired.
var ladderLevels = []struct {
	threshold float64 // unrealised return vs entry
	sellRatio float64 // of the initial quantity
}{
	{0.20, 0.40}, // level 3
	{0.10, 0.30}, // level 2
	{0.05, 0.30}, // level 1
}

// Time-decay levels: holding-day thresholds and sell ratios, each firing at
// most once; the higher level implies the lower.
var decayLevels = []struct {
	days      float64
	sellRatio float64
}{
	{7, 0.40},
	{6, 0.20},
}

type ladderParams struct {
	entryTime    time.Time
	entryPrice   decimal.Decimal
	takeProfit   decimal.Decimal
	stopLoss     decimal.Decimal
	windowEnd    time.Time
	positionSize decimal.Decimal
	entryFee     decimal.Decimal
	quantity     decimal.Decimal
	capital      decimal.Decimal
	ratio        float64
	pred         *database.Prediction
	strategy     string
}

// runLadder scans the holding window selling tranches on escalating gain
// thresholds and position age, with SL and TP closing the remainder
// outright.
func (s *Simulator) runLadder(ctx context.Context, p ladderParams) (SimResult, error) {
	stream, err := s.candles.StreamRange(ctx, s.market, p.entryTime, p.windowEnd)
	if err != nil {
		return SimResult{}, err
	}
	defer stream.Close()

	var (
		events    []ExitEvent
		remaining = p.quantity
		ladderHit = make([]bool, len(ladderLevels))
		decayHit  = make([]bool, len(decayLevels))
		lastTime  time.Time
		lastClose decimal.Decimal
		sawCandle bool
	)

	netCost := p.positionSize.Sub(p.entryFee) // cost basis spread across tranches

	emit := func(t time.Time, price, qty decimal.Decimal, reason ExitReason) {
		proceeds := qty.Mul(price)
		fee := proceeds.Mul(s.feeRate).RoundUp(2)
		cost := netCost.Mul(qty).Div(p.quantity)
		events = append(events, ExitEvent{
			Time:        t,
			Price:       price,
			Quantity:    qty,
			ExitRatio:   qty.Div(p.quantity).InexactFloat64(),
			Reason:      reason,
			Profit:      proceeds.Sub(fee).Sub(cost),
			HoldingDays: t.Sub(p.entryTime).Hours() / 24,
		})
		remaining = remaining.Sub(qty)
	}

	// sellShare closes a fraction of the initial quantity, capped by what is
	// still held.
	sellShare := func(t time.Time, price decimal.Decimal, share float64, reason ExitReason) {
		qty := p.quantity.Mul(decimal.NewFromFloat(share)).RoundDown(8)
		if qty.GreaterThan(remaining) {
			qty = remaining
		}
		if qty.IsPositive() {
			emit(t, price, qty, reason)
		}
	}

	for remaining.IsPositive() && stream.Next() {
		c := stream.Candle()
		sawCandle = true
		lastTime = c.Time
		lastClose = c.Close

		// 1. Stop loss closes everything.
		if c.Low.LessThanOrEqual(p.stopLoss) {
			emit(c.Time, p.stopLoss, remaining, ExitStopLoss)
			break
		}

		// 2. Take profit closes everything.
		if c.High.GreaterThanOrEqual(p.takeProfit) {
			emit(c.Time, p.takeProfit, remaining, ExitTakeProfit)
			break
		}

		// 3. Profit ladder at the candle close.
		unrealised := c.Close.Sub(p.entryPrice).Div(p.entryPrice).InexactFloat64()
		for i, level := range ladderLevels {
			if ladderHit[i] || unrealised < level.threshold {
				continue
			}
			sellShare(c.Time, c.Close, level.sellRatio, ExitProfitLadder)
			for j := i; j < len(ladderLevels); j++ {
				ladderHit[j] = true
			}
			break
		}
		if !remaining.IsPositive() {
			break
		}

		// 4. Time decay.
		holding := c.Time.Sub(p.entryTime).Hours() / 24
		for i, level := range decayLevels {
			if decayHit[i] || holding < level.days {
				continue
			}
			sellShare(c.Time, c.Close, level.sellRatio, ExitTimeDecay)
			for j := i; j < len(decayLevels); j++ {
				decayHit[j] = true
			}
			break
		}
	}
	if err := stream.Err(); err != nil {
		return SimResult{}, fmt.Errorf("candle stream failed: %w", err)
	}

	if !sawCandle {
		return skip("no candles in holding window"), nil
	}

	// Whatever is left exits with the window.
	if remaining.IsPositive() {
		emit(lastTime, lastClose, remaining, ExitTimeout)
	}

	trade := s.assembleLadderTrade(p, events)
	return SimResult{Trade: trade}, nil
}

// assembleLadderTrade folds the exit events into one trade record: profit is
// the event sum minus the entry fee, the exit price is quantity-weighted,
// and holding days is the event mean.
func (s *Simulator) assembleLadderTrade(p ladderParams, events []ExitEvent) *Trade {
	profit := p.entryFee.Neg()
	weighted := decimal.Zero
	totalQty := decimal.Zero
	holdingSum := 0.0
	lastReason := ExitTimeout
	lastTime := p.entryTime

	for _, e := range events {
		profit = profit.Add(e.Profit)
		weighted = weighted.Add(e.Price.Mul(e.Quantity))
		totalQty = totalQty.Add(e.Quantity)
		holdingSum += e.HoldingDays
		lastReason = e.Reason
		if e.Time.After(lastTime) {
			lastTime = e.Time
		}
	}

	avgExit := decimal.Zero
	if totalQty.IsPositive() {
		avgExit = weighted.Div(totalQty).Round(8)
	}

	returnPct := decimal.Zero
	if p.positionSize.IsPositive() {
		returnPct = profit.Div(p.positionSize).Mul(decimal.NewFromInt(100)).Round(4)
	}

	holdingDays := 0.0
	if len(events) > 0 {
		holdingDays = holdingSum / float64(len(events))
	}

	trade := &Trade{
		Market:          s.market,
		EntryTime:       p.entryTime,
		EntryPrice:      p.entryPrice,
		ExitTime:        lastTime,
		ExitPrice:       avgExit,
		TakeProfitPrice: p.takeProfit,
		StopLossPrice:   p.stopLoss,
		PositionSize:    p.positionSize,
		InvestmentRatio: p.ratio,
		Quantity:        p.quantity,
		Profit:          profit,
		ReturnPct:       returnPct,
		ExitReason:      lastReason,
		HoldingDays:     holdingDays,
		CapitalAfter:    p.capital.Add(profit),
		SizingStrategy:  p.strategy,
		ExitEvents:      events,
	}
	if p.pred != nil {
		trade.ModelName = p.pred.ModelName
		trade.FoldNumber = p.pred.FoldNumber
		trade.Confidence = p.pred.Confidence
		trade.PredProbaUp = p.pred.PredProbaUp
	}
	return trade
}
