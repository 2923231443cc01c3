package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"upbit-trading-bot/internal/database"
	"upbit-trading-bot/internal/logging"
	"upbit-trading-bot/internal/sizing"
)

// Simulator replays one signal at a time against the minute-candle store.
// It holds no mutable state between runs; capital threading is the
// orchestrator's job.
type Simulator struct {
	candles CandleSource
	market  string
	feeRate decimal.Decimal // per side
	log     *logging.Logger
}

// NewSimulator creates a simulator for one market.
func NewSimulator(candles CandleSource, market string, feeRate float64) *Simulator {
	return &Simulator{
		candles: candles,
		market:  market,
		feeRate: decimal.NewFromFloat(feeRate),
		log:     logging.WithComponent("backtest"),
	}
}

// Market returns the market the simulator replays.
func (s *Simulator) Market() string { return s.market }

// PredictionParams drives one prediction-row simulation.
type PredictionParams struct {
	Prediction    database.Prediction
	Capital       decimal.Decimal
	Strategy      sizing.Strategy
	FixedFraction float64 // > 0 bypasses the sizer (sequential-chain mode)
	HoldingDays   int
	Laddered      bool
}

var one = decimal.NewFromInt(1)

// RunPrediction simulates a single daily prediction row. The entry resolves
// to the first minute candle at or after 09:00 of the prediction day; its
// open is the entry price.
func (s *Simulator) RunPrediction(ctx context.Context, p PredictionParams) (SimResult, error) {
	pred := p.Prediction

	entryTarget := time.Date(pred.Date.Year(), pred.Date.Month(), pred.Date.Day(),
		9, 0, 0, 0, database.KST)

	entryCandle, err := s.candles.FindFirstAtOrAfter(ctx, s.market, entryTarget)
	if errors.Is(err, database.ErrNoCandle) {
		return skip("no candle at or after entry time"), nil
	}
	if err != nil {
		return SimResult{}, err
	}

	entryPrice := entryCandle.Open
	entryTime := entryCandle.Time

	fraction := p.FixedFraction
	if fraction <= 0 {
		fraction = sizing.Fraction(p.Strategy, entryPrice,
			pred.TakeProfitPrice, pred.StopLossPrice, pred.PredProbaUp, pred.Confidence)
	}
	if fraction <= 0 {
		return skip("position fraction is zero"), nil
	}

	positionSize := p.Capital.Mul(decimal.NewFromFloat(fraction)).RoundDown(2)
	if positionSize.LessThan(one) {
		return skip("position size below one unit"), nil
	}

	entryFee := positionSize.Mul(s.feeRate).RoundUp(2)
	quantity := positionSize.Sub(entryFee).Div(entryPrice).RoundDown(8)
	if !quantity.IsPositive() {
		return skip("quantity rounds to zero"), nil
	}

	windowEnd := entryTime.AddDate(0, 0, p.HoldingDays)

	if p.Laddered {
		return s.runLadder(ctx, ladderParams{
			entryTime:    entryTime,
			entryPrice:   entryPrice,
			takeProfit:   pred.TakeProfitPrice,
			stopLoss:     pred.StopLossPrice,
			windowEnd:    windowEnd,
			positionSize: positionSize,
			entryFee:     entryFee,
			quantity:     quantity,
			capital:      p.Capital,
			ratio:        fraction,
			pred:         &pred,
			strategy:     string(p.Strategy),
		})
	}

	outcome, err := s.scanForExit(ctx, entryTime, windowEnd, entryPrice,
		pred.TakeProfitPrice, pred.StopLossPrice)
	if err != nil {
		return SimResult{}, err
	}
	if !outcome.found {
		return skip("no candles in holding window"), nil
	}

	trade := s.settle(settleParams{
		entryTime:    entryTime,
		entryPrice:   entryPrice,
		exitTime:     outcome.exitTime,
		exitPrice:    outcome.exitPrice,
		reason:       outcome.reason,
		takeProfit:   pred.TakeProfitPrice,
		stopLoss:     pred.StopLossPrice,
		positionSize: positionSize,
		quantity:     quantity,
		capital:      p.Capital,
		ratio:        fraction,
	})
	trade.ModelName = pred.ModelName
	trade.FoldNumber = pred.FoldNumber
	trade.Confidence = pred.Confidence
	trade.PredProbaUp = pred.PredProbaUp
	trade.SizingStrategy = string(p.Strategy)

	return SimResult{Trade: trade}, nil
}

// exitOutcome is what a candle scan resolved.
type exitOutcome struct {
	found     bool
	exitTime  time.Time
	exitPrice decimal.Decimal
	reason    ExitReason
}

// scanForExit streams candles in [start, end) and applies the TP/SL rules:
// on the entry candle a dual hit tie-breaks on close vs entry; on any later
// candle on close vs open.
func (s *Simulator) scanForExit(ctx context.Context, start, end time.Time, entryPrice, tp, sl decimal.Decimal) (exitOutcome, error) {
	stream, err := s.candles.StreamRange(ctx, s.market, start, end)
	if err != nil {
		return exitOutcome{}, err
	}
	defer stream.Close()

	var (
		sawCandle bool
		lastTime  time.Time
		lastClose decimal.Decimal
	)

	first := true
	for stream.Next() {
		c := stream.Candle()
		sawCandle = true
		lastTime = c.Time
		lastClose = c.Close

		if reason, hit := evaluateCandle(c, entryPrice, tp, sl, first); hit {
			price := tp
			if reason == ExitStopLoss {
				price = sl
			}
			return exitOutcome{found: true, exitTime: c.Time, exitPrice: price, reason: reason}, nil
		}
		first = false
	}
	if err := stream.Err(); err != nil {
		return exitOutcome{}, fmt.Errorf("candle stream failed: %w", err)
	}

	if !sawCandle {
		return exitOutcome{}, nil
	}
	return exitOutcome{found: true, exitTime: lastTime, exitPrice: lastClose, reason: ExitTimeout}, nil
}

// evaluateCandle applies the per-candle exit rules and reports whether the
// position closes on this candle.
func evaluateCandle(c database.MinuteCandle, entryPrice, tp, sl decimal.Decimal, entryCandle bool) (ExitReason, bool) {
	tpHit := c.High.GreaterThanOrEqual(tp)
	slHit := c.Low.LessThanOrEqual(sl)

	switch {
	case tpHit && slHit:
		// Both levels inside one minute bar: direction is ambiguous, so
		// tie-break on the candle's close.
		ref := c.Open
		if entryCandle {
			ref = entryPrice
		}
		if c.Close.GreaterThanOrEqual(ref) {
			return ExitTakeProfit, true
		}
		return ExitStopLoss, true
	case tpHit:
		return ExitTakeProfit, true
	case slHit:
		return ExitStopLoss, true
	}
	return "", false
}

type settleParams struct {
	entryTime    time.Time
	entryPrice   decimal.Decimal
	exitTime     time.Time
	exitPrice    decimal.Decimal
	reason       ExitReason
	takeProfit   decimal.Decimal
	stopLoss     decimal.Decimal
	positionSize decimal.Decimal
	quantity     decimal.Decimal
	capital      decimal.Decimal
	ratio        float64
}

// settle computes proceeds, fees, profit and the post-trade capital.
func (s *Simulator) settle(p settleParams) *Trade {
	proceeds := p.quantity.Mul(p.exitPrice)
	exitFee := proceeds.Mul(s.feeRate).RoundUp(2)
	profit := proceeds.Sub(exitFee).Sub(p.positionSize)

	returnPct := decimal.Zero
	if p.positionSize.IsPositive() {
		returnPct = profit.Div(p.positionSize).Mul(decimal.NewFromInt(100)).Round(4)
	}

	return &Trade{
		Market:          s.market,
		EntryTime:       p.entryTime,
		EntryPrice:      p.entryPrice,
		ExitTime:        p.exitTime,
		ExitPrice:       p.exitPrice,
		TakeProfitPrice: p.takeProfit,
		StopLossPrice:   p.stopLoss,
		PositionSize:    p.positionSize,
		InvestmentRatio: p.ratio,
		Quantity:        p.quantity,
		Profit:          profit,
		ReturnPct:       returnPct,
		ExitReason:      p.reason,
		HoldingDays:     p.exitTime.Sub(p.entryTime).Hours() / 24,
		CapitalAfter:    p.capital.Add(profit),
	}
}
