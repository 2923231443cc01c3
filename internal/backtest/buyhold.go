package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"upbit-trading-bot/internal/database"
	"upbit-trading-bot/internal/signal"
)

// BuyHoldBacktester holds the full capital from the fold's first session to
// its last available minute, fees applied on both sides. It is the benchmark
// strand for the sequential chain.
type BuyHoldBacktester struct {
	candles CandleSource
	market  string
	feeRate decimal.Decimal
}

// NewBuyHoldBacktester creates the benchmark orchestrator.
func NewBuyHoldBacktester(candles CandleSource, market string, feeRate float64) *BuyHoldBacktester {
	return &BuyHoldBacktester{
		candles: candles,
		market:  market,
		feeRate: decimal.NewFromFloat(feeRate),
	}
}

// Run opens one position at the fold's start-date 09:00 and closes it at the
// last minute candle of the fold's end date.
func (b *BuyHoldBacktester) Run(ctx context.Context, foldNumber int, initialCapital float64) (*Response, error) {
	if initialCapital < 0 {
		return nil, fmt.Errorf("%w: initial capital must not be negative", ErrValidation)
	}
	fold, err := signal.GetFold(foldNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	capital := decimal.NewFromFloat(initialCapital)

	empty := &Response{
		FoldNumber:     foldNumber,
		PeriodStart:    fold.StartDate,
		PeriodEnd:      fold.EndDate,
		InitialCapital: capital,
		FinalCapital:   capital,
		Trades:         []Trade{},
	}

	entryTarget := time.Date(fold.StartDate.Year(), fold.StartDate.Month(), fold.StartDate.Day(),
		9, 0, 0, 0, database.KST)

	entryCandle, err := b.candles.FindFirstAtOrAfter(ctx, b.market, entryTarget)
	if errors.Is(err, database.ErrNoCandle) {
		return empty, nil
	}
	if err != nil {
		return nil, err
	}

	exitCandle, err := b.candles.FindLastBefore(ctx, b.market, fold.EndDate.AddDate(0, 0, 1))
	if errors.Is(err, database.ErrNoCandle) {
		return empty, nil
	}
	if err != nil {
		return nil, err
	}
	if !exitCandle.Time.After(entryCandle.Time) {
		return empty, nil
	}

	entryPrice := entryCandle.Open
	exitPrice := exitCandle.Close

	positionSize := capital.RoundDown(2)
	if positionSize.LessThan(one) {
		return empty, nil
	}

	entryFee := positionSize.Mul(b.feeRate).RoundUp(2)
	quantity := positionSize.Sub(entryFee).Div(entryPrice).RoundDown(8)
	if !quantity.IsPositive() {
		return empty, nil
	}

	proceeds := quantity.Mul(exitPrice)
	exitFee := proceeds.Mul(b.feeRate).RoundUp(2)
	profit := proceeds.Sub(exitFee).Sub(positionSize)

	trade := Trade{
		Market:          b.market,
		FoldNumber:      foldNumber,
		EntryTime:       entryCandle.Time,
		EntryPrice:      entryPrice,
		ExitTime:        exitCandle.Time,
		ExitPrice:       exitPrice,
		PositionSize:    positionSize,
		InvestmentRatio: 1.0,
		Quantity:        quantity,
		Profit:          profit,
		ReturnPct:       profit.Div(positionSize).Mul(decimal.NewFromInt(100)).Round(4),
		ExitReason:      ExitEndOfPeriod,
		HoldingDays:     exitCandle.Time.Sub(entryCandle.Time).Hours() / 24,
		CapitalAfter:    capital.Add(profit),
	}

	final := trade.CapitalAfter
	return &Response{
		FoldNumber:     foldNumber,
		PeriodStart:    fold.StartDate,
		PeriodEnd:      fold.EndDate,
		InitialCapital: capital,
		FinalCapital:   final,
		TotalReturnPct: totalReturnPct(capital, final),
		Stats:          ComputeStats([]Trade{trade}, capital, false),
		Trades:         []Trade{trade},
	}, nil
}
