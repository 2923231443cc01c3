package backtest

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"upbit-trading-bot/internal/indicator"
	"upbit-trading-bot/internal/logging"
	"upbit-trading-bot/internal/signal"
)

// Rule-based strategy constants: trend filter periods, the volume spike
// multiple, the fixed sizing, and the stop-loss factor applied to the entry
// price.
const (
	ruleFastSMAPeriod   = 20
	ruleSlowSMAPeriod   = 50
	ruleExitEMAPeriod   = 20
	ruleVolumeMAPeriod  = 20
	ruleVolumeMultiple  = 1.2
	rulePositionPercent = 0.80
	ruleStopLossFactor  = 0.95
	ruleWarmupDays      = 30
)

// RuleBasedRequest configures an indicator-driven backtest.
type RuleBasedRequest struct {
	FoldNumber     int     `json:"fold_number"`
	InitialCapital float64 `json:"initial_capital"`
}

// RuleBasedBacktester generates entries from four-hour indicators instead of
// an external signal table.
type RuleBasedBacktester struct {
	candles CandleSource
	market  string
	feeRate decimal.Decimal
	log     *logging.Logger
}

// NewRuleBasedBacktester creates the indicator-driven orchestrator.
func NewRuleBasedBacktester(candles CandleSource, market string, feeRate float64) *RuleBasedBacktester {
	return &RuleBasedBacktester{
		candles: candles,
		market:  market,
		feeRate: decimal.NewFromFloat(feeRate),
		log:     logging.WithComponent("backtest"),
	}
}

// Run loads the fold's minute candles with a warmup margin, resamples to
// four-hour bars, and trades the trend/volume rule set.
func (b *RuleBasedBacktester) Run(ctx context.Context, req RuleBasedRequest) (*Response, error) {
	if req.InitialCapital < 0 {
		return nil, fmt.Errorf("%w: initial capital must not be negative", ErrValidation)
	}
	fold, err := signal.GetFold(req.FoldNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	loadStart := fold.StartDate.AddDate(0, 0, -ruleWarmupDays)
	loadEnd := fold.EndDate.AddDate(0, 0, 1)

	minutes, err := b.candles.FindRange(ctx, b.market, loadStart, loadEnd)
	if err != nil {
		return nil, err
	}

	bars := indicator.ResampleToFourHour(minutes)

	capital := decimal.NewFromFloat(req.InitialCapital)
	initial := capital
	trades := []Trade{}

	if len(bars) > 1 {
		closes := make([]float64, len(bars))
		volumes := make([]float64, len(bars))
		for i, bar := range bars {
			closes[i] = bar.Close.InexactFloat64()
			volumes[i] = bar.Volume.InexactFloat64()
		}

		smaFast := indicator.SMA(closes, ruleFastSMAPeriod)
		smaSlow := indicator.SMA(closes, ruleSlowSMAPeriod)
		emaExit := indicator.EMA(closes, ruleExitEMAPeriod)
		volMA := indicator.SMA(volumes, ruleVolumeMAPeriod)

		for i := 1; i < len(bars); {
			if !bars[i].Start.Before(fold.StartDate) && bars[i].Start.Before(loadEnd) &&
				entrySignal(closes, volumes, smaFast, smaSlow, volMA, i-1) {

				trade, exitIdx, err := b.simulate(ctx, bars, emaExit, i, capital)
				if err != nil {
					return nil, err
				}
				if trade != nil {
					capital = trade.CapitalAfter
					trades = append(trades, *trade)
					i = exitIdx + 1
					continue
				}
			}
			i++
		}
	}

	resp := &Response{
		FoldNumber:     req.FoldNumber,
		PeriodStart:    fold.StartDate,
		PeriodEnd:      fold.EndDate,
		InitialCapital: initial,
		FinalCapital:   capital,
		TotalReturnPct: totalReturnPct(initial, capital),
		Stats:          ComputeStats(trades, initial, false),
		Trades:         trades,
	}
	return resp, nil
}

// entrySignal checks the previous bar: close above both trend SMAs and
// volume above the spike multiple of its average.
func entrySignal(closes, volumes, smaFast, smaSlow, volMA []float64, i int) bool {
	if !indicator.IsDefined(smaFast[i]) || !indicator.IsDefined(smaSlow[i]) || !indicator.IsDefined(volMA[i]) {
		return false
	}
	return closes[i] > smaFast[i] &&
		closes[i] > smaSlow[i] &&
		volumes[i] > ruleVolumeMultiple*volMA[i]
}

// simulate opens at bar entryIdx and scans forward for the exit rule. The
// entry price is the one-minute open at the bar's start when that candle
// exists, otherwise the bar's own open.
func (b *RuleBasedBacktester) simulate(ctx context.Context, bars []indicator.FourHourCandle, emaExit []float64, entryIdx int, capital decimal.Decimal) (*Trade, int, error) {
	entryBar := bars[entryIdx]

	entryPrice := entryBar.Open
	entryTime := entryBar.Start
	if minute, err := b.candles.FindFirstAtOrAfter(ctx, b.market, entryBar.Start); err == nil &&
		minute.Time.Equal(entryBar.Start) {
		entryPrice = minute.Open
	}

	positionSize := capital.Mul(decimal.NewFromFloat(rulePositionPercent)).RoundDown(2)
	if positionSize.LessThan(one) {
		return nil, entryIdx, nil
	}

	entryFee := positionSize.Mul(b.feeRate).RoundUp(2)
	quantity := positionSize.Sub(entryFee).Div(entryPrice).RoundDown(8)
	if !quantity.IsPositive() {
		return nil, entryIdx, nil
	}

	stopLevel := entryPrice.Mul(decimal.NewFromFloat(ruleStopLossFactor))

	exitIdx := len(bars) - 1
	exitPrice := bars[exitIdx].Close
	exitReason := ExitEndOfPeriod

	for j := entryIdx + 1; j < len(bars); j++ {
		closeVal := bars[j].Close
		if indicator.IsDefined(emaExit[j]) && closeVal.InexactFloat64() < emaExit[j] {
			exitIdx, exitPrice, exitReason = j, closeVal, ExitEmaCross
			break
		}
		if closeVal.LessThan(stopLevel) {
			exitIdx, exitPrice, exitReason = j, closeVal, ExitStopLoss
			break
		}
	}

	exitTime := bars[exitIdx].Start

	proceeds := quantity.Mul(exitPrice)
	exitFee := proceeds.Mul(b.feeRate).RoundUp(2)
	profit := proceeds.Sub(exitFee).Sub(positionSize)

	returnPct := decimal.Zero
	if positionSize.IsPositive() {
		returnPct = profit.Div(positionSize).Mul(decimal.NewFromInt(100)).Round(4)
	}

	trade := &Trade{
		Market:          b.market,
		EntryTime:       entryTime,
		EntryPrice:      entryPrice,
		ExitTime:        exitTime,
		ExitPrice:       exitPrice,
		StopLossPrice:   stopLevel,
		PositionSize:    positionSize,
		InvestmentRatio: rulePositionPercent,
		Quantity:        quantity,
		Profit:          profit,
		ReturnPct:       returnPct,
		ExitReason:      exitReason,
		HoldingDays:     exitTime.Sub(entryTime).Hours() / 24,
		CapitalAfter:    capital.Add(profit),
	}
	return trade, exitIdx, nil
}
