package backtest

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"upbit-trading-bot/internal/logging"
	"upbit-trading-bot/internal/signal"
)

// SequentialRequest chains folds [StartFold, EndFold], feeding each fold's
// final capital into the next.
type SequentialRequest struct {
	StartFold           int     `json:"start_fold"`
	EndFold             int     `json:"end_fold"`
	ModelName           string  `json:"model_name"`
	InitialCapital      float64 `json:"initial_capital"`
	Threshold           float64 `json:"threshold"`
	ThresholdColumn     string  `json:"threshold_column"`
	ThresholdMode       string  `json:"threshold_mode"`
	PositionSizePercent float64 `json:"position_size_percent"`
	HoldingDays         int     `json:"holding_days"`
}

// FoldResult pairs one fold's strategy run with its buy-and-hold benchmark.
type FoldResult struct {
	FoldNumber     int       `json:"fold_number"`
	Regime         string    `json:"regime"`
	Strategy       *Response `json:"strategy"`
	BuyHold        *Response `json:"buy_hold"`
	StrategyReturn float64   `json:"strategy_return_pct"`
	BuyHoldReturn  float64   `json:"buy_hold_return_pct"`
}

// SequentialResponse aggregates a chained run.
type SequentialResponse struct {
	StartFold           int             `json:"start_fold"`
	EndFold             int             `json:"end_fold"`
	ModelName           string          `json:"model_name"`
	InitialCapital      decimal.Decimal `json:"initial_capital"`
	FinalCapital        decimal.Decimal `json:"final_capital"`
	TotalReturnPct      float64         `json:"total_return_pct"`
	BuyHoldFinalCapital decimal.Decimal `json:"buy_hold_final_capital"`
	BuyHoldReturnPct    float64         `json:"buy_hold_return_pct"`
	SharpeAcrossFolds   float64         `json:"sharpe_across_folds"`
	TotalTrades         int             `json:"total_trades"`
	Folds               []FoldResult    `json:"folds"`
}

// SequentialBacktester runs the walk-forward chain: the strategy strand
// compounds fold to fold while buy-and-hold compounds independently.
type SequentialBacktester struct {
	tpsl    *TPSLBacktester
	buyHold *BuyHoldBacktester
	log     *logging.Logger
}

// NewSequentialBacktester creates the fold-chaining orchestrator.
func NewSequentialBacktester(tpsl *TPSLBacktester, buyHold *BuyHoldBacktester) *SequentialBacktester {
	return &SequentialBacktester{
		tpsl:    tpsl,
		buyHold: buyHold,
		log:     logging.WithComponent("backtest"),
	}
}

// Run executes folds in order. A zero initial capital flows through as
// all-zero returns rather than a division error.
func (b *SequentialBacktester) Run(ctx context.Context, req SequentialRequest) (*SequentialResponse, error) {
	if req.StartFold < 1 || req.EndFold > signal.FoldCount || req.StartFold > req.EndFold {
		return nil, fmt.Errorf("%w: fold range [%d, %d] out of bounds", ErrValidation, req.StartFold, req.EndFold)
	}
	if req.InitialCapital < 0 {
		return nil, fmt.Errorf("%w: initial capital must not be negative", ErrValidation)
	}

	initial := decimal.NewFromFloat(req.InitialCapital)
	strategyCapital := req.InitialCapital
	buyHoldCapital := req.InitialCapital

	resp := &SequentialResponse{
		StartFold:      req.StartFold,
		EndFold:        req.EndFold,
		ModelName:      req.ModelName,
		InitialCapital: initial,
	}

	foldReturns := []float64{}

	for fold := req.StartFold; fold <= req.EndFold; fold++ {
		foldCfg, err := signal.GetFold(fold)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}

		strategyResp, err := b.tpsl.Run(ctx, TPSLRequest{
			FoldNumber:          fold,
			ModelName:           req.ModelName,
			InitialCapital:      strategyCapital,
			Threshold:           req.Threshold,
			ThresholdColumn:     req.ThresholdColumn,
			ThresholdMode:       req.ThresholdMode,
			PositionSizePercent: req.PositionSizePercent,
			HoldingDays:         req.HoldingDays,
		})
		if err != nil {
			return nil, err
		}

		buyHoldResp, err := b.buyHold.Run(ctx, fold, buyHoldCapital)
		if err != nil {
			return nil, err
		}

		resp.Folds = append(resp.Folds, FoldResult{
			FoldNumber:     fold,
			Regime:         string(foldCfg.Regime),
			Strategy:       strategyResp,
			BuyHold:        buyHoldResp,
			StrategyReturn: strategyResp.TotalReturnPct,
			BuyHoldReturn:  buyHoldResp.TotalReturnPct,
		})

		foldReturns = append(foldReturns, strategyResp.TotalReturnPct)
		resp.TotalTrades += len(strategyResp.Trades)

		strategyCapital = strategyResp.FinalCapital.InexactFloat64()
		buyHoldCapital = buyHoldResp.FinalCapital.InexactFloat64()

		b.log.Info("sequential fold finished",
			"fold", fold,
			"strategy_capital", strategyCapital,
			"buy_hold_capital", buyHoldCapital)
	}

	resp.FinalCapital = decimal.NewFromFloat(strategyCapital).Round(2)
	resp.BuyHoldFinalCapital = decimal.NewFromFloat(buyHoldCapital).Round(2)
	resp.TotalReturnPct = totalReturnPct(initial, resp.FinalCapital)
	resp.BuyHoldReturnPct = totalReturnPct(initial, resp.BuyHoldFinalCapital)
	// Small-n by design: this Sharpe reads across per-fold returns, unlike
	// the per-fold stat which reads across per-trade returns.
	resp.SharpeAcrossFolds = SharpeRatio(foldReturns)

	return resp, nil
}
