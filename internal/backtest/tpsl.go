package backtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"upbit-trading-bot/internal/database"
	"upbit-trading-bot/internal/indicator"
	"upbit-trading-bot/internal/logging"
	"upbit-trading-bot/internal/signal"
	"upbit-trading-bot/internal/sizing"
)

// Threshold modes.
const (
	ThresholdModeFixed    = "FIXED"
	ThresholdModeQuantile = "QUANTILE"
)

// Threshold columns.
const (
	ColumnPredProbaUp = "PRED_PROBA_UP"
	ColumnConfidence  = "CONFIDENCE"
)

// PredictionSource is the prediction-store capability the orchestrator needs.
type PredictionSource interface {
	FindPredictions(ctx context.Context, market string, fold int, model string) ([]database.Prediction, error)
}

// TPSLRequest configures one prediction-driven backtest run.
type TPSLRequest struct {
	FoldNumber          int     `json:"fold_number"`
	ModelName           string  `json:"model_name"`
	InitialCapital      float64 `json:"initial_capital"`
	Threshold           float64 `json:"threshold"`
	ThresholdColumn     string  `json:"threshold_column"` // PRED_PROBA_UP or CONFIDENCE
	ThresholdMode       string  `json:"threshold_mode"`   // FIXED or QUANTILE
	SizingStrategy      string  `json:"sizing_strategy"`
	PositionSizePercent float64 `json:"position_size_percent"` // > 0 bypasses the sizer
	HoldingDays         int     `json:"holding_days"`
	Laddered            bool    `json:"laddered"`
}

// TPSLBacktester runs prediction-row-driven TP/SL backtests.
type TPSLBacktester struct {
	predictions PredictionSource
	sim         *Simulator
	defaultDays int
	log         *logging.Logger
}

// NewTPSLBacktester creates the prediction-driven orchestrator.
func NewTPSLBacktester(predictions PredictionSource, sim *Simulator, defaultHoldingDays int) *TPSLBacktester {
	return &TPSLBacktester{
		predictions: predictions,
		sim:         sim,
		defaultDays: defaultHoldingDays,
		log:         logging.WithComponent("backtest"),
	}
}

func (b *TPSLBacktester) validate(req *TPSLRequest) (sizing.Strategy, error) {
	if req.FoldNumber < 1 || req.FoldNumber > signal.FoldCount {
		return "", fmt.Errorf("%w: fold number must be in [1, %d]", ErrValidation, signal.FoldCount)
	}
	if req.InitialCapital < 0 {
		return "", fmt.Errorf("%w: initial capital must not be negative", ErrValidation)
	}
	if req.ModelName == "" {
		return "", fmt.Errorf("%w: model name is required", ErrValidation)
	}

	if req.ThresholdColumn == "" {
		req.ThresholdColumn = ColumnPredProbaUp
	}
	req.ThresholdColumn = strings.ToUpper(req.ThresholdColumn)
	if req.ThresholdColumn != ColumnPredProbaUp && req.ThresholdColumn != ColumnConfidence {
		return "", fmt.Errorf("%w: unknown threshold column %q", ErrValidation, req.ThresholdColumn)
	}

	if req.ThresholdMode == "" {
		req.ThresholdMode = ThresholdModeFixed
	}
	req.ThresholdMode = strings.ToUpper(req.ThresholdMode)

	switch req.ThresholdMode {
	case ThresholdModeFixed:
		max := 1.0
		if req.ThresholdColumn == ColumnConfidence {
			max = 0.5
		}
		if req.Threshold < 0 || req.Threshold > max {
			return "", fmt.Errorf("%w: %s threshold must be in [0, %g]", ErrValidation, req.ThresholdColumn, max)
		}
	case ThresholdModeQuantile:
		if req.Threshold < 0 || req.Threshold > 100 {
			return "", fmt.Errorf("%w: quantile threshold must be in [0, 100]", ErrValidation)
		}
	default:
		return "", fmt.Errorf("%w: unknown threshold mode %q", ErrValidation, req.ThresholdMode)
	}

	if req.PositionSizePercent < 0 || req.PositionSizePercent > 100 {
		return "", fmt.Errorf("%w: position size percent must be in [0, 100]", ErrValidation)
	}
	if req.HoldingDays <= 0 {
		req.HoldingDays = b.defaultDays
	}

	strategy := sizing.Strategy(req.SizingStrategy)
	if req.SizingStrategy == "" {
		strategy = sizing.ConservativeKelly
	} else if _, err := sizing.ParseStrategy(req.SizingStrategy); err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}

	return strategy, nil
}

// Run executes one TP/SL backtest: filter predictions by direction and
// threshold, iterate chronologically with overlap prevention, accumulate
// capital through the per-trade simulator.
func (b *TPSLBacktester) Run(ctx context.Context, req TPSLRequest) (*Response, error) {
	strategy, err := b.validate(&req)
	if err != nil {
		return nil, err
	}

	fold, err := signal.GetFold(req.FoldNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	preds, err := b.predictions.FindPredictions(ctx, b.sim.Market(), req.FoldNumber, req.ModelName)
	if err != nil {
		return nil, err
	}

	selected := b.filterPredictions(preds, &req)

	capital := decimal.NewFromFloat(req.InitialCapital)
	initial := capital
	trades := []Trade{}
	var lastExitTime time.Time

	for _, pred := range selected {
		result, err := b.sim.RunPrediction(ctx, PredictionParams{
			Prediction:    pred,
			Capital:       capital,
			Strategy:      strategy,
			FixedFraction: req.PositionSizePercent / 100,
			HoldingDays:   req.HoldingDays,
			Laddered:      req.Laddered,
		})
		if err != nil {
			return nil, err
		}
		if result.Skipped() {
			b.log.Debug("signal skipped", "date", pred.Date.Format("2006-01-02"), "reason", result.SkipReason)
			continue
		}

		trade := result.Trade
		// One position at a time: discard entries that begin before the
		// previous exit.
		if trade.EntryTime.Before(lastExitTime) {
			continue
		}

		capital = trade.CapitalAfter
		lastExitTime = trade.ExitTime
		trades = append(trades, *trade)
	}

	resp := &Response{
		FoldNumber:     req.FoldNumber,
		ModelName:      req.ModelName,
		SizingStrategy: string(strategy),
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

// filterPredictions keeps up-direction rows at or above the resolved
// threshold, in date order.
func (b *TPSLBacktester) filterPredictions(preds []database.Prediction, req *TPSLRequest) []database.Prediction {
	upward := make([]database.Prediction, 0, len(preds))
	for _, p := range preds {
		if isUpDirection(p.PredDirection) {
			upward = append(upward, p)
		}
	}

	threshold := req.Threshold
	if req.ThresholdMode == ThresholdModeQuantile {
		threshold = quantileThreshold(upward, req.ThresholdColumn, req.Threshold)
	}

	selected := make([]database.Prediction, 0, len(upward))
	for _, p := range upward {
		if columnValue(p, req.ThresholdColumn) >= threshold {
			selected = append(selected, p)
		}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Date.Before(selected[j].Date)
	})
	return selected
}

// quantileThreshold resolves a percentile in [0, 100] of the chosen column
// over the direction-filtered subset.
func quantileThreshold(preds []database.Prediction, column string, percentile float64) float64 {
	if len(preds) == 0 {
		return 0
	}
	values := make([]float64, len(preds))
	for i, p := range preds {
		values[i] = columnValue(p, column)
	}
	sort.Float64s(values)
	return indicator.Quantile(values, percentile/100)
}

func columnValue(p database.Prediction, column string) float64 {
	if column == ColumnConfidence {
		return p.Confidence
	}
	return p.PredProbaUp
}

func isUpDirection(direction string) bool {
	switch strings.ToUpper(strings.TrimSpace(direction)) {
	case "UP", "1", "LONG", "BUY":
		return true
	default:
		return false
	}
}
