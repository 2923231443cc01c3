package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"upbit-trading-bot/internal/logging"
	"upbit-trading-bot/internal/signal"
)

// CusumRequest configures a CUSUM-signal backtest. Zero/empty filters match
// everything.
type CusumRequest struct {
	FoldID         int     `json:"fold_id"`
	Strategy       string  `json:"strategy"`
	ModelID        string  `json:"model_id"`
	InitialCapital float64 `json:"initial_capital"`
}

// CusumResponse extends the common response with event-signal aggregates.
type CusumResponse struct {
	Response
	Strategy            string  `json:"strategy,omitempty"`
	StrategyTimeframe   string  `json:"strategy_timeframe"`
	StrategyType        string  `json:"strategy_type"`
	MeanConfidence      float64 `json:"mean_confidence"`
	MeanSelectivityPct  float64 `json:"mean_selectivity_pct"`
	MeanInvestmentRatio float64 `json:"mean_investment_ratio"`
}

// CusumBacktester replays the cached BUY signals through the simulator.
type CusumBacktester struct {
	store *signal.CusumStore
	sim   *Simulator
	log   *logging.Logger
}

// NewCusumBacktester creates the event-signal orchestrator.
func NewCusumBacktester(store *signal.CusumStore, sim *Simulator) *CusumBacktester {
	return &CusumBacktester{
		store: store,
		sim:   sim,
		log:   logging.WithComponent("backtest"),
	}
}

// Run filters the BUY signal set, sorts by signal time, and simulates each
// signal with overlap prevention and accumulated capital.
func (b *CusumBacktester) Run(ctx context.Context, req CusumRequest) (*CusumResponse, error) {
	if req.InitialCapital < 0 {
		return nil, fmt.Errorf("%w: initial capital must not be negative", ErrValidation)
	}

	signals := b.filter(b.store.BuySignals(), req)

	capital := decimal.NewFromFloat(req.InitialCapital)
	initial := capital
	trades := []Trade{}
	var lastExitTime time.Time

	for _, sig := range signals {
		result, err := b.sim.RunCusum(ctx, sig, capital)
		if err != nil {
			return nil, err
		}
		if result.Skipped() {
			b.log.Debug("cusum signal skipped",
				"time", sig.SignalTime.Format("2006-01-02 15:04"), "reason", result.SkipReason)
			continue
		}

		trade := result.Trade
		if trade.EntryTime.Before(lastExitTime) {
			continue
		}

		capital = trade.CapitalAfter
		lastExitTime = trade.ExitTime
		trades = append(trades, *trade)
	}

	resp := &CusumResponse{
		Response: Response{
			FoldNumber:     req.FoldID,
			ModelName:      req.ModelID,
			InitialCapital: initial,
			FinalCapital:   capital,
			TotalReturnPct: totalReturnPct(initial, capital),
			Stats:          ComputeStats(trades, initial, true),
			Trades:         trades,
		},
		Strategy:          req.Strategy,
		StrategyTimeframe: "1m",
		StrategyType:      "CUSUM_EVENT",
	}

	if first, last, ok := b.store.DateRange(); ok {
		resp.PeriodStart = first
		resp.PeriodEnd = last
	}
	if len(trades) > 0 {
		resp.PeriodStart = trades[0].EntryTime
		resp.PeriodEnd = trades[len(trades)-1].ExitTime
	}

	var confSum, selSum, ratioSum float64
	for _, t := range trades {
		confSum += t.Confidence
		selSum += t.SelectivityPct
		ratioSum += t.InvestmentRatio
	}
	if n := float64(len(trades)); n > 0 {
		resp.MeanConfidence = confSum / n
		resp.MeanSelectivityPct = selSum / n
		resp.MeanInvestmentRatio = ratioSum / n
	}

	return resp, nil
}

func (b *CusumBacktester) filter(signals []signal.CusumSignal, req CusumRequest) []signal.CusumSignal {
	out := make([]signal.CusumSignal, 0, len(signals))
	for _, sig := range signals {
		if req.FoldID != 0 && sig.FoldID != req.FoldID {
			continue
		}
		if req.Strategy != "" && sig.Strategy != req.Strategy {
			continue
		}
		if req.ModelID != "" && sig.Model != req.ModelID {
			continue
		}
		out = append(out, sig)
	}
	return out
}
