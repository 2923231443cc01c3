package backtest

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"upbit-trading-bot/internal/database"
)

// ErrValidation marks request errors the API surfaces as 400.
var ErrValidation = errors.New("invalid request")

// ExitReason classifies how a simulated position was closed.
type ExitReason string

const (
	ExitTakeProfit   ExitReason = "TAKE_PROFIT"
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitTimeout      ExitReason = "TIMEOUT"
	ExitProfitLadder ExitReason = "PROFIT_LADDER"
	ExitTimeDecay    ExitReason = "TIME_DECAY"
	ExitEmaCross     ExitReason = "EMA_CROSS"
	ExitEndOfPeriod  ExitReason = "END_OF_PERIOD"
)

// ExitEvent is one tranche of a laddered exit.
type ExitEvent struct {
	Time        time.Time       `json:"time"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	ExitRatio   float64         `json:"exit_ratio"` // fraction of the initial quantity
	Reason      ExitReason      `json:"reason"`
	Profit      decimal.Decimal `json:"profit"`
	HoldingDays float64         `json:"holding_days"`
}

// Trade is one completed simulated position, the auditable unit of a
// backtest run.
type Trade struct {
	Market          string          `json:"market"`
	ModelName       string          `json:"model_name,omitempty"`
	FoldNumber      int             `json:"fold_number,omitempty"`
	EntryTime       time.Time       `json:"entry_time"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	ExitTime        time.Time       `json:"exit_time"`
	ExitPrice       decimal.Decimal `json:"exit_price"` // exit-weighted average for laddered exits
	TakeProfitPrice decimal.Decimal `json:"take_profit_price"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price"`
	PositionSize    decimal.Decimal `json:"position_size"` // quote currency
	InvestmentRatio float64         `json:"investment_ratio"`
	Quantity        decimal.Decimal `json:"quantity"`
	Profit          decimal.Decimal `json:"profit"`
	ReturnPct       decimal.Decimal `json:"return_pct"`
	ExitReason      ExitReason      `json:"exit_reason"`
	HoldingDays     float64         `json:"holding_days"`
	CapitalAfter    decimal.Decimal `json:"capital_after"`
	Confidence      float64         `json:"confidence,omitempty"`
	PredProbaUp     float64         `json:"pred_proba_up,omitempty"`
	SizingStrategy  string          `json:"sizing_strategy,omitempty"`

	// CUSUM context
	CusumStrategy  string  `json:"cusum_strategy,omitempty"`
	SelectivityPct float64 `json:"selectivity_pct,omitempty"`
	Threshold      float64 `json:"threshold,omitempty"`

	ExitEvents []ExitEvent `json:"exit_events,omitempty"`
}

// SimResult is the simulator's outcome for one signal: a trade, or a skip
// with a reason. The simulator never errors on a single candle gap.
type SimResult struct {
	Trade      *Trade `json:"trade,omitempty"`
	SkipReason string `json:"skip_reason,omitempty"`
}

// Skipped reports whether the signal produced no trade.
func (r SimResult) Skipped() bool { return r.Trade == nil }

func skip(reason string) SimResult { return SimResult{SkipReason: reason} }

// CandleIterator is a forward-only pass over minute candles. Close must be
// safe on every exit path.
type CandleIterator interface {
	Next() bool
	Candle() database.MinuteCandle
	Err() error
	Close()
}

// CandleSource is the candle-store capability the engine needs.
type CandleSource interface {
	FindFirstAtOrAfter(ctx context.Context, market string, t time.Time) (*database.MinuteCandle, error)
	FindLastBefore(ctx context.Context, market string, t time.Time) (*database.MinuteCandle, error)
	FindRange(ctx context.Context, market string, start, end time.Time) ([]database.MinuteCandle, error)
	StreamRange(ctx context.Context, market string, start, end time.Time) (CandleIterator, error)
}

// RepoCandleSource adapts the database repository to CandleSource.
type RepoCandleSource struct {
	Repo *database.Repository
}

func (s RepoCandleSource) FindFirstAtOrAfter(ctx context.Context, market string, t time.Time) (*database.MinuteCandle, error) {
	return s.Repo.FindFirstAtOrAfter(ctx, market, t)
}

func (s RepoCandleSource) FindLastBefore(ctx context.Context, market string, t time.Time) (*database.MinuteCandle, error) {
	return s.Repo.FindLastBefore(ctx, market, t)
}

func (s RepoCandleSource) FindRange(ctx context.Context, market string, start, end time.Time) ([]database.MinuteCandle, error) {
	return s.Repo.FindRange(ctx, market, start, end)
}

func (s RepoCandleSource) StreamRange(ctx context.Context, market string, start, end time.Time) (CandleIterator, error) {
	stream, err := s.Repo.StreamRange(ctx, market, start, end)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Stats summarises a trade list's risk and performance profile.
type Stats struct {
	TotalTrades       int     `json:"total_trades"`
	TakeProfitCount   int     `json:"take_profit_count"`
	StopLossCount     int     `json:"stop_loss_count"`
	TimeoutCount      int     `json:"timeout_count"`
	ProfitLadderCount int     `json:"profit_ladder_count,omitempty"`
	TimeDecayCount    int     `json:"time_decay_count,omitempty"`
	WinCount          int     `json:"win_count"`
	WinRate           float64 `json:"win_rate"`
	AvgHoldingDays    float64 `json:"avg_holding_days"`
	MaxDrawdownPct    float64 `json:"max_drawdown_pct"`
	SharpeRatio       float64 `json:"sharpe_ratio"`
	AvgWin            float64 `json:"avg_win"`
	AvgLoss           float64 `json:"avg_loss"`
	WinLossRatio      float64 `json:"win_loss_ratio"`
}

// Response is the common shape every orchestrator returns.
type Response struct {
	FoldNumber     int             `json:"fold_number,omitempty"`
	ModelName      string          `json:"model_name,omitempty"`
	SizingStrategy string          `json:"sizing_strategy,omitempty"`
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	FinalCapital   decimal.Decimal `json:"final_capital"`
	TotalReturnPct float64         `json:"total_return_pct"`
	Stats          Stats           `json:"stats"`
	Trades         []Trade         `json:"trades"`
}

// totalReturnPct guards the zero-capital special case.
func totalReturnPct(initial, final decimal.Decimal) float64 {
	if !initial.IsPositive() {
		return 0
	}
	return final.Sub(initial).Div(initial).InexactFloat64() * 100
}
