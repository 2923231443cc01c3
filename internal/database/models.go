package database

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// KST is the exchange's wall clock. All domain timestamps are stored and
// compared in this zone; conversion to UTC happens only at the exchange API
// boundary.
var KST = time.FixedZone("KST", 9*60*60)

// Sentinel errors mapped to HTTP statuses by the API layer.
var (
	ErrNotFound = errors.New("not found")
	ErrNoCandle = errors.New("no candle in range")
)

// MinuteCandle is a one-minute OHLCV row. Appended by the ingestion
// pipeline, never mutated.
type MinuteCandle struct {
	ID     int64           `json:"id"`
	Market string          `json:"market"`
	Time   time.Time       `json:"candle_time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// DayCandle is a daily OHLCV row.
type DayCandle struct {
	ID     int64           `json:"id"`
	Market string          `json:"market"`
	Date   time.Time       `json:"candle_date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// Prediction is one daily model prediction row for a (fold, model) pair.
type Prediction struct {
	ID              int64           `json:"id"`
	Market          string          `json:"market"`
	Date            time.Time       `json:"prediction_date"`
	FoldNumber      int             `json:"fold_number"`
	ModelName       string          `json:"model_name"`
	ActualDirection string          `json:"actual_direction"`
	ActualReturn    decimal.Decimal `json:"actual_return"`
	PredDirection   string          `json:"pred_direction"`
	PredProbaUp     float64         `json:"pred_proba_up"`
	PredProbaDown   float64         `json:"pred_proba_down"`
	MaxProba        float64         `json:"max_proba"`
	Confidence      float64         `json:"confidence"`
	TakeProfitPrice decimal.Decimal `json:"take_profit_price"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price"`
	Correct         bool            `json:"correct"`
}

// Order status values for trade_order rows.
const (
	OrderStatusPending  = "PENDING"
	OrderStatusFilled   = "FILLED"
	OrderStatusCanceled = "CANCELED"
)

// TradeOrder is a locally persisted live order.
type TradeOrder struct {
	ID        int64           `json:"id"`
	AccountID int64           `json:"account_id"`
	OrderUUID string          `json:"order_uuid"`
	Market    string          `json:"market"`
	Side      string          `json:"side"` // bid or ask
	OrdType   string          `json:"ord_type"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Job status values for backtest_jobs rows.
const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
)

// BacktestJob tracks an async batch of backtests.
type BacktestJob struct {
	JobID          string     `json:"job_id"`
	Status         string     `json:"status"`
	TotalTasks     int        `json:"total_tasks"`
	CompletedTasks int        `json:"completed_tasks"`
	FailedTasks    int        `json:"failed_tasks"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Progress returns the job's completion percentage, floored.
func (j *BacktestJob) Progress() int {
	if j.TotalTasks == 0 {
		return 0
	}
	return 100 * j.CompletedTasks / j.TotalTasks
}
