package upbit

import (
	"time"

	"github.com/shopspring/decimal"
)

// candleTimeLayout is the exchange's ISO-8601-without-zone wire format,
// used both for candle fields and the `to` query parameter.
const candleTimeLayout = "2006-01-02T15:04:05"

// Balance is one currency balance from GET /v1/accounts.
type Balance struct {
	Currency     string          `json:"currency"`
	Balance      decimal.Decimal `json:"balance"`
	Locked       decimal.Decimal `json:"locked"`
	AvgBuyPrice  decimal.Decimal `json:"avg_buy_price"`
	UnitCurrency string          `json:"unit_currency"`
}

// Ticker is a market snapshot from GET /v1/ticker.
type Ticker struct {
	Market           string  `json:"market"`
	TradePrice       float64 `json:"trade_price"`
	OpeningPrice     float64 `json:"opening_price"`
	HighPrice        float64 `json:"high_price"`
	LowPrice         float64 `json:"low_price"`
	PrevClosingPrice float64 `json:"prev_closing_price"`
	Change           string  `json:"change"` // RISE, FALL, EVEN
	ChangePrice      float64 `json:"change_price"`
	SignedChangeRate float64 `json:"signed_change_rate"`
	AccTradeVolume   float64 `json:"acc_trade_volume_24h"`
	Timestamp        int64   `json:"timestamp"`
}

// Candle is a daily candle from GET /v1/candles/days. The exchange reports
// both the UTC and the KST wall-clock time of each bucket.
type Candle struct {
	Market          string          `json:"market"`
	CandleTimeUTC   string          `json:"candle_date_time_utc"`
	CandleTimeKST   string          `json:"candle_date_time_kst"`
	OpeningPrice    decimal.Decimal `json:"opening_price"`
	HighPrice       decimal.Decimal `json:"high_price"`
	LowPrice        decimal.Decimal `json:"low_price"`
	TradePrice      decimal.Decimal `json:"trade_price"`
	AccTradeVolume  decimal.Decimal `json:"candle_acc_trade_volume"`
	AccTradePrice   decimal.Decimal `json:"candle_acc_trade_price"`
	Timestamp       int64           `json:"timestamp"`
	PrevClosingDiff decimal.Decimal `json:"change_price"`
}

// MinuteCandle is a minute candle from GET /v1/candles/minutes/1.
type MinuteCandle struct {
	Market         string          `json:"market"`
	CandleTimeUTC  string          `json:"candle_date_time_utc"`
	CandleTimeKST  string          `json:"candle_date_time_kst"`
	OpeningPrice   decimal.Decimal `json:"opening_price"`
	HighPrice      decimal.Decimal `json:"high_price"`
	LowPrice       decimal.Decimal `json:"low_price"`
	TradePrice     decimal.Decimal `json:"trade_price"`
	AccTradeVolume decimal.Decimal `json:"candle_acc_trade_volume"`
	Timestamp      int64           `json:"timestamp"`
	Unit           int             `json:"unit"`
}

// TimeKST parses the candle's KST wall-clock field in the given location.
func (c *MinuteCandle) TimeKST(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(candleTimeLayout, c.CandleTimeKST, loc)
}

// OrderResponse is the exchange's order representation, returned by both
// POST /v1/orders and GET /v1/order.
type OrderResponse struct {
	UUID           string          `json:"uuid"`
	Side           string          `json:"side"`
	OrdType        string          `json:"ord_type"`
	Price          decimal.Decimal `json:"price"`
	State          string          `json:"state"` // wait, done, cancel
	Market         string          `json:"market"`
	CreatedAt      string          `json:"created_at"`
	Volume         decimal.Decimal `json:"volume"`
	RemainingVol   decimal.Decimal `json:"remaining_volume"`
	ExecutedVolume decimal.Decimal `json:"executed_volume"`
	PaidFee        decimal.Decimal `json:"paid_fee"`
	TradesCount    int             `json:"trades_count"`
}

// apiError is the exchange's error envelope.
type apiError struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}
