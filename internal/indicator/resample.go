package indicator

import (
	"time"

	"github.com/shopspring/decimal"

	"upbit-trading-bot/internal/database"
)

// FourHourCandle is one resampled four-hour bar.
type FourHourCandle struct {
	Market string
	Start  time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// bucketStart maps a minute timestamp to its four-hour bucket. Buckets are
// anchored at 01:00, 05:00, 09:00, 13:00, 17:00 and 21:00 local time, so the
// 00:xx minutes belong to the previous day's 21:00 bucket.
func bucketStart(t time.Time) time.Time {
	shifted := t.Add(-time.Hour)
	anchored := time.Date(shifted.Year(), shifted.Month(), shifted.Day(),
		(shifted.Hour()/4)*4, 0, 0, 0, t.Location())
	return anchored.Add(time.Hour)
}

// ResampleToFourHour folds ascending minute candles into four-hour bars:
// open = first, close = last, high = max, low = min, volume = sum.
func ResampleToFourHour(candles []database.MinuteCandle) []FourHourCandle {
	if len(candles) == 0 {
		return nil
	}

	out := []FourHourCandle{}
	var current *FourHourCandle

	for _, c := range candles {
		start := bucketStart(c.Time)

		if current == nil || !current.Start.Equal(start) {
			if current != nil {
				out = append(out, *current)
			}
			current = &FourHourCandle{
				Market: c.Market,
				Start:  start,
				Open:   c.Open,
				High:   c.High,
				Low:    c.Low,
				Close:  c.Close,
				Volume: c.Volume,
			}
			continue
		}

		if c.High.GreaterThan(current.High) {
			current.High = c.High
		}
		if c.Low.LessThan(current.Low) {
			current.Low = c.Low
		}
		current.Close = c.Close
		current.Volume = current.Volume.Add(c.Volume)
	}

	out = append(out, *current)
	return out
}
