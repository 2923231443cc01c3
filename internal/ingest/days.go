package ingest

import (
	"context"
	"fmt"
	"time"

	"upbit-trading-bot/internal/database"
	"upbit-trading-bot/internal/upbit"
)

// DayAPI is the daily-candle exchange capability.
type DayAPI interface {
	FetchDayCandles(ctx context.Context, market string, count int, to time.Time) ([]upbit.Candle, error)
}

// DayStore is the daily-candle persistence capability.
type DayStore interface {
	InsertDayCandles(ctx context.Context, candles []database.DayCandle) (int, error)
}

// DayBackfiller fills the daily-candle store from the newest candle
// backwards until the exchange runs out or everything is already stored.
type DayBackfiller struct {
	api    DayAPI
	store  DayStore
	market string
}

// NewDayBackfiller creates a daily backfiller for one market.
func NewDayBackfiller(api DayAPI, store DayStore, market string) *DayBackfiller {
	return &DayBackfiller{api: api, store: store, market: market}
}

// Run walks daily candles backwards in 200-candle batches. It stops on an
// empty batch or when a whole batch is already stored.
func (b *DayBackfiller) Run(ctx context.Context) (int, error) {
	total := 0
	var cursor time.Time

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		fetched, err := b.api.FetchDayCandles(ctx, b.market, batchSize, cursor)
		if err != nil {
			return total, fmt.Errorf("day candle fetch failed: %w", err)
		}
		if len(fetched) == 0 {
			break
		}

		entities := make([]database.DayCandle, 0, len(fetched))
		oldest := time.Time{}
		for _, c := range fetched {
			t, err := time.ParseInLocation("2006-01-02T15:04:05", c.CandleTimeKST, database.KST)
			if err != nil {
				return total, fmt.Errorf("bad day candle time %q: %w", c.CandleTimeKST, err)
			}
			date := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, database.KST)
			entities = append(entities, database.DayCandle{
				Market: b.market,
				Date:   date,
				Open:   c.OpeningPrice,
				High:   c.HighPrice,
				Low:    c.LowPrice,
				Close:  c.TradePrice,
				Volume: c.AccTradeVolume,
			})
			if oldest.IsZero() || date.Before(oldest) {
				oldest = date
			}
		}

		inserted, err := b.store.InsertDayCandles(ctx, entities)
		if err != nil {
			return total, err
		}
		total += inserted

		if inserted == 0 {
			break
		}

		cursor = oldest.In(time.UTC)

		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(requestPause):
		}
	}

	return total, nil
}
