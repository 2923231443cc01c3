// Package ingest backfills minute candles from the exchange into the local
// store, walking backwards in time with resume, dedup, and rate pacing.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"upbit-trading-bot/internal/database"
	"upbit-trading-bot/internal/logging"
	"upbit-trading-bot/internal/signal"
	"upbit-trading-bot/internal/upbit"
)

const (
	batchSize = upbit.MaxCandleCount

	// requestPause keeps the loop inside the exchange's ~8/s and ~200/min
	// limits on top of the client's own limiter.
	requestPause = 100 * time.Millisecond

	// stallLimit terminates the loop after this many consecutive batches
	// that insert nothing new.
	stallLimit = 3
)

// CandleAPI is the exchange capability the pipeline needs.
type CandleAPI interface {
	FetchMinuteCandles(ctx context.Context, market string, count int, to time.Time) ([]upbit.MinuteCandle, error)
}

// CandleStore is the persistence capability the pipeline needs.
type CandleStore interface {
	OldestMinuteCandleTime(ctx context.Context, market string) (time.Time, error)
	ExistingTimestamps(ctx context.Context, market string, times []time.Time) (map[int64]bool, error)
	InsertMinuteCandles(ctx context.Context, candles []database.MinuteCandle) (int, error)
}

// Result summarises one backfill run.
type Result struct {
	Market        string `json:"market"`
	Batches       int    `json:"batches"`
	Fetched       int    `json:"fetched"`
	Inserted      int    `json:"inserted"`
	Duplicates    int    `json:"duplicates"`
	StallDetected bool   `json:"stall_detected"`
}

// Backfiller fills the minute-candle store backwards over a date range.
type Backfiller struct {
	api    CandleAPI
	store  CandleStore
	market string
	log    *logging.Logger
}

// NewBackfiller creates a backfiller for one market.
func NewBackfiller(api CandleAPI, store CandleStore, market string) *Backfiller {
	return &Backfiller{
		api:    api,
		store:  store,
		market: market,
		log:    logging.WithComponent("ingest"),
	}
}

// Run backfills [startDate, endDate] (local dates), going backwards. The
// cursor resumes from the oldest stored row when the store already has data
// for the market.
func (b *Backfiller) Run(ctx context.Context, startDate, endDate time.Time) (*Result, error) {
	result := &Result{Market: b.market}

	cursor, err := b.resumeCursor(ctx, endDate)
	if err != nil {
		return nil, err
	}

	b.log.Info("starting minute candle backfill",
		"market", b.market,
		"start_date", startDate.Format("2006-01-02"),
		"end_date", endDate.Format("2006-01-02"),
		"cursor", cursor.Format(time.RFC3339))

	zeroStreak := 0

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		// The termination predicate compares back in local dates.
		if cursor.In(database.KST).Before(startDate) {
			b.log.Info("backfill reached start date", "market", b.market)
			break
		}

		fetched, err := b.api.FetchMinuteCandles(ctx, b.market, batchSize, cursor)
		if err != nil {
			return result, fmt.Errorf("backfill fetch failed: %w", err)
		}
		if len(fetched) == 0 {
			b.log.Info("exchange returned empty batch, backfill complete", "market", b.market)
			break
		}

		result.Batches++
		result.Fetched += len(fetched)

		entities, err := b.toEntities(fetched)
		if err != nil {
			return result, err
		}

		inserted, oldest, err := b.insertNew(ctx, entities)
		if err != nil {
			return result, err
		}
		result.Inserted += inserted
		result.Duplicates += len(entities) - inserted

		if inserted > 0 {
			zeroStreak = 0
			cursor = oldest.In(time.UTC)
		} else {
			zeroStreak++
			if zeroStreak >= stallLimit {
				b.log.Info("three consecutive duplicate batches, backfill complete", "market", b.market)
				result.StallDetected = true
				break
			}
			// Force progress past a fully duplicate batch.
			cursor = oldest.In(time.UTC).Add(-time.Minute)
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(requestPause):
		}
	}

	b.log.Info("backfill finished",
		"market", b.market,
		"batches", result.Batches,
		"inserted", result.Inserted,
		"duplicates", result.Duplicates)

	return result, nil
}

// resumeCursor seeks the starting `to` parameter: the oldest stored row when
// present, otherwise the end date's last second, UTC-converted.
func (b *Backfiller) resumeCursor(ctx context.Context, endDate time.Time) (time.Time, error) {
	oldest, err := b.store.OldestMinuteCandleTime(ctx, b.market)
	if err == nil {
		return oldest.In(time.UTC), nil
	}
	if !errors.Is(err, database.ErrNoCandle) {
		return time.Time{}, err
	}

	local := time.Date(endDate.Year(), endDate.Month(), endDate.Day(),
		23, 59, 59, 0, database.KST)
	return local.In(time.UTC), nil
}

func (b *Backfiller) toEntities(fetched []upbit.MinuteCandle) ([]database.MinuteCandle, error) {
	entities := make([]database.MinuteCandle, 0, len(fetched))
	for _, c := range fetched {
		t, err := c.TimeKST(database.KST)
		if err != nil {
			return nil, fmt.Errorf("bad candle time %q: %w", c.CandleTimeKST, err)
		}
		entities = append(entities, database.MinuteCandle{
			Market: b.market,
			Time:   t,
			Open:   c.OpeningPrice,
			High:   c.HighPrice,
			Low:    c.LowPrice,
			Close:  c.TradePrice,
			Volume: c.AccTradeVolume,
		})
	}
	return entities, nil
}

// insertNew runs the dedup pass and inserts only unseen rows. Returns the
// insert count and the oldest timestamp in the batch.
func (b *Backfiller) insertNew(ctx context.Context, entities []database.MinuteCandle) (int, time.Time, error) {
	times := make([]time.Time, len(entities))
	oldest := entities[0].Time
	for i, e := range entities {
		times[i] = e.Time
		if e.Time.Before(oldest) {
			oldest = e.Time
		}
	}

	existing, err := b.store.ExistingTimestamps(ctx, b.market, times)
	if err != nil {
		return 0, oldest, err
	}

	fresh := make([]database.MinuteCandle, 0, len(entities))
	oldestSaved := time.Time{}
	for _, e := range entities {
		if existing[e.Time.Unix()] {
			continue
		}
		fresh = append(fresh, e)
		if oldestSaved.IsZero() || e.Time.Before(oldestSaved) {
			oldestSaved = e.Time
		}
	}

	inserted, err := b.store.InsertMinuteCandles(ctx, fresh)
	if err != nil {
		return 0, oldest, err
	}

	if inserted > 0 {
		return inserted, oldestSaved, nil
	}
	return 0, oldest, nil
}

// FillForSignals backfills enough history to simulate every loaded CUSUM
// signal. Only the historical direction is supported; a signal range ending
// in the future is clamped with a warning.
func (b *Backfiller) FillForSignals(ctx context.Context, store *signal.CusumStore) (*Result, error) {
	first, last, ok := store.DateRange()
	if !ok {
		return nil, fmt.Errorf("no cusum signals loaded")
	}

	now := time.Now().In(database.KST)
	if last.After(now) {
		b.log.Warn("signal range extends into the future, clamping to now",
			"last_signal", last.Format(time.RFC3339))
		last = now
	}

	// One extra day on each side so entries and expirations resolve.
	return b.Run(ctx, first.AddDate(0, 0, -1), last.AddDate(0, 0, 1))
}
