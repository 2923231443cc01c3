package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository provides data access for all persisted entities
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

const minuteCandleColumns = `id, market, candle_time, open, high, low, close, volume`

func scanMinuteCandle(row pgx.Row, c *MinuteCandle) error {
	return row.Scan(&c.ID, &c.Market, &c.Time, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume)
}

// FindFirstAtOrAfter returns the first minute candle with timestamp >= t.
// Returns ErrNoCandle when the store has nothing at or after t.
func (r *Repository) FindFirstAtOrAfter(ctx context.Context, market string, t time.Time) (*MinuteCandle, error) {
	query := `
		SELECT ` + minuteCandleColumns + `
		FROM historical_minute_ohlcv
		WHERE market = $1 AND candle_time >= $2
		ORDER BY candle_time ASC
		LIMIT 1
	`

	var c MinuteCandle
	err := scanMinuteCandle(r.db.Pool.QueryRow(ctx, query, market, t), &c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoCandle
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query first candle at or after %s: %w", t, err)
	}
	return &c, nil
}

// FindLastBefore returns the latest minute candle with timestamp < t.
func (r *Repository) FindLastBefore(ctx context.Context, market string, t time.Time) (*MinuteCandle, error) {
	query := `
		SELECT ` + minuteCandleColumns + `
		FROM historical_minute_ohlcv
		WHERE market = $1 AND candle_time < $2
		ORDER BY candle_time DESC
		LIMIT 1
	`

	var c MinuteCandle
	err := scanMinuteCandle(r.db.Pool.QueryRow(ctx, query, market, t), &c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoCandle
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last candle before %s: %w", t, err)
	}
	return &c, nil
}

// FindRange returns minute candles in [start, end), ascending.
func (r *Repository) FindRange(ctx context.Context, market string, start, end time.Time) ([]MinuteCandle, error) {
	query := `
		SELECT ` + minuteCandleColumns + `
		FROM historical_minute_ohlcv
		WHERE market = $1 AND candle_time >= $2 AND candle_time < $3
		ORDER BY candle_time ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, market, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query candle range: %w", err)
	}
	defer rows.Close()

	candles := []MinuteCandle{}
	for rows.Next() {
		var c MinuteCandle
		if err := scanMinuteCandle(rows, &c); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}

	return candles, nil
}

// CandleStream is a forward-only, single-pass iterator over minute candles.
// The backing rows object streams from the server; the caller must Close the
// stream (Close is idempotent and safe after normal completion).
type CandleStream struct {
	rows    pgx.Rows
	current MinuteCandle
	err     error
}

// Next advances the stream. Returns false at end of range or on error.
func (s *CandleStream) Next() bool {
	if s.err != nil {
		return false
	}
	if !s.rows.Next() {
		s.err = s.rows.Err()
		s.rows.Close()
		return false
	}
	if err := scanMinuteCandle(s.rows, &s.current); err != nil {
		s.err = fmt.Errorf("failed to scan streamed candle: %w", err)
		s.rows.Close()
		return false
	}
	return true
}

// Candle returns the row the last successful Next positioned on.
func (s *CandleStream) Candle() MinuteCandle { return s.current }

// Err returns the first error encountered while streaming.
func (s *CandleStream) Err() error { return s.err }

// Close releases the underlying cursor. Safe to call on any exit path.
func (s *CandleStream) Close() { s.rows.Close() }

// StreamRange streams minute candles in [start, end) ascending without
// loading the whole range into memory.
func (r *Repository) StreamRange(ctx context.Context, market string, start, end time.Time) (*CandleStream, error) {
	query := `
		SELECT ` + minuteCandleColumns + `
		FROM historical_minute_ohlcv
		WHERE market = $1 AND candle_time >= $2 AND candle_time < $3
		ORDER BY candle_time ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, market, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to open candle stream: %w", err)
	}

	return &CandleStream{rows: rows}, nil
}

// InsertMinuteCandles inserts the given candles, skipping (market, time)
// conflicts. Returns the number of rows actually inserted.
func (r *Repository) InsertMinuteCandles(ctx context.Context, candles []MinuteCandle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO historical_minute_ohlcv (market, candle_time, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (market, candle_time) DO NOTHING
	`

	inserted := 0
	for _, c := range candles {
		tag, err := tx.Exec(ctx, query, c.Market, c.Time, c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return 0, fmt.Errorf("failed to insert minute candle %s: %w", c.Time, err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit candle insert: %w", err)
	}

	return inserted, nil
}

// ExistingTimestamps reports which of the given candle times already exist
// for the market. Backs the ingestion dedup pass.
func (r *Repository) ExistingTimestamps(ctx context.Context, market string, times []time.Time) (map[int64]bool, error) {
	existing := make(map[int64]bool)
	if len(times) == 0 {
		return existing, nil
	}

	query := `
		SELECT candle_time FROM historical_minute_ohlcv
		WHERE market = $1 AND candle_time = ANY($2)
	`

	rows, err := r.db.Pool.Query(ctx, query, market, times)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing timestamps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan timestamp: %w", err)
		}
		existing[t.Unix()] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating timestamps: %w", err)
	}

	return existing, nil
}

// OldestMinuteCandleTime returns the earliest stored candle time for the
// market, or ErrNoCandle when the store is empty. The ingestion pipeline
// resumes backward from here.
func (r *Repository) OldestMinuteCandleTime(ctx context.Context, market string) (time.Time, error) {
	query := `SELECT MIN(candle_time) FROM historical_minute_ohlcv WHERE market = $1`

	var t *time.Time
	if err := r.db.Pool.QueryRow(ctx, query, market).Scan(&t); err != nil {
		return time.Time{}, fmt.Errorf("failed to query oldest candle time: %w", err)
	}
	if t == nil {
		return time.Time{}, ErrNoCandle
	}
	return *t, nil
}

// CountMinuteCandles returns the number of stored minute candles for a market.
func (r *Repository) CountMinuteCandles(ctx context.Context, market string) (int64, error) {
	var n int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM historical_minute_ohlcv WHERE market = $1`, market).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count minute candles: %w", err)
	}
	return n, nil
}

const dayCandleColumns = `id, market, candle_date, open, high, low, close, volume`

// FindDayByDate returns the daily candle for the given date.
func (r *Repository) FindDayByDate(ctx context.Context, market string, date time.Time) (*DayCandle, error) {
	query := `
		SELECT ` + dayCandleColumns + `
		FROM historical_ohlcv
		WHERE market = $1 AND candle_date = $2
	`

	var c DayCandle
	err := r.db.Pool.QueryRow(ctx, query, market, date).
		Scan(&c.ID, &c.Market, &c.Date, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoCandle
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query day candle: %w", err)
	}
	return &c, nil
}

// FindDayRange returns daily candles in [start, end], ascending.
func (r *Repository) FindDayRange(ctx context.Context, market string, start, end time.Time) ([]DayCandle, error) {
	query := `
		SELECT ` + dayCandleColumns + `
		FROM historical_ohlcv
		WHERE market = $1 AND candle_date >= $2 AND candle_date <= $3
		ORDER BY candle_date ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, market, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query day candle range: %w", err)
	}
	defer rows.Close()

	candles := []DayCandle{}
	for rows.Next() {
		var c DayCandle
		if err := rows.Scan(&c.ID, &c.Market, &c.Date, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan day candle: %w", err)
		}
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating day candles: %w", err)
	}

	return candles, nil
}

// InsertDayCandles inserts daily candles, skipping (market, date) conflicts.
func (r *Repository) InsertDayCandles(ctx context.Context, candles []DayCandle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO historical_ohlcv (market, candle_date, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (market, candle_date) DO NOTHING
	`

	inserted := 0
	for _, c := range candles {
		tag, err := tx.Exec(ctx, query, c.Market, c.Date, c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return 0, fmt.Errorf("failed to insert day candle %s: %w", c.Date, err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit day candle insert: %w", err)
	}

	return inserted, nil
}

// CountDayCandles returns the number of stored daily candles for a market.
func (r *Repository) CountDayCandles(ctx context.Context, market string) (int64, error) {
	var n int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM historical_ohlcv WHERE market = $1`, market).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count day candles: %w", err)
	}
	return n, nil
}
