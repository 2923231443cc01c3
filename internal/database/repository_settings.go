package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TradingSettings is the persisted override of the trading safety limits.
// When no row exists the process falls back to its config file.
type TradingSettings struct {
	AllowedMarket  string  `json:"allowed_market"`
	MinOrderAmount float64 `json:"min_order_amount"`
	MaxOrderAmount float64 `json:"max_order_amount"`
	MaxDailyTrades int     `json:"max_daily_trades"`
}

// LoadTradingSettings returns the latest persisted settings row, or
// ErrNotFound when none has been saved.
func (r *Repository) LoadTradingSettings(ctx context.Context) (*TradingSettings, error) {
	query := `
		SELECT allowed_market, min_order_amount, max_order_amount, max_daily_trades
		FROM trading_settings
		ORDER BY updated_at DESC
		LIMIT 1
	`

	var s TradingSettings
	err := r.db.Pool.QueryRow(ctx, query).Scan(
		&s.AllowedMarket, &s.MinOrderAmount, &s.MaxOrderAmount, &s.MaxDailyTrades)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trading settings: %w", err)
	}
	return &s, nil
}

// SaveTradingSettings persists a new settings row.
func (r *Repository) SaveTradingSettings(ctx context.Context, s *TradingSettings) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO trading_settings (allowed_market, min_order_amount, max_order_amount, max_daily_trades)
		 VALUES ($1, $2, $3, $4)`,
		s.AllowedMarket, s.MinOrderAmount, s.MaxOrderAmount, s.MaxDailyTrades)
	if err != nil {
		return fmt.Errorf("failed to save trading settings: %w", err)
	}
	return nil
}
