package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"upbit-trading-bot/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logging.WithComponent("database").Info("connected to PostgreSQL", "database", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		logging.WithComponent("database").Info("database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log := logging.WithComponent("database")
	log.Info("running database migrations")

	migrations := []string{
		// Daily candles
		`CREATE TABLE IF NOT EXISTS historical_ohlcv (
			id BIGSERIAL PRIMARY KEY,
			market VARCHAR(20) NOT NULL,
			candle_date DATE NOT NULL,
			open DECIMAL(24, 8) NOT NULL,
			high DECIMAL(24, 8) NOT NULL,
			low DECIMAL(24, 8) NOT NULL,
			close DECIMAL(24, 8) NOT NULL,
			volume DECIMAL(30, 8) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (market, candle_date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ohlcv_market_date ON historical_ohlcv(market, candle_date)`,

		// Minute candles
		`CREATE TABLE IF NOT EXISTS historical_minute_ohlcv (
			id BIGSERIAL PRIMARY KEY,
			market VARCHAR(20) NOT NULL,
			candle_time TIMESTAMP NOT NULL,
			open DECIMAL(24, 8) NOT NULL,
			high DECIMAL(24, 8) NOT NULL,
			low DECIMAL(24, 8) NOT NULL,
			close DECIMAL(24, 8) NOT NULL,
			volume DECIMAL(30, 8) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (market, candle_time)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_minute_ohlcv_market_time ON historical_minute_ohlcv(market, candle_time)`,

		// Per-fold per-model daily predictions
		`CREATE TABLE IF NOT EXISTS historical_ai_predictions (
			id BIGSERIAL PRIMARY KEY,
			market VARCHAR(20) NOT NULL,
			prediction_date DATE NOT NULL,
			fold_number INT NOT NULL,
			model_name VARCHAR(50) NOT NULL,
			actual_direction VARCHAR(10),
			actual_return DECIMAL(12, 8),
			pred_direction VARCHAR(10) NOT NULL,
			pred_proba_up DECIMAL(10, 8) NOT NULL,
			pred_proba_down DECIMAL(10, 8) NOT NULL,
			max_proba DECIMAL(10, 8) NOT NULL,
			confidence DECIMAL(10, 8) NOT NULL,
			take_profit_price DECIMAL(24, 8) NOT NULL,
			stop_loss_price DECIMAL(24, 8) NOT NULL,
			correct BOOLEAN,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (market, prediction_date, fold_number, model_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_fold_model ON historical_ai_predictions(market, fold_number, model_name, prediction_date)`,

		// Live trading orders
		`CREATE TABLE IF NOT EXISTS account (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(50) NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS trade_order (
			id BIGSERIAL PRIMARY KEY,
			account_id BIGINT REFERENCES account(id),
			order_uuid VARCHAR(64) NOT NULL UNIQUE,
			market VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			ord_type VARCHAR(10) NOT NULL,
			price DECIMAL(24, 8),
			amount DECIMAL(24, 8),
			status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_order_market ON trade_order(market)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_order_status ON trade_order(status)`,

		`CREATE TABLE IF NOT EXISTS trading_settings (
			id BIGSERIAL PRIMARY KEY,
			allowed_market VARCHAR(20) NOT NULL,
			min_order_amount DECIMAL(24, 8) NOT NULL,
			max_order_amount DECIMAL(24, 8) NOT NULL,
			max_daily_trades INT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,

		// Async backtest jobs
		`CREATE TABLE IF NOT EXISTS backtest_jobs (
			job_id VARCHAR(36) PRIMARY KEY,
			status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
			total_tasks INT NOT NULL,
			completed_tasks INT NOT NULL DEFAULT 0,
			failed_tasks INT NOT NULL DEFAULT 0,
			error_message TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_backtest_jobs_status ON backtest_jobs(status)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Info("database migrations completed")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
