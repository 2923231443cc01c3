package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerConfig   ServerConfig   `json:"server"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	UpbitConfig    UpbitConfig    `json:"upbit"`
	TradingConfig  TradingConfig  `json:"trading"`
	BacktestConfig BacktestConfig `json:"backtest"`
	DataConfig     DataConfig     `json:"data"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

type ServerConfig struct {
	Port            int  `json:"port"`
	Host            string `json:"host"`
	ProductionMode  bool `json:"production_mode"`
	ReadTimeout     int  `json:"read_timeout"`     // seconds
	WriteTimeout    int  `json:"write_timeout"`    // seconds
	ShutdownTimeout int  `json:"shutdown_timeout"` // seconds
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for the ticker snapshot cache
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type UpbitConfig struct {
	AccessKey      string        `json:"access_key"`
	SecretKey      string        `json:"secret_key"`
	BaseURL        string        `json:"base_url"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

type TradingConfig struct {
	Market         string  `json:"market"`           // fixed KRW-ETH
	MinOrderAmount float64 `json:"min_order_amount"` // KRW
	MaxOrderAmount float64 `json:"max_order_amount"` // KRW
	MaxDailyTrades int     `json:"max_daily_trades"`
}

type BacktestConfig struct {
	FeeRate            float64 `json:"fee_rate"`             // per side, e.g. 0.0005
	DefaultHoldingDays int     `json:"default_holding_days"` // TP/SL timeout window
	InitialCapital     float64 `json:"initial_capital"`
}

type DataConfig struct {
	PredictionCSVDir string `json:"prediction_csv_dir"`
	CusumCSVPath     string `json:"cusum_csv_path"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

func Load() (*Config, error) {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 8080)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("PRODUCTION_MODE", "false") == "true"
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", 30)
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", 300)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10)

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", defaultString(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", defaultString(cfg.DatabaseConfig.User, "postgres"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", defaultString(cfg.DatabaseConfig.Database, "upbit_bot"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", defaultString(cfg.DatabaseConfig.SSLMode, "disable"))

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", defaultInt(cfg.RedisConfig.PoolSize, 10))

	// Upbit config
	cfg.UpbitConfig.AccessKey = getEnvOrDefault("UPBIT_ACCESS_KEY", cfg.UpbitConfig.AccessKey)
	cfg.UpbitConfig.SecretKey = getEnvOrDefault("UPBIT_SECRET_KEY", cfg.UpbitConfig.SecretKey)
	cfg.UpbitConfig.BaseURL = getEnvOrDefault("UPBIT_BASE_URL", defaultString(cfg.UpbitConfig.BaseURL, "https://api.upbit.com"))
	cfg.UpbitConfig.RequestTimeout = getEnvDurationOrDefault("UPBIT_REQUEST_TIMEOUT", 10*time.Second)

	// Trading config
	cfg.TradingConfig.Market = getEnvOrDefault("TRADING_MARKET", defaultString(cfg.TradingConfig.Market, "KRW-ETH"))
	cfg.TradingConfig.MinOrderAmount = getEnvFloatOrDefault("TRADING_MIN_ORDER_AMOUNT", defaultFloat(cfg.TradingConfig.MinOrderAmount, 5000))
	cfg.TradingConfig.MaxOrderAmount = getEnvFloatOrDefault("TRADING_MAX_ORDER_AMOUNT", defaultFloat(cfg.TradingConfig.MaxOrderAmount, 10000000))
	cfg.TradingConfig.MaxDailyTrades = getEnvIntOrDefault("TRADING_MAX_DAILY_TRADES", defaultInt(cfg.TradingConfig.MaxDailyTrades, 10))

	// Backtest config
	cfg.BacktestConfig.FeeRate = getEnvFloatOrDefault("BACKTEST_FEE_RATE", defaultFloat(cfg.BacktestConfig.FeeRate, 0.0005))
	cfg.BacktestConfig.DefaultHoldingDays = getEnvIntOrDefault("BACKTEST_HOLDING_DAYS", defaultInt(cfg.BacktestConfig.DefaultHoldingDays, 8))
	cfg.BacktestConfig.InitialCapital = getEnvFloatOrDefault("BACKTEST_INITIAL_CAPITAL", defaultFloat(cfg.BacktestConfig.InitialCapital, 10000000))

	// Data config
	cfg.DataConfig.PredictionCSVDir = getEnvOrDefault("DATA_PREDICTION_CSV_DIR", defaultString(cfg.DataConfig.PredictionCSVDir, "data/predictions"))
	cfg.DataConfig.CusumCSVPath = getEnvOrDefault("DATA_CUSUM_CSV_PATH", defaultString(cfg.DataConfig.CusumCSVPath, "data/cusum_signals.csv"))

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"
}

// Validate checks config invariants that would otherwise surface as confusing
// runtime failures deep inside the engine.
func (c *Config) Validate() error {
	if c.TradingConfig.Market == "" {
		return fmt.Errorf("trading market must not be empty")
	}
	if c.TradingConfig.MinOrderAmount <= 0 {
		return fmt.Errorf("min order amount must be positive, got %f", c.TradingConfig.MinOrderAmount)
	}
	if c.TradingConfig.MaxOrderAmount < c.TradingConfig.MinOrderAmount {
		return fmt.Errorf("max order amount %f below min order amount %f",
			c.TradingConfig.MaxOrderAmount, c.TradingConfig.MinOrderAmount)
	}
	if c.BacktestConfig.FeeRate < 0 || c.BacktestConfig.FeeRate >= 1 {
		return fmt.Errorf("fee rate out of range: %f", c.BacktestConfig.FeeRate)
	}
	if c.BacktestConfig.DefaultHoldingDays <= 0 {
		return fmt.Errorf("holding days must be positive, got %d", c.BacktestConfig.DefaultHoldingDays)
	}
	return nil
}

func loadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", filename, err)
	}

	return &cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func defaultString(current, fallback string) string {
	if current != "" {
		return current
	}
	return fallback
}

func defaultInt(current, fallback int) int {
	if current != 0 {
		return current
	}
	return fallback
}

func defaultFloat(current, fallback float64) float64 {
	if current != 0 {
		return current
	}
	return fallback
}
