package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"upbit-trading-bot/config"
	"upbit-trading-bot/internal/api"
	"upbit-trading-bot/internal/backtest"
	"upbit-trading-bot/internal/database"
	"upbit-trading-bot/internal/ingest"
	"upbit-trading-bot/internal/jobs"
	"upbit-trading-bot/internal/logging"
	sig "upbit-trading-bot/internal/signal"
	"upbit-trading-bot/internal/trading"
	"upbit-trading-bot/internal/upbit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal("failed to load config", "error", err)
	}

	logging.SetDefault(logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		Component:   "app",
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
	}))
	log := logging.Default()

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.RunMigrations(ctx); err != nil {
		log.Fatal("failed to run migrations", "error", err)
	}

	repo := database.NewRepository(db)

	// Persisted trading settings override the config file when present.
	if settings, err := repo.LoadTradingSettings(ctx); err == nil {
		cfg.TradingConfig.Market = settings.AllowedMarket
		cfg.TradingConfig.MinOrderAmount = settings.MinOrderAmount
		cfg.TradingConfig.MaxOrderAmount = settings.MaxOrderAmount
		cfg.TradingConfig.MaxDailyTrades = settings.MaxDailyTrades
	}

	var redisClient *redis.Client
	if cfg.RedisConfig.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		})
		defer redisClient.Close()
	}
	tickerCache := database.NewTickerCache(redisClient)

	upbitClient := upbit.NewClient(
		cfg.UpbitConfig.AccessKey,
		cfg.UpbitConfig.SecretKey,
		cfg.UpbitConfig.BaseURL,
		cfg.UpbitConfig.RequestTimeout,
	)

	market := cfg.TradingConfig.Market

	// Signal caches
	cusumStore := sig.NewCusumStore()
	if _, err := cusumStore.Load(cfg.DataConfig.CusumCSVPath); err != nil {
		log.Warn("cusum signals not loaded", "path", cfg.DataConfig.CusumCSVPath, "error", err)
	}
	predLoader := sig.NewPredictionLoader(repo)

	// Backtest engine
	candleSource := backtest.RepoCandleSource{Repo: repo}
	simulator := backtest.NewSimulator(candleSource, market, cfg.BacktestConfig.FeeRate)
	tpsl := backtest.NewTPSLBacktester(repo, simulator, cfg.BacktestConfig.DefaultHoldingDays)
	cusumBT := backtest.NewCusumBacktester(cusumStore, simulator)
	ruleBT := backtest.NewRuleBasedBacktester(candleSource, market, cfg.BacktestConfig.FeeRate)
	buyHold := backtest.NewBuyHoldBacktester(candleSource, market, cfg.BacktestConfig.FeeRate)
	sequential := backtest.NewSequentialBacktester(tpsl, buyHold)

	runner := jobs.NewRunner(repo, tpsl, 2)

	// Ingestion
	backfiller := ingest.NewBackfiller(upbitClient, repo, market)
	dayFiller := ingest.NewDayBackfiller(upbitClient, repo, market)

	accountID, err := repo.EnsureDefaultAccount(ctx, "default")
	if err != nil {
		log.Fatal("failed to ensure default account", "error", err)
	}
	tradingService := trading.NewService(upbitClient, repo, cfg.TradingConfig, accountID)

	server := api.NewServer(api.Deps{
		Config:      cfg,
		DB:          db,
		Repo:        repo,
		CusumStore:  cusumStore,
		PredLoader:  predLoader,
		TPSL:        tpsl,
		CusumBT:     cusumBT,
		RuleBT:      ruleBT,
		Sequential:  sequential,
		Runner:      runner,
		Trading:     tradingService,
		Backfiller:  backfiller,
		DayFiller:   dayFiller,
		UpbitClient: upbitClient,
		TickerCache: tickerCache,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal("http server failed", "error", err)
		}
	case s := <-quit:
		log.Info("shutting down", "signal", s.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx,
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "error", err)
	}
}
