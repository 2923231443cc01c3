package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"upbit-trading-bot/config"
	"upbit-trading-bot/internal/backtest"
	"upbit-trading-bot/internal/database"
	"upbit-trading-bot/internal/ingest"
	"upbit-trading-bot/internal/jobs"
	"upbit-trading-bot/internal/logging"
	"upbit-trading-bot/internal/signal"
	"upbit-trading-bot/internal/trading"
	"upbit-trading-bot/internal/upbit"
)

// Server is the HTTP surface over the engine.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	cfg         *config.Config
	db          *database.DB
	repo        *database.Repository
	cusumStore  *signal.CusumStore
	predLoader  *signal.PredictionLoader
	tpsl        *backtest.TPSLBacktester
	cusumBT     *backtest.CusumBacktester
	ruleBT      *backtest.RuleBasedBacktester
	sequential  *backtest.SequentialBacktester
	runner      *jobs.Runner
	trading     *trading.Service
	backfiller  *ingest.Backfiller
	dayFiller   *ingest.DayBackfiller
	upbitClient *upbit.Client
	tickerCache *database.TickerCache

	log *logging.Logger
}

// Deps bundles everything the server serves.
type Deps struct {
	Config      *config.Config
	DB          *database.DB
	Repo        *database.Repository
	CusumStore  *signal.CusumStore
	PredLoader  *signal.PredictionLoader
	TPSL        *backtest.TPSLBacktester
	CusumBT     *backtest.CusumBacktester
	RuleBT      *backtest.RuleBasedBacktester
	Sequential  *backtest.SequentialBacktester
	Runner      *jobs.Runner
	Trading     *trading.Service
	Backfiller  *ingest.Backfiller
	DayFiller   *ingest.DayBackfiller
	UpbitClient *upbit.Client
	TickerCache *database.TickerCache
}

// NewServer wires the router.
func NewServer(deps Deps) *Server {
	if deps.Config.ServerConfig.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		cfg:         deps.Config,
		db:          deps.DB,
		repo:        deps.Repo,
		cusumStore:  deps.CusumStore,
		predLoader:  deps.PredLoader,
		tpsl:        deps.TPSL,
		cusumBT:     deps.CusumBT,
		ruleBT:      deps.RuleBT,
		sequential:  deps.Sequential,
		runner:      deps.Runner,
		trading:     deps.Trading,
		backfiller:  deps.Backfiller,
		dayFiller:   deps.DayFiller,
		upbitClient: deps.UpbitClient,
		tickerCache: deps.TickerCache,
		log:         logging.WithComponent("api"),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	bt := s.router.Group("/api/backtest")
	{
		bt.POST("/tp-sl/run", s.handleTPSLRun)
		bt.POST("/tp-sl/run-batch", s.handleTPSLRunBatch)
		bt.POST("/tp-sl/run-batch-async", s.handleTPSLRunBatchAsync)
		bt.GET("/tp-sl/job/:jobId", s.handleJobStatus)
		bt.GET("/tp-sl/job/:jobId/results", s.handleJobResults)

		bt.GET("/run", s.handleClassicRun)
		bt.GET("/run-sequential", s.handleSequentialRun)

		bt.GET("/cusum/run", s.handleCusumRun)
		bt.GET("/cusum/signals/summary", s.handleCusumSummary)

		bt.GET("/rule-based/run", s.handleRuleBasedRun)
	}

	v1 := s.router.Group("/api/v1")
	{
		tr := v1.Group("/trading")
		{
			tr.POST("/orders/buy", s.handleBuy)
			tr.POST("/orders/sell", s.handleSell)
			tr.GET("/orders/local", s.handleLocalOrders)
			tr.POST("/orders/sync-all", s.handleSyncAll)
		}

		acct := v1.Group("/account")
		{
			acct.GET("/balance", s.handleBalance)
			acct.GET("/balance/summary", s.handleBalanceSummary)
			acct.GET("/balance/:currency", s.handleBalanceCurrency)
		}

		mkt := v1.Group("/market")
		{
			mkt.GET("/ticker", s.handleTicker)
			mkt.GET("/ticker/:market", s.handleTickerMarket)
			mkt.GET("/tickers", s.handleTickers)
		}

		data := v1.Group("/data")
		{
			data.POST("/init-ohlcv-all", s.handleInitDayCandles)
			data.POST("/init-multi-model-predictions-all", s.handleInitPredictions)
			data.POST("/init-minute-candles", s.handleInitMinuteCandles)
			data.POST("/init-minute-candles-for-signals", s.handleInitMinuteCandlesForSignals)
			data.GET("/ohlcv/status", s.handleDayCandleStatus)
			data.GET("/predictions/status", s.handlePredictionStatus)
			data.GET("/minute-candles/status", s.handleMinuteCandleStatus)
		}
	}
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.ServerConfig.Host, s.cfg.ServerConfig.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ServerConfig.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.ServerConfig.WriteTimeout) * time.Second,
	}

	s.log.Info("http server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.db.HealthCheck(c.Request.Context()); err != nil {
		errorResponse(c, http.StatusInternalServerError, "database unreachable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// errorResponse emits the error envelope consumers rely on.
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"status":  "error",
		"message": message,
	})
}

// respondError maps domain errors onto HTTP statuses.
func (s *Server) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, backtest.ErrValidation),
		errors.Is(err, trading.ErrValidation),
		errors.Is(err, trading.ErrInsufficientBalance):
		errorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrNotFound),
		errors.Is(err, database.ErrNoCandle):
		errorResponse(c, http.StatusNotFound, err.Error())
	default:
		s.log.Error("request failed", "path", c.FullPath(), "error", err)
		errorResponse(c, http.StatusInternalServerError, err.Error())
	}
}
