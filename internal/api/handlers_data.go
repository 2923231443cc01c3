package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"upbit-trading-bot/internal/database"
)

// handleInitDayCandles backfills the daily candle table from the exchange.
// POST /api/v1/data/init-ohlcv-all
func (s *Server) handleInitDayCandles(c *gin.Context) {
	inserted, err := s.dayFiller.Run(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"inserted": inserted})
}

// handleInitPredictions loads every prediction CSV from the configured
// directory.
// POST /api/v1/data/init-multi-model-predictions-all
func (s *Server) handleInitPredictions(c *gin.Context) {
	inserted, err := s.predLoader.LoadDir(c.Request.Context(),
		s.cfg.TradingConfig.Market, s.cfg.DataConfig.PredictionCSVDir)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"inserted": inserted})
}

// handleInitMinuteCandles backfills minute candles over a date range.
// POST /api/v1/data/init-minute-candles?startDate=2024-01-01&endDate=2024-06-30
func (s *Server) handleInitMinuteCandles(c *gin.Context) {
	startDate, err := time.ParseInLocation("2006-01-02", c.Query("startDate"), database.KST)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid startDate (use YYYY-MM-DD)")
		return
	}
	endDate, err := time.ParseInLocation("2006-01-02", c.Query("endDate"), database.KST)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid endDate (use YYYY-MM-DD)")
		return
	}
	if endDate.Before(startDate) {
		errorResponse(c, http.StatusBadRequest, "endDate before startDate")
		return
	}

	result, err := s.backfiller.Run(c.Request.Context(), startDate, endDate)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleInitMinuteCandlesForSignals fills the store to cover the loaded
// CUSUM signal range.
// POST /api/v1/data/init-minute-candles-for-signals
func (s *Server) handleInitMinuteCandlesForSignals(c *gin.Context) {
	result, err := s.backfiller.FillForSignals(c.Request.Context(), s.cusumStore)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleDayCandleStatus reports stored daily candle counts.
// GET /api/v1/data/ohlcv/status
func (s *Server) handleDayCandleStatus(c *gin.Context) {
	count, err := s.repo.CountDayCandles(c.Request.Context(), s.cfg.TradingConfig.Market)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"market": s.cfg.TradingConfig.Market, "count": count})
}

// handlePredictionStatus reports stored prediction counts.
// GET /api/v1/data/predictions/status
func (s *Server) handlePredictionStatus(c *gin.Context) {
	count, err := s.repo.CountPredictions(c.Request.Context(), s.cfg.TradingConfig.Market)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"market": s.cfg.TradingConfig.Market, "count": count})
}

// handleMinuteCandleStatus reports stored minute candle counts and range.
// GET /api/v1/data/minute-candles/status
func (s *Server) handleMinuteCandleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	market := s.cfg.TradingConfig.Market

	count, err := s.repo.CountMinuteCandles(ctx, market)
	if err != nil {
		s.respondError(c, err)
		return
	}

	resp := gin.H{"market": market, "count": count}
	if oldest, err := s.repo.OldestMinuteCandleTime(ctx, market); err == nil {
		resp["oldest"] = oldest
	}
	c.JSON(http.StatusOK, resp)
}
