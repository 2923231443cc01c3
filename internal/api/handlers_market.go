package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"upbit-trading-bot/internal/upbit"
)

// handleBalance lists every currency balance.
// GET /api/v1/account/balance
func (s *Server) handleBalance(c *gin.Context) {
	balances, err := s.upbitClient.FetchAccounts(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": balances})
}

// handleBalanceSummary reports the KRW value of all holdings at current
// prices.
// GET /api/v1/account/balance/summary
func (s *Server) handleBalanceSummary(c *gin.Context) {
	ctx := c.Request.Context()

	balances, err := s.upbitClient.FetchAccounts(ctx)
	if err != nil {
		s.respondError(c, err)
		return
	}

	totalKRW := decimal.Zero
	for _, b := range balances {
		if b.Currency == "KRW" {
			totalKRW = totalKRW.Add(b.Balance).Add(b.Locked)
			continue
		}

		tickers, err := s.fetchTickerCached(c, "KRW-"+b.Currency)
		if err != nil || len(tickers) == 0 {
			continue
		}
		price := decimal.NewFromFloat(tickers[0].TradePrice)
		totalKRW = totalKRW.Add(b.Balance.Add(b.Locked).Mul(price))
	}

	c.JSON(http.StatusOK, gin.H{
		"total_krw": totalKRW.Round(2),
		"balances":  balances,
	})
}

// handleBalanceCurrency returns one currency's balance.
// GET /api/v1/account/balance/:currency
func (s *Server) handleBalanceCurrency(c *gin.Context) {
	currency := strings.ToUpper(c.Param("currency"))

	balances, err := s.upbitClient.FetchAccounts(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}

	for _, b := range balances {
		if b.Currency == currency {
			c.JSON(http.StatusOK, b)
			return
		}
	}
	errorResponse(c, http.StatusNotFound, "no balance for currency "+currency)
}

// handleTicker returns the configured market's snapshot.
// GET /api/v1/market/ticker
func (s *Server) handleTicker(c *gin.Context) {
	s.serveTicker(c, s.cfg.TradingConfig.Market)
}

// handleTickerMarket returns one market's snapshot.
// GET /api/v1/market/ticker/:market
func (s *Server) handleTickerMarket(c *gin.Context) {
	s.serveTicker(c, strings.ToUpper(c.Param("market")))
}

// handleTickers returns snapshots for a comma-separated market list.
// GET /api/v1/market/tickers?markets=KRW-ETH,KRW-BTC
func (s *Server) handleTickers(c *gin.Context) {
	markets := strings.Split(c.Query("markets"), ",")
	cleaned := markets[:0]
	for _, m := range markets {
		if m = strings.TrimSpace(strings.ToUpper(m)); m != "" {
			cleaned = append(cleaned, m)
		}
	}
	if len(cleaned) == 0 {
		errorResponse(c, http.StatusBadRequest, "markets query parameter is required")
		return
	}

	tickers, err := s.upbitClient.FetchTicker(c.Request.Context(), cleaned...)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickers": tickers})
}

func (s *Server) serveTicker(c *gin.Context, market string) {
	tickers, err := s.fetchTickerCached(c, market)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if len(tickers) == 0 {
		errorResponse(c, http.StatusNotFound, "no ticker for market "+market)
		return
	}
	c.JSON(http.StatusOK, tickers[0])
}

// fetchTickerCached serves the short-TTL cached snapshot when available.
func (s *Server) fetchTickerCached(c *gin.Context, market string) ([]upbit.Ticker, error) {
	ctx := c.Request.Context()

	var cached []upbit.Ticker
	if s.tickerCache.Get(ctx, market, &cached) && len(cached) > 0 {
		return cached, nil
	}

	tickers, err := s.upbitClient.FetchTicker(ctx, market)
	if err != nil {
		return nil, err
	}
	_ = s.tickerCache.Put(ctx, market, tickers)
	return tickers, nil
}
