package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type orderRequest struct {
	Market string          `json:"market" binding:"required"`
	Amount decimal.Decimal `json:"amount"` // KRW for buys
	Volume decimal.Decimal `json:"volume"` // base asset for sells
}

// handleBuy places a market buy for a KRW amount.
// POST /api/v1/trading/orders/buy
func (s *Server) handleBuy(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	order, err := s.trading.Buy(c.Request.Context(), req.Market, req.Amount)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// handleSell places a market sell for a base-asset volume.
// POST /api/v1/trading/orders/sell
func (s *Server) handleSell(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	order, err := s.trading.Sell(c.Request.Context(), req.Market, req.Volume)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// handleLocalOrders lists locally persisted orders.
// GET /api/v1/trading/orders/local?status=
func (s *Server) handleLocalOrders(c *gin.Context) {
	orders, err := s.trading.LocalOrders(c.Request.Context(), c.Query("status"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// handleSyncAll refreshes pending orders from the exchange.
// POST /api/v1/trading/orders/sync-all
func (s *Server) handleSyncAll(c *gin.Context) {
	updated, err := s.trading.SyncAll(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}
