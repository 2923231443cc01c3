// Package trading is the live-trading path: market buy/sell against the
// exchange behind a safety-check ladder, persisted as local orders.
package trading

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"upbit-trading-bot/config"
	"upbit-trading-bot/internal/database"
	"upbit-trading-bot/internal/upbit"
)

// Errors the API layer maps to HTTP statuses.
var (
	ErrValidation          = errors.New("order validation failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Order sides and types as the exchange names them.
const (
	SideBid = "bid" // buy
	SideAsk = "ask" // sell

	OrdTypePrice  = "price"  // market buy, quote-denominated
	OrdTypeMarket = "market" // market sell, base-denominated
)

// ExchangeAPI is the client capability the service needs.
type ExchangeAPI interface {
	FetchAccounts(ctx context.Context) ([]upbit.Balance, error)
	PlaceOrder(ctx context.Context, market, side, ordType string, price, volume decimal.Decimal) (*upbit.OrderResponse, error)
	FetchOrder(ctx context.Context, orderUUID string) (*upbit.OrderResponse, error)
}

// OrderStore is the persistence capability the service needs.
type OrderStore interface {
	InsertOrder(ctx context.Context, o *database.TradeOrder) (int64, error)
	UpdateOrderStatus(ctx context.Context, orderUUID, status string) error
	FindOrderByUUID(ctx context.Context, orderUUID string) (*database.TradeOrder, error)
	FindOrders(ctx context.Context, status string, limit int) ([]database.TradeOrder, error)
	CountOrdersSince(ctx context.Context, t time.Time) (int, error)
}

// Service serialises live order placement: one request places at most one
// exchange order and one local insert before returning.
type Service struct {
	client    ExchangeAPI
	store     OrderStore
	cfg       config.TradingConfig
	accountID int64
	logger    zerolog.Logger
}

// NewService creates the live-trading service bound to the default account.
func NewService(client ExchangeAPI, store OrderStore, cfg config.TradingConfig, accountID int64) *Service {
	return &Service{
		client:    client,
		store:     store,
		cfg:       cfg,
		accountID: accountID,
		logger:    zerolog.New(os.Stdout).With().Timestamp().Str("component", "trading").Logger(),
	}
}

// Buy places a market buy for the given KRW amount.
func (s *Service) Buy(ctx context.Context, market string, amount decimal.Decimal) (*database.TradeOrder, error) {
	if err := s.validateOrder(ctx, market, amount); err != nil {
		return nil, err
	}

	if err := s.checkBalance(ctx, "KRW", amount); err != nil {
		return nil, err
	}

	resp, err := s.client.PlaceOrder(ctx, market, SideBid, OrdTypePrice, amount, decimal.Zero)
	if err != nil {
		return nil, fmt.Errorf("exchange rejected buy order: %w", err)
	}

	order := &database.TradeOrder{
		AccountID: s.accountID,
		OrderUUID: resp.UUID,
		Market:    market,
		Side:      SideBid,
		OrdType:   OrdTypePrice,
		Price:     amount,
		Status:    mapState(resp.State),
	}
	if order.ID, err = s.store.InsertOrder(ctx, order); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("uuid", resp.UUID).
		Str("market", market).
		Str("amount", amount.String()).
		Msg("market buy placed")

	return order, nil
}

// Sell places a market sell for the given base-asset volume.
func (s *Service) Sell(ctx context.Context, market string, volume decimal.Decimal) (*database.TradeOrder, error) {
	if !volume.IsPositive() {
		return nil, fmt.Errorf("%w: volume must be positive", ErrValidation)
	}
	if market != s.cfg.Market {
		return nil, fmt.Errorf("%w: market %s is not allowed", ErrValidation, market)
	}
	if err := s.checkDailyCap(ctx); err != nil {
		return nil, err
	}

	if err := s.checkBalance(ctx, baseCurrency(market), volume); err != nil {
		return nil, err
	}

	resp, err := s.client.PlaceOrder(ctx, market, SideAsk, OrdTypeMarket, decimal.Zero, volume)
	if err != nil {
		return nil, fmt.Errorf("exchange rejected sell order: %w", err)
	}

	order := &database.TradeOrder{
		AccountID: s.accountID,
		OrderUUID: resp.UUID,
		Market:    market,
		Side:      SideAsk,
		OrdType:   OrdTypeMarket,
		Amount:    volume,
		Status:    mapState(resp.State),
	}
	if order.ID, err = s.store.InsertOrder(ctx, order); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("uuid", resp.UUID).
		Str("market", market).
		Str("volume", volume.String()).
		Msg("market sell placed")

	return order, nil
}

// validateOrder is the safety-check ladder shared by quote-denominated
// orders: allowed market, amount bounds, daily cap.
func (s *Service) validateOrder(ctx context.Context, market string, amount decimal.Decimal) error {
	if market != s.cfg.Market {
		return fmt.Errorf("%w: market %s is not allowed", ErrValidation, market)
	}
	min := decimal.NewFromFloat(s.cfg.MinOrderAmount)
	max := decimal.NewFromFloat(s.cfg.MaxOrderAmount)
	if amount.LessThan(min) {
		return fmt.Errorf("%w: amount %s below minimum %s", ErrValidation, amount, min)
	}
	if amount.GreaterThan(max) {
		return fmt.Errorf("%w: amount %s above maximum %s", ErrValidation, amount, max)
	}
	return s.checkDailyCap(ctx)
}

func (s *Service) checkDailyCap(ctx context.Context) error {
	now := time.Now().In(database.KST)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, database.KST)
	count, err := s.store.CountOrdersSince(ctx, midnight)
	if err != nil {
		return err
	}
	if count >= s.cfg.MaxDailyTrades {
		return fmt.Errorf("%w: daily trade limit of %d reached", ErrValidation, s.cfg.MaxDailyTrades)
	}
	return nil
}

func (s *Service) checkBalance(ctx context.Context, currency string, needed decimal.Decimal) error {
	balances, err := s.client.FetchAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch balances: %w", err)
	}
	for _, b := range balances {
		if b.Currency == currency {
			if b.Balance.LessThan(needed) {
				return fmt.Errorf("%w: %s balance %s below %s",
					ErrInsufficientBalance, currency, b.Balance, needed)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: no %s balance", ErrInsufficientBalance, currency)
}

// LocalOrders lists locally persisted orders, optionally filtered by status.
func (s *Service) LocalOrders(ctx context.Context, status string) ([]database.TradeOrder, error) {
	return s.store.FindOrders(ctx, status, 100)
}

// SyncAll refreshes the status of every PENDING local order from the
// exchange. Returns how many rows advanced.
func (s *Service) SyncAll(ctx context.Context) (int, error) {
	pending, err := s.store.FindOrders(ctx, database.OrderStatusPending, 100)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, order := range pending {
		resp, err := s.client.FetchOrder(ctx, order.OrderUUID)
		if err != nil {
			s.logger.Warn().
				Str("uuid", order.OrderUUID).
				Err(err).
				Msg("failed to sync order")
			continue
		}

		status := mapState(resp.State)
		if status == order.Status {
			continue
		}
		if err := s.store.UpdateOrderStatus(ctx, order.OrderUUID, status); err != nil {
			return updated, err
		}
		updated++
	}

	return updated, nil
}

// mapState converts exchange order states to local statuses.
func mapState(state string) string {
	switch state {
	case "done":
		return database.OrderStatusFilled
	case "cancel":
		return database.OrderStatusCanceled
	default:
		return database.OrderStatusPending
	}
}

func baseCurrency(market string) string {
	if i := strings.Index(market, "-"); i >= 0 {
		return market[i+1:]
	}
	return market
}
