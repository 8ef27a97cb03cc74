// Package broker talks to brokerage and market data services.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dyike/SentiTrader/internal/models"
)

// ErrPriceUnavailable is returned when no usable quote exists for a ticker.
var ErrPriceUnavailable = errors.New("broker: price unavailable")

type QuoteService interface {
	LatestPrice(ctx context.Context, ticker string) (float64, error)
}

type OrderRequest struct {
	Ticker        string
	Side          models.Side
	Quantity      int64
	ClientOrderID string
}

func (r OrderRequest) validate() error {
	if r.Quantity <= 0 {
		return fmt.Errorf("order quantity must be positive, got %d", r.Quantity)
	}
	if r.Side != models.SideBuy && r.Side != models.SideSell {
		return fmt.Errorf("order side must be buy or sell, got %q", r.Side)
	}
	if strings.TrimSpace(r.Ticker) == "" {
		return errors.New("order ticker is required")
	}
	return nil
}

type OrderService interface {
	SubmitMarketOrder(ctx context.Context, req OrderRequest) (models.OrderConfirmation, error)
}

type AccountService interface {
	Account(ctx context.Context) (models.Account, error)
}

type PositionService interface {
	Positions(ctx context.Context) ([]models.Position, error)
}

// Broker is everything one brokerage connection offers.
type Broker interface {
	QuoteService
	OrderService
	AccountService
	PositionService
}

// parseNumber reads a numeric value from a string, a decimal or a plain
// number. Anything unparseable is zero.
func parseNumber(v any) float64 {
	if v == nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(fmt.Sprint(v)), 64)
	if err != nil {
		return 0
	}
	return f
}
