package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dyike/SentiTrader/internal/models"
)

// Submitter places one market order per decision and keeps a minimum gap
// between consecutive submissions.
type Submitter struct {
	orders  OrderService
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewSubmitter(orders OrderService, delay time.Duration, logger *zap.Logger) *Submitter {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{
		orders:  orders,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("submitter"),
	}
}

// ClientOrderID is stable for a run and ticker, so resubmitting within a
// run is recognised by the broker.
func ClientOrderID(runID, ticker string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(runID+":"+ticker)).String()
}

func (s *Submitter) Submit(ctx context.Context, runID string, d models.AllocationDecision) (models.OrderConfirmation, error) {
	req := OrderRequest{
		Ticker:        d.Ticker,
		Side:          d.Side,
		Quantity:      d.Quantity,
		ClientOrderID: ClientOrderID(runID, d.Ticker),
	}
	if err := req.validate(); err != nil {
		return models.OrderConfirmation{}, err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return models.OrderConfirmation{}, fmt.Errorf("wait for order slot: %w", err)
	}

	conf, err := s.orders.SubmitMarketOrder(ctx, req)
	if err != nil {
		return models.OrderConfirmation{}, fmt.Errorf("submit %s %d %s: %w", req.Side, req.Quantity, req.Ticker, err)
	}
	if conf.ClientOrderID == "" {
		conf.ClientOrderID = req.ClientOrderID
	}

	s.logger.Info("order submitted",
		zap.String("ticker", req.Ticker),
		zap.String("side", string(req.Side)),
		zap.Int64("qty", req.Quantity),
		zap.String("order_id", conf.OrderID),
		zap.String("client_order_id", conf.ClientOrderID))
	return conf, nil
}
