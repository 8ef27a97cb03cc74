package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dyike/SentiTrader/consts"
	"github.com/dyike/SentiTrader/internal/allocation"
	"github.com/dyike/SentiTrader/internal/broker"
	"github.com/dyike/SentiTrader/internal/metrics"
	"github.com/dyike/SentiTrader/internal/models"
	"github.com/dyike/SentiTrader/internal/storage"
)

// OrderRecorder keeps the outcome of each decision for the dashboard.
type OrderRecorder interface {
	SaveOrder(ctx context.Context, rec storage.OrderRecord) error
}

// Trader sizes and submits one order per ticker.
type Trader struct {
	account   broker.AccountService
	quotes    broker.QuoteService
	submitter *broker.Submitter
	policy    allocation.Policy
	recorder  OrderRecorder
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

type TraderOption func(*Trader)

func WithPolicy(p allocation.Policy) TraderOption {
	return func(t *Trader) { t.policy = p }
}

func WithOrderRecorder(r OrderRecorder) TraderOption {
	return func(t *Trader) { t.recorder = r }
}

func WithTraderLogger(l *zap.Logger) TraderOption {
	return func(t *Trader) {
		if l != nil {
			t.logger = l
		}
	}
}

func WithTraderMetrics(m *metrics.Metrics) TraderOption {
	return func(t *Trader) { t.metrics = m }
}

func NewTrader(account broker.AccountService, quotes broker.QuoteService, submitter *broker.Submitter, opts ...TraderOption) *Trader {
	t := &Trader{
		account:   account,
		quotes:    quotes,
		submitter: submitter,
		policy:    allocation.DefaultPolicy(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.Named("trader")
	return t
}

// TradeOutcome is what happened to one ticker.
type TradeOutcome struct {
	Decision     models.AllocationDecision
	Status       string
	Confirmation *models.OrderConfirmation
	Err          error
}

type TradeReport struct {
	Cash     float64
	Outcomes []TradeOutcome
	Placed   int
	DryRun   int
	Skipped  int
	Failed   int
}

// Trade reads the account once and then handles each aggregate in order.
// Errors for one ticker are logged and do not affect the others. Only an
// account read failure aborts the pass.
func (t *Trader) Trade(ctx context.Context, runID string, aggs []*models.TickerAggregate, dryRun bool) (TradeReport, error) {
	var report TradeReport
	if len(aggs) == 0 {
		return report, nil
	}

	acct, err := t.account.Account(ctx)
	if err != nil {
		return report, fmt.Errorf("read account: %w", err)
	}
	report.Cash = acct.NonMarginableBuyingPower
	t.logger.Info("trading pass", zap.Int("tickers", len(aggs)), zap.Float64("cash", report.Cash), zap.Bool("dry_run", dryRun))

	for _, agg := range aggs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		out := t.tradeSafe(ctx, runID, agg, report.Cash, dryRun)
		switch out.Status {
		case consts.Order_Submitted:
			report.Placed++
		case consts.Order_DryRun:
			report.DryRun++
		case consts.Order_Skipped:
			report.Skipped++
		default:
			report.Failed++
		}
		if out.Decision.Actionable() {
			t.metrics.OrderPlaced(string(out.Decision.Side), out.Status)
		}
		t.record(ctx, runID, out)
		report.Outcomes = append(report.Outcomes, out)
	}
	return report, nil
}

func (t *Trader) tradeSafe(ctx context.Context, runID string, agg *models.TickerAggregate, cash float64, dryRun bool) (out TradeOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = TradeOutcome{
				Decision: models.AllocationDecision{Ticker: agg.Ticker, Side: models.SideNone, Score: agg.Score},
				Status:   consts.Order_Rejected,
				Err:      fmt.Errorf("panic trading %s: %v", agg.Ticker, r),
			}
			t.logger.Error("ticker failed", zap.String("ticker", agg.Ticker), zap.Error(out.Err))
		}
	}()
	return t.trade(ctx, runID, agg, cash, dryRun)
}

func (t *Trader) trade(ctx context.Context, runID string, agg *models.TickerAggregate, cash float64, dryRun bool) TradeOutcome {
	log := t.logger.With(zap.String("ticker", agg.Ticker), zap.Float64("score", agg.Score))
	skip := TradeOutcome{
		Decision: models.AllocationDecision{Ticker: agg.Ticker, Side: models.SideNone, Score: agg.Score},
		Status:   consts.Order_Skipped,
	}

	if t.policy.Allocate(agg.Score, cash) == 0 {
		log.Debug("score below allocation threshold")
		return skip
	}

	price, err := t.quotes.LatestPrice(ctx, agg.Ticker)
	if err != nil {
		if errors.Is(err, broker.ErrPriceUnavailable) {
			log.Warn("no price available, skipping", zap.Error(err))
			skip.Err = err
			return skip
		}
		log.Error("quote failed", zap.Error(err))
		skip.Status = consts.Order_Rejected
		skip.Err = err
		return skip
	}

	decision := t.policy.Decide(agg.Ticker, agg.Score, cash, price)
	if !decision.Actionable() {
		log.Info("allocation too small for one share", zap.Float64("price", price))
		return TradeOutcome{Decision: decision, Status: consts.Order_Skipped}
	}

	if dryRun {
		log.Info("dry run order",
			zap.String("side", string(decision.Side)),
			zap.Int64("qty", decision.Quantity),
			zap.Float64("price", price))
		return TradeOutcome{Decision: decision, Status: consts.Order_DryRun}
	}

	conf, err := t.submitter.Submit(ctx, runID, decision)
	if err != nil {
		log.Error("order rejected", zap.Error(err))
		return TradeOutcome{Decision: decision, Status: consts.Order_Rejected, Err: err}
	}
	return TradeOutcome{Decision: decision, Status: consts.Order_Submitted, Confirmation: &conf}
}

func (t *Trader) record(ctx context.Context, runID string, out TradeOutcome) {
	if t.recorder == nil {
		return
	}
	d := out.Decision
	rec := storage.OrderRecord{
		RunID:    runID,
		Ticker:   d.Ticker,
		Side:     string(d.Side),
		Quantity: d.Quantity,
		Fraction: d.Fraction,
		Price:    d.Price,
		Score:    d.Score,
		Status:   out.Status,
	}
	if out.Confirmation != nil {
		rec.OrderID = out.Confirmation.OrderID
		rec.ClientOrderID = out.Confirmation.ClientOrderID
	}
	if out.Err != nil {
		rec.Error = out.Err.Error()
	}
	if err := t.recorder.SaveOrder(ctx, rec); err != nil {
		t.logger.Warn("order record failed", zap.String("ticker", d.Ticker), zap.Error(err))
	}
}
