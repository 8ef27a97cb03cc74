package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dyike/SentiTrader/internal/broker"
	"github.com/dyike/SentiTrader/internal/dataflows"
	"github.com/dyike/SentiTrader/internal/judge"
	"github.com/dyike/SentiTrader/internal/ledger"
	"github.com/dyike/SentiTrader/internal/models"
)

func strPtr(s string) *string { return &s }

func judged(sentiment models.Sentiment, compound, confidence float64, ticker *string) judge.Result {
	return judge.Result{
		Judgment: models.Judgment{Sentiment: sentiment, Compound: compound, Confidence: confidence, Ticker: ticker},
		Attempts: 1,
	}
}

// fakeClassifier answers by exact cleaned text. Unknown text panics so a
// test can exercise per-post recovery.
type fakeClassifier struct {
	mu      sync.Mutex
	answers map[string]judge.Result
	calls   []string
}

func (f *fakeClassifier) Judge(ctx context.Context, text string) judge.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	res, ok := f.answers[text]
	if !ok {
		panic("unexpected text: " + text)
	}
	return res
}

func (f *fakeClassifier) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeSource struct {
	posts   []models.Post
	err     error
	queries []dataflows.Query
}

func (f *fakeSource) Posts(ctx context.Context, q dataflows.Query) ([]models.Post, error) {
	f.queries = append(f.queries, q)
	return f.posts, f.err
}

// failingLookups makes every Exists call fail while writes still work.
type failingLookups struct {
	ledger.Store
}

func (f failingLookups) Exists(ctx context.Context, postID string) (bool, error) {
	return false, errLedgerDown
}

type fakeQuotes map[string]float64

func (f fakeQuotes) LatestPrice(ctx context.Context, ticker string) (float64, error) {
	p, ok := f[ticker]
	if !ok {
		return 0, broker.ErrPriceUnavailable
	}
	return p, nil
}

type fakeBroker struct {
	fakeQuotes
	mu      sync.Mutex
	cash    float64
	acctErr error
	reject  map[string]error
	orders  []broker.OrderRequest
}

func (f *fakeBroker) Account(ctx context.Context) (models.Account, error) {
	if f.acctErr != nil {
		return models.Account{}, f.acctErr
	}
	return models.Account{NonMarginableBuyingPower: f.cash, Cash: f.cash}, nil
}

func (f *fakeBroker) Positions(ctx context.Context) ([]models.Position, error) {
	return nil, nil
}

func (f *fakeBroker) SubmitMarketOrder(ctx context.Context, req broker.OrderRequest) (models.OrderConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reject[req.Ticker]; err != nil {
		return models.OrderConfirmation{}, err
	}
	f.orders = append(f.orders, req)
	return models.OrderConfirmation{
		OrderID:       "order-" + req.Ticker,
		ClientOrderID: req.ClientOrderID,
		Ticker:        req.Ticker,
		Side:          req.Side,
		Quantity:      req.Quantity,
		Status:        "accepted",
		SubmittedAt:   time.Now(),
	}, nil
}

func (f *fakeBroker) Orders() []broker.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]broker.OrderRequest(nil), f.orders...)
}

var errLedgerDown = errors.New("ledger down")
