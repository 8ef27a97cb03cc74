package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/SentiTrader/consts"
	"github.com/dyike/SentiTrader/internal/allocation"
	"github.com/dyike/SentiTrader/internal/broker"
	"github.com/dyike/SentiTrader/internal/models"
	"github.com/dyike/SentiTrader/internal/storage"
)

func newTrader(fb *fakeBroker, opts ...TraderOption) *Trader {
	return NewTrader(fb, fb, broker.NewSubmitter(fb, 0, nil), opts...)
}

func aggregate(ticker string, score float64) *models.TickerAggregate {
	return &models.TickerAggregate{Ticker: ticker, Score: score, PostCount: 1}
}

func TestTradeDirectionAndSize(t *testing.T) {
	fb := &fakeBroker{cash: 10000, fakeQuotes: fakeQuotes{"GME": 10, "TSLA": 100}}
	report, err := newTrader(fb).Trade(context.Background(), "run-1",
		[]*models.TickerAggregate{aggregate("GME", -0.9), aggregate("TSLA", 0.9), aggregate("AMC", 0)}, false)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Placed)
	assert.Equal(t, 1, report.Skipped)

	orders := fb.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, broker.OrderRequest{Ticker: "GME", Side: models.SideBuy, Quantity: 100, ClientOrderID: broker.ClientOrderID("run-1", "GME")}, orders[0])
	assert.Equal(t, models.SideSell, orders[1].Side)
	assert.Equal(t, int64(10), orders[1].Quantity)
}

func TestTradeUsesCustomPolicy(t *testing.T) {
	fb := &fakeBroker{cash: 10000, fakeQuotes: fakeQuotes{"GME": 10}}
	policy := allocation.Policy{Tiers: []allocation.Tier{{Lower: 0.1, Upper: 1, Fraction: 0.5}}}
	report, err := newTrader(fb, WithPolicy(policy)).Trade(context.Background(), "run",
		[]*models.TickerAggregate{aggregate("GME", -0.3)}, false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Placed)
	orders := fb.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, int64(500), orders[0].Quantity)
}

func TestTradeZeroOrMissingPriceIsSkipped(t *testing.T) {
	fb := &fakeBroker{cash: 10000, fakeQuotes: fakeQuotes{"BB": 0}}
	report, err := newTrader(fb).Trade(context.Background(), "run",
		[]*models.TickerAggregate{aggregate("BB", -0.9), aggregate("NOK", -0.9)}, false)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Skipped)
	assert.Empty(t, fb.Orders())
	assert.Equal(t, int64(0), report.Outcomes[0].Decision.Quantity)
	assert.ErrorIs(t, report.Outcomes[1].Err, broker.ErrPriceUnavailable)
}

func TestTradeIsolatesRejectedTicker(t *testing.T) {
	fb := &fakeBroker{
		cash:       10000,
		fakeQuotes: fakeQuotes{"GME": 10, "TSLA": 100, "AAPL": 50},
		reject:     map[string]error{"TSLA": errors.New("asset not shortable")},
	}
	report, err := newTrader(fb).Trade(context.Background(), "run",
		[]*models.TickerAggregate{aggregate("GME", -0.9), aggregate("TSLA", 0.9), aggregate("AAPL", -0.7)}, false)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Placed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, consts.Order_Rejected, report.Outcomes[1].Status)
	require.Len(t, fb.Orders(), 2)
	assert.Equal(t, "AAPL", fb.Orders()[1].Ticker)
}

func TestTradeDryRunSubmitsNothing(t *testing.T) {
	fb := &fakeBroker{cash: 10000, fakeQuotes: fakeQuotes{"GME": 10}}
	report, err := newTrader(fb).Trade(context.Background(), "run", []*models.TickerAggregate{aggregate("GME", -0.9)}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DryRun)
	assert.Empty(t, fb.Orders())
	assert.Equal(t, int64(100), report.Outcomes[0].Decision.Quantity)
}

func TestTradeAbortsWhenAccountUnavailable(t *testing.T) {
	fb := &fakeBroker{acctErr: errors.New("401")}
	_, err := newTrader(fb).Trade(context.Background(), "run", []*models.TickerAggregate{aggregate("GME", -0.9)}, false)
	require.Error(t, err)
	assert.Empty(t, fb.Orders())
}

func TestTradeRecordsOutcomes(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	fb := &fakeBroker{cash: 10000, fakeQuotes: fakeQuotes{"GME": 10}}
	_, err = newTrader(fb, WithOrderRecorder(store)).Trade(ctx, "run",
		[]*models.TickerAggregate{aggregate("GME", -0.9), aggregate("AMC", 0.1)}, false)
	require.NoError(t, err)

	orders, err := store.RecentOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	statuses := map[string]string{}
	for _, o := range orders {
		statuses[o.Ticker] = o.Status
	}
	assert.Equal(t, consts.Order_Submitted, statuses["GME"])
	assert.Equal(t, consts.Order_Skipped, statuses["AMC"])
}
