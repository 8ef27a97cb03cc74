package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/SentiTrader/internal/ledger"
	"github.com/dyike/SentiTrader/internal/metrics"
	"github.com/dyike/SentiTrader/internal/models"
	"github.com/dyike/SentiTrader/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAccount struct {
	acct      models.Account
	positions []models.Position
	err       error
}

func (f *fakeAccount) Account(ctx context.Context) (models.Account, error) {
	return f.acct, f.err
}

func (f *fakeAccount) Positions(ctx context.Context) ([]models.Position, error) {
	return f.positions, f.err
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestAccountEndpoint(t *testing.T) {
	acct := &fakeAccount{acct: models.Account{PortfolioValue: 1000, BuyingPower: 2000, Cash: 500, DayTradingBuyingPower: 0, TradingBlocked: true}}
	s := New(Deps{Account: acct, Positions: acct})

	w := get(t, s.Handler(), "/api/account")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1000.0, body["portfolio_value"])
	assert.Equal(t, 500.0, body["cash"])
	assert.Equal(t, true, body["trading_blocked"])
	assert.Contains(t, body, "day_trade_buying_power")
}

func TestPositionsEndpoint(t *testing.T) {
	acct := &fakeAccount{positions: []models.Position{{Symbol: "GME", Quantity: 3, MarketValue: 75, UnrealizedPL: 5, UnrealizedPLPct: 0.07}}}
	s := New(Deps{Account: acct, Positions: acct})

	w := get(t, s.Handler(), "/api/positions")
	require.Equal(t, http.StatusOK, w.Code)

	var body []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "GME", body[0]["symbol"])
	assert.Equal(t, 3.0, body[0]["qty"])
	assert.Equal(t, 0.07, body[0]["unrealized_plpc"])
}

func TestBrokerErrorIsBadGateway(t *testing.T) {
	acct := &fakeAccount{err: errors.New("forbidden")}
	s := New(Deps{Account: acct, Positions: acct})

	assert.Equal(t, http.StatusBadGateway, get(t, s.Handler(), "/api/account").Code)
	assert.Equal(t, http.StatusBadGateway, get(t, s.Handler(), "/api/positions").Code)
}

func TestCrossOriginReads(t *testing.T) {
	h := New(Deps{}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/account", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodGet)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMissingDependencies(t *testing.T) {
	s := New(Deps{})
	for _, path := range []string{"/api/account", "/api/positions", "/api/sentiment", "/api/sentiment/ledger", "/api/runs", "/api/orders"} {
		assert.Equal(t, http.StatusServiceUnavailable, get(t, s.Handler(), path).Code, path)
	}
	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/healthz").Code)
}

func TestLedgerSentimentFoldsEntries(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemory()
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, score := range []float64{0.2, 0.6} {
		_, err := store.Record(ctx, models.LedgerEntry{PostID: string(rune('a' + i)), Ticker: "GME", WeightedScore: score, TitleSnippet: "dd", ProcessedAt: at.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}
	s := New(Deps{Ledger: store})

	w := get(t, s.Handler(), "/api/sentiment/ledger")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]models.TickerAggregate
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Contains(t, body, "GME")
	assert.InDelta(t, 0.4, body["GME"].Score, 1e-12)
	assert.Equal(t, 2, body["GME"].PostCount)
}

func TestLedgerSentimentUnavailable(t *testing.T) {
	store := ledger.NewMemory()
	require.NoError(t, store.Close())
	s := New(Deps{Ledger: store})

	w := get(t, s.Handler(), "/api/sentiment/ledger")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Sentiment data not available")
}

func TestRunHistoryEndpoints(t *testing.T) {
	ctx := context.Background()
	runs, err := storage.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer runs.Close()

	require.NoError(t, runs.StartRun(ctx, storage.RunRecord{ID: "r1"}))
	require.NoError(t, runs.SaveAggregates(ctx, "r1", []*models.TickerAggregate{{Ticker: "TSLA", Score: 0.5, PostCount: 1}}))
	require.NoError(t, runs.FinishRun(ctx, storage.RunRecord{ID: "r1"}, nil))
	require.NoError(t, runs.SaveOrder(ctx, storage.OrderRecord{RunID: "r1", Ticker: "TSLA", Side: "sell", Quantity: 1, Status: "submitted"}))

	s := New(Deps{Runs: runs})

	w := get(t, s.Handler(), "/api/sentiment")
	require.Equal(t, http.StatusOK, w.Code)
	var sentiment map[string]models.TickerAggregate
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sentiment))
	assert.Equal(t, 0.5, sentiment["TSLA"].Score)

	w = get(t, s.Handler(), "/api/runs?limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	var runList []storage.RunRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runList))
	require.Len(t, runList, 1)
	assert.Equal(t, "r1", runList[0].ID)

	w = get(t, s.Handler(), "/api/orders")
	require.Equal(t, http.StatusOK, w.Code)
	var orders []storage.OrderRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.PostProcessed("judged")
	s := New(Deps{Metrics: m})

	w := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sentitrader_posts_total")
}
