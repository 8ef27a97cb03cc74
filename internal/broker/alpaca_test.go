package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/SentiTrader/internal/models"
)

func newAlpacaServer(t *testing.T, handler http.HandlerFunc) *AlpacaClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		assert.Equal(t, "secret", r.Header.Get("APCA-API-SECRET-KEY"))
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewAlpacaClient(AlpacaConfig{TradingURL: srv.URL, DataURL: srv.URL, KeyID: "key", SecretKey: "secret"}, nil, nil)
}

func respond(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestAlpacaAccount(t *testing.T) {
	c := newAlpacaServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/account", r.URL.Path)
		respond(w, 200, `{"non_marginable_buying_power":"12500.50","portfolio_value":"30000","buying_power":"25001","cash":"12500.50","daytrading_buying_power":"0","pattern_day_trader":false,"trading_blocked":false,"account_blocked":true,"created_at":"2020-01-01T00:00:00Z"}`)
	})

	acct, err := c.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12500.50, acct.NonMarginableBuyingPower)
	assert.Equal(t, 30000.0, acct.PortfolioValue)
	assert.True(t, acct.AccountBlocked)
}

func TestAlpacaPositions(t *testing.T) {
	c := newAlpacaServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/positions", r.URL.Path)
		respond(w, 200, `[{"symbol":"GME","qty":"10","market_value":"250.5","cost_basis":"200","unrealized_pl":"50.5","unrealized_plpc":"0.2525","current_price":"25.05"}]`)
	})

	positions, err := c.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "GME", positions[0].Symbol)
	assert.Equal(t, 10.0, positions[0].Quantity)
	assert.Equal(t, 50.5, positions[0].UnrealizedPL)
}

func TestAlpacaLatestPrice(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
		want   float64
		err    error
	}{
		"ask":       {200, `{"symbol":"GME","quote":{"ap":25.5,"bp":25.1}}`, 25.5, nil},
		"bid only":  {200, `{"symbol":"GME","quote":{"ap":0,"bp":25.1}}`, 25.1, nil},
		"no quote":  {200, `{"symbol":"GME","quote":{"ap":0,"bp":0}}`, 0, ErrPriceUnavailable},
		"not found": {404, `{"message":"not found"}`, 0, ErrPriceUnavailable},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := newAlpacaServer(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/v2/stocks/GME/quotes/latest", r.URL.Path)
				respond(w, tc.status, tc.body)
			})
			price, err := c.LatestPrice(context.Background(), "GME")
			if tc.err != nil {
				assert.True(t, errors.Is(err, tc.err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, price)
		})
	}
}

func TestAlpacaSubmitMarketOrder(t *testing.T) {
	c := newAlpacaServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v2/orders", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{
			"symbol":          "GME",
			"qty":             "7",
			"side":            "buy",
			"type":            "market",
			"time_in_force":   "day",
			"client_order_id": "cid-1",
		}, body)
		respond(w, 200, `{"id":"ord-1","client_order_id":"cid-1","status":"accepted","symbol":"GME","qty":"7","side":"buy"}`)
	})

	conf, err := c.SubmitMarketOrder(context.Background(), OrderRequest{Ticker: "GME", Side: models.SideBuy, Quantity: 7, ClientOrderID: "cid-1"})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", conf.OrderID)
	assert.Equal(t, "accepted", conf.Status)
}

func TestAlpacaRejectedOrder(t *testing.T) {
	c := newAlpacaServer(t, func(w http.ResponseWriter, r *http.Request) {
		respond(w, 403, `{"code":40310000,"message":"insufficient buying power"}`)
	})

	_, err := c.SubmitMarketOrder(context.Background(), OrderRequest{Ticker: "GME", Side: models.SideSell, Quantity: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient buying power")
}

func TestAlpacaRejectsInvalidRequestLocally(t *testing.T) {
	c := NewAlpacaClient(AlpacaConfig{TradingURL: "http://127.0.0.1:0"}, nil, nil)
	_, err := c.SubmitMarketOrder(context.Background(), OrderRequest{Ticker: "GME", Side: models.SideNone, Quantity: 1})
	require.Error(t, err)
}
