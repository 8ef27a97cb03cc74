package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dyike/SentiTrader/internal/models"
)

type AlpacaConfig struct {
	TradingURL string
	DataURL    string
	KeyID      string
	SecretKey  string
	Timeout    time.Duration
}

// AlpacaClient implements Broker over the Alpaca REST API.
type AlpacaClient struct {
	trading *resty.Client
	data    *resty.Client
	clock   clockwork.Clock
	logger  *zap.Logger
}

func NewAlpacaClient(cfg AlpacaConfig, logger *zap.Logger, clock clockwork.Clock) *AlpacaClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	newClient := func(baseURL string) *resty.Client {
		return resty.New().
			SetBaseURL(baseURL).
			SetTimeout(cfg.Timeout).
			SetHeader("APCA-API-KEY-ID", cfg.KeyID).
			SetHeader("APCA-API-SECRET-KEY", cfg.SecretKey).
			SetHeader("Accept", "application/json")
	}
	return &AlpacaClient{
		trading: newClient(cfg.TradingURL),
		data:    newClient(cfg.DataURL),
		clock:   clock,
		logger:  logger.Named("alpaca"),
	}
}

type alpacaAccount struct {
	NonMarginableBuyingPower string `json:"non_marginable_buying_power"`
	PortfolioValue           string `json:"portfolio_value"`
	BuyingPower              string `json:"buying_power"`
	Cash                     string `json:"cash"`
	DayTradingBuyingPower    string `json:"daytrading_buying_power"`
	PatternDayTrader         bool   `json:"pattern_day_trader"`
	TradingBlocked           bool   `json:"trading_blocked"`
	AccountBlocked           bool   `json:"account_blocked"`
	CreatedAt                string `json:"created_at"`
}

type alpacaPosition struct {
	Symbol          string `json:"symbol"`
	Qty             string `json:"qty"`
	MarketValue     string `json:"market_value"`
	CostBasis       string `json:"cost_basis"`
	UnrealizedPL    string `json:"unrealized_pl"`
	UnrealizedPLPct string `json:"unrealized_plpc"`
	CurrentPrice    string `json:"current_price"`
}

type alpacaOrderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

type alpacaOrder struct {
	ID            string `json:"id"`
	ClientOrderID string `json:"client_order_id"`
	Status        string `json:"status"`
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
}

type alpacaLatestQuote struct {
	Symbol string `json:"symbol"`
	Quote  struct {
		AskPrice float64 `json:"ap"`
		BidPrice float64 `json:"bp"`
	} `json:"quote"`
}

func (c *AlpacaClient) Account(ctx context.Context) (models.Account, error) {
	resp, err := c.trading.R().
		SetContext(ctx).
		SetResult(&alpacaAccount{}).
		Get("/v2/account")
	if err != nil {
		return models.Account{}, fmt.Errorf("get account: %w", err)
	}
	if err := alpacaError(resp); err != nil {
		return models.Account{}, fmt.Errorf("get account: %w", err)
	}

	a := resp.Result().(*alpacaAccount)
	return models.Account{
		NonMarginableBuyingPower: parseNumber(a.NonMarginableBuyingPower),
		PortfolioValue:           parseNumber(a.PortfolioValue),
		BuyingPower:              parseNumber(a.BuyingPower),
		Cash:                     parseNumber(a.Cash),
		DayTradingBuyingPower:    parseNumber(a.DayTradingBuyingPower),
		PatternDayTrader:         a.PatternDayTrader,
		TradingBlocked:           a.TradingBlocked,
		AccountBlocked:           a.AccountBlocked,
		CreatedAt:                a.CreatedAt,
	}, nil
}

func (c *AlpacaClient) Positions(ctx context.Context) ([]models.Position, error) {
	var raw []alpacaPosition
	resp, err := c.trading.R().
		SetContext(ctx).
		SetResult(&raw).
		Get("/v2/positions")
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	if err := alpacaError(resp); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}

	out := make([]models.Position, 0, len(raw))
	for _, p := range raw {
		out = append(out, models.Position{
			Symbol:          p.Symbol,
			Quantity:        parseNumber(p.Qty),
			MarketValue:     parseNumber(p.MarketValue),
			CostBasis:       parseNumber(p.CostBasis),
			UnrealizedPL:    parseNumber(p.UnrealizedPL),
			UnrealizedPLPct: parseNumber(p.UnrealizedPLPct),
			CurrentPrice:    parseNumber(p.CurrentPrice),
		})
	}
	return out, nil
}

// LatestPrice returns the ask price, falling back to the bid.
func (c *AlpacaClient) LatestPrice(ctx context.Context, ticker string) (float64, error) {
	resp, err := c.data.R().
		SetContext(ctx).
		SetPathParam("symbol", ticker).
		SetResult(&alpacaLatestQuote{}).
		Get("/v2/stocks/{symbol}/quotes/latest")
	if err != nil {
		return 0, fmt.Errorf("get quote %s: %w", ticker, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return 0, fmt.Errorf("quote %s: %w", ticker, ErrPriceUnavailable)
	}
	if err := alpacaError(resp); err != nil {
		return 0, fmt.Errorf("get quote %s: %w", ticker, err)
	}

	q := resp.Result().(*alpacaLatestQuote)
	switch {
	case q.Quote.AskPrice > 0:
		return q.Quote.AskPrice, nil
	case q.Quote.BidPrice > 0:
		return q.Quote.BidPrice, nil
	}
	return 0, fmt.Errorf("quote %s: %w", ticker, ErrPriceUnavailable)
}

func (c *AlpacaClient) SubmitMarketOrder(ctx context.Context, req OrderRequest) (models.OrderConfirmation, error) {
	if err := req.validate(); err != nil {
		return models.OrderConfirmation{}, err
	}

	resp, err := c.trading.R().
		SetContext(ctx).
		SetBody(alpacaOrderRequest{
			Symbol:        req.Ticker,
			Qty:           strconv.FormatInt(req.Quantity, 10),
			Side:          string(req.Side),
			Type:          "market",
			TimeInForce:   "day",
			ClientOrderID: req.ClientOrderID,
		}).
		SetResult(&alpacaOrder{}).
		Post("/v2/orders")
	if err != nil {
		return models.OrderConfirmation{}, fmt.Errorf("post order: %w", err)
	}
	if err := alpacaError(resp); err != nil {
		return models.OrderConfirmation{}, err
	}

	o := resp.Result().(*alpacaOrder)
	return models.OrderConfirmation{
		OrderID:       o.ID,
		ClientOrderID: o.ClientOrderID,
		Ticker:        req.Ticker,
		Side:          req.Side,
		Quantity:      req.Quantity,
		Status:        o.Status,
		SubmittedAt:   c.clock.Now(),
	}, nil
}

type alpacaErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func alpacaError(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	var body alpacaErrorBody
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Message != "" {
		return fmt.Errorf("alpaca HTTP %d: %s", resp.StatusCode(), body.Message)
	}
	return fmt.Errorf("alpaca HTTP %d: %s", resp.StatusCode(), resp.Status())
}
