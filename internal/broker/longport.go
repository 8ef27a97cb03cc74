package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	lpconfig "github.com/longportapp/openapi-go/config"
	"github.com/longportapp/openapi-go/quote"
	"github.com/longportapp/openapi-go/trade"
	"go.uber.org/zap"

	"github.com/dyike/SentiTrader/internal/models"
)

type LongportConfig struct {
	AppKey      string
	AppSecret   string
	AccessToken string
}

// LongportClient implements Broker with the Longport trade and quote
// contexts. Bare tickers are treated as US listings.
type LongportClient struct {
	tradeCtx *trade.TradeContext
	quoteCtx *quote.QuoteContext
	clock    clockwork.Clock
	logger   *zap.Logger
}

func NewLongportClient(cfg LongportConfig, logger *zap.Logger, clock clockwork.Clock) (*LongportClient, error) {
	if cfg.AppKey == "" || cfg.AppSecret == "" || cfg.AccessToken == "" {
		return nil, errors.New("longport API credentials not configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	conf, err := lpconfig.New(lpconfig.WithConfigKey(cfg.AppKey, cfg.AppSecret, cfg.AccessToken))
	if err != nil {
		return nil, fmt.Errorf("longport config: %w", err)
	}

	tradeContext, err := trade.NewFromCfg(conf)
	if err != nil {
		return nil, fmt.Errorf("longport trade context: %w", err)
	}

	quoteContext, err := quote.NewFromCfg(conf)
	if err != nil {
		tradeContext.Close()
		return nil, fmt.Errorf("longport quote context: %w", err)
	}

	return &LongportClient{
		tradeCtx: tradeContext,
		quoteCtx: quoteContext,
		clock:    clock,
		logger:   logger.Named("longport"),
	}, nil
}

// LongportSymbol maps a bare ticker to a Longport symbol.
func LongportSymbol(ticker string) string {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if strings.Contains(t, ".") {
		return t
	}
	return t + ".US"
}

func (lpc *LongportClient) Account(ctx context.Context) (models.Account, error) {
	balances, err := lpc.tradeCtx.AccountBalance(ctx, &trade.GetAccountBalance{})
	if err != nil {
		return models.Account{}, fmt.Errorf("longport account balance: %w", err)
	}
	if len(balances) == 0 {
		return models.Account{}, errors.New("longport account balance: empty response")
	}

	b := balances[0]
	cash := parseNumber(b.TotalCash)
	return models.Account{
		NonMarginableBuyingPower: cash,
		PortfolioValue:           parseNumber(b.NetAssets),
		BuyingPower:              cash,
		Cash:                     cash,
	}, nil
}

func (lpc *LongportClient) Positions(ctx context.Context) ([]models.Position, error) {
	channels, err := lpc.tradeCtx.StockPositions(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("longport stock positions: %w", err)
	}

	var out []models.Position
	for _, ch := range channels {
		for _, p := range ch.Positions {
			qty := parseNumber(p.Quantity)
			cost := parseNumber(p.CostPrice)
			out = append(out, models.Position{
				Symbol:    p.Symbol,
				Quantity:  qty,
				CostBasis: qty * cost,
			})
		}
	}
	return out, nil
}

func (lpc *LongportClient) LatestPrice(ctx context.Context, ticker string) (float64, error) {
	symbol := LongportSymbol(ticker)
	quotes, err := lpc.quoteCtx.Quote(ctx, []string{symbol})
	if err != nil {
		return 0, fmt.Errorf("longport quote %s: %w", symbol, err)
	}
	for _, q := range quotes {
		if q == nil {
			continue
		}
		if price := parseNumber(q.LastDone); price > 0 {
			return price, nil
		}
	}
	return 0, fmt.Errorf("quote %s: %w", symbol, ErrPriceUnavailable)
}

func (lpc *LongportClient) SubmitMarketOrder(ctx context.Context, req OrderRequest) (models.OrderConfirmation, error) {
	if err := req.validate(); err != nil {
		return models.OrderConfirmation{}, err
	}

	side := trade.OrderSideBuy
	if req.Side == models.SideSell {
		side = trade.OrderSideSell
	}

	orderID, err := lpc.tradeCtx.SubmitOrder(ctx, &trade.SubmitOrder{
		Symbol:            LongportSymbol(req.Ticker),
		OrderType:         trade.OrderTypeMO,
		Side:              side,
		SubmittedQuantity: uint64(req.Quantity),
		TimeInForce:       trade.TimeTypeDay,
		Remark:            req.ClientOrderID,
	})
	if err != nil {
		return models.OrderConfirmation{}, fmt.Errorf("longport submit order: %w", err)
	}

	return models.OrderConfirmation{
		OrderID:       orderID,
		ClientOrderID: req.ClientOrderID,
		Ticker:        req.Ticker,
		Side:          req.Side,
		Quantity:      req.Quantity,
		Status:        "submitted",
		SubmittedAt:   lpc.clock.Now(),
	}, nil
}

func (lpc *LongportClient) Close() error {
	if lpc.tradeCtx != nil {
		lpc.tradeCtx.Close()
	}
	if lpc.quoteCtx != nil {
		lpc.quoteCtx.Close()
	}
	return nil
}
