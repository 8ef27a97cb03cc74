package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/dyike/SentiTrader/internal/models"
)

// PaperBroker is an in-memory account that fills market orders at the
// quote price. Sells may open short positions.
type PaperBroker struct {
	mu        sync.Mutex
	quotes    QuoteService
	clock     clockwork.Clock
	cash      decimal.Decimal
	positions map[string]*paperPosition
	orders    map[string]models.OrderConfirmation
}

type paperPosition struct {
	qty  int64
	cost decimal.Decimal
}

func NewPaperBroker(startingCash float64, quotes QuoteService, clock clockwork.Clock) *PaperBroker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PaperBroker{
		quotes:    quotes,
		clock:     clock,
		cash:      decimal.NewFromFloat(startingCash),
		positions: make(map[string]*paperPosition),
		orders:    make(map[string]models.OrderConfirmation),
	}
}

func (p *PaperBroker) LatestPrice(ctx context.Context, ticker string) (float64, error) {
	if p.quotes == nil {
		return 0, fmt.Errorf("paper quote %s: %w", ticker, ErrPriceUnavailable)
	}
	return p.quotes.LatestPrice(ctx, ticker)
}

func (p *PaperBroker) Account(ctx context.Context) (models.Account, error) {
	positions, err := p.Positions(ctx)
	if err != nil {
		return models.Account{}, err
	}

	p.mu.Lock()
	cash := p.cash.InexactFloat64()
	p.mu.Unlock()

	value := cash
	for _, pos := range positions {
		value += pos.MarketValue
	}
	return models.Account{
		NonMarginableBuyingPower: cash,
		PortfolioValue:           value,
		BuyingPower:              cash,
		Cash:                     cash,
		DayTradingBuyingPower:    cash,
	}, nil
}

// Positions are valued at the latest quote, or at cost when no quote is
// available.
func (p *PaperBroker) Positions(ctx context.Context) ([]models.Position, error) {
	p.mu.Lock()
	symbols := make([]string, 0, len(p.positions))
	snapshot := make(map[string]paperPosition, len(p.positions))
	for sym, pos := range p.positions {
		symbols = append(symbols, sym)
		snapshot[sym] = *pos
	}
	p.mu.Unlock()
	sort.Strings(symbols)

	out := make([]models.Position, 0, len(symbols))
	for _, sym := range symbols {
		pos := snapshot[sym]
		qty := decimal.NewFromInt(pos.qty)
		price := pos.cost
		if pos.qty != 0 {
			price = pos.cost.Div(qty).Abs()
		}
		if last, err := p.LatestPrice(ctx, sym); err == nil && last > 0 {
			price = decimal.NewFromFloat(last)
		}
		value := qty.Mul(price)
		out = append(out, models.Position{
			Symbol:       sym,
			Quantity:     float64(pos.qty),
			MarketValue:  value.InexactFloat64(),
			CostBasis:    pos.cost.InexactFloat64(),
			UnrealizedPL: value.Sub(pos.cost).InexactFloat64(),
			CurrentPrice: price.InexactFloat64(),
		})
	}
	return out, nil
}

func (p *PaperBroker) SubmitMarketOrder(ctx context.Context, req OrderRequest) (models.OrderConfirmation, error) {
	if err := req.validate(); err != nil {
		return models.OrderConfirmation{}, err
	}

	p.mu.Lock()
	if prev, ok := p.orders[req.ClientOrderID]; ok && req.ClientOrderID != "" {
		p.mu.Unlock()
		return prev, nil
	}
	p.mu.Unlock()

	price, err := p.LatestPrice(ctx, req.Ticker)
	if err != nil {
		return models.OrderConfirmation{}, err
	}
	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(req.Quantity))

	p.mu.Lock()
	defer p.mu.Unlock()

	if req.Side == models.SideBuy && notional.GreaterThan(p.cash) {
		return models.OrderConfirmation{}, fmt.Errorf("paper order rejected: insufficient cash for %d %s", req.Quantity, req.Ticker)
	}
	pos, ok := p.positions[req.Ticker]
	if !ok {
		pos = &paperPosition{}
		p.positions[req.Ticker] = pos
	}

	switch req.Side {
	case models.SideBuy:
		p.cash = p.cash.Sub(notional)
		pos.qty += req.Quantity
		pos.cost = pos.cost.Add(notional)
	case models.SideSell:
		p.cash = p.cash.Add(notional)
		pos.qty -= req.Quantity
		pos.cost = pos.cost.Sub(notional)
	}
	if pos.qty == 0 {
		delete(p.positions, req.Ticker)
	}

	conf := models.OrderConfirmation{
		OrderID:       uuid.NewString(),
		ClientOrderID: req.ClientOrderID,
		Ticker:        req.Ticker,
		Side:          req.Side,
		Quantity:      req.Quantity,
		Status:        "filled",
		SubmittedAt:   p.clock.Now(),
	}
	if req.ClientOrderID != "" {
		p.orders[req.ClientOrderID] = conf
	}
	return conf, nil
}
