package broker

import (
	"context"
	"fmt"

	"github.com/piquette/finance-go/quote"
)

// YahooQuotes reads prices from Yahoo Finance. It ignores ctx because the
// client library has no context support.
type YahooQuotes struct {
	get func(symbol string) (ask, regular float64, found bool, err error)
}

func NewYahooQuotes() *YahooQuotes {
	return &YahooQuotes{get: func(symbol string) (float64, float64, bool, error) {
		q, err := quote.Get(symbol)
		if err != nil {
			return 0, 0, false, err
		}
		if q == nil {
			return 0, 0, false, nil
		}
		return q.Ask, q.RegularMarketPrice, true, nil
	}}
}

// LatestPrice returns the ask price, falling back to the regular market
// price.
func (y *YahooQuotes) LatestPrice(ctx context.Context, ticker string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ask, regular, found, err := y.get(ticker)
	if err != nil {
		return 0, fmt.Errorf("yahoo quote %s: %w", ticker, err)
	}
	if !found {
		return 0, fmt.Errorf("yahoo quote %s: %w", ticker, ErrPriceUnavailable)
	}
	switch {
	case ask > 0:
		return ask, nil
	case regular > 0:
		return regular, nil
	}
	return 0, fmt.Errorf("yahoo quote %s: %w", ticker, ErrPriceUnavailable)
}
