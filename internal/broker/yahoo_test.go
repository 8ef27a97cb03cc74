package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYahooQuotesFallback(t *testing.T) {
	cases := map[string]struct {
		ask, regular float64
		found        bool
		err          error
		want         float64
		wantErr      error
	}{
		"ask":          {ask: 10.5, regular: 10, found: true, want: 10.5},
		"regular":      {ask: 0, regular: 10, found: true, want: 10},
		"zero":         {found: true, wantErr: ErrPriceUnavailable},
		"unknown":      {found: false, wantErr: ErrPriceUnavailable},
		"client error": {err: errors.New("boom")},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			y := &YahooQuotes{get: func(string) (float64, float64, bool, error) {
				return tc.ask, tc.regular, tc.found, tc.err
			}}
			price, err := y.LatestPrice(context.Background(), "GME")
			switch {
			case tc.err != nil:
				require.Error(t, err)
			case tc.wantErr != nil:
				assert.ErrorIs(t, err, tc.wantErr)
			default:
				require.NoError(t, err)
				assert.Equal(t, tc.want, price)
			}
		})
	}
}
