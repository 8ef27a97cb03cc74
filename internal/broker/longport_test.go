package broker

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLongportSymbol(t *testing.T) {
	assert.Equal(t, "AAPL.US", LongportSymbol("aapl"))
	assert.Equal(t, "700.HK", LongportSymbol("700.HK"))
}

func TestNewLongportClientRequiresCredentials(t *testing.T) {
	_, err := NewLongportClient(LongportConfig{AppKey: "k"}, nil, nil)
	require.Error(t, err)
}

func TestLongportLatestPriceLive(t *testing.T) {
	cfg := LongportConfig{
		AppKey:      os.Getenv("LONGPORT_APP_KEY"),
		AppSecret:   os.Getenv("LONGPORT_APP_SECRET"),
		AccessToken: os.Getenv("LONGPORT_ACCESS_TOKEN"),
	}
	client, err := NewLongportClient(cfg, nil, nil)
	if err != nil {
		t.Skipf("Skipping test due to missing Longport API credentials: %v", err)
	}
	defer client.Close()

	price, err := client.LatestPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Greater(t, price, 0.0)
}
