package app

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/SentiTrader/config"
	"github.com/dyike/SentiTrader/consts"
	"github.com/dyike/SentiTrader/internal/broker"
	"github.com/dyike/SentiTrader/internal/dataflows"
	"github.com/dyike/SentiTrader/internal/metrics"
	"github.com/dyike/SentiTrader/internal/models"
	"github.com/dyike/SentiTrader/internal/pipeline"
)

// scriptedModel answers by looking for a keyword in the user message.
type scriptedModel struct {
	mu      sync.Mutex
	answers map[string]string
	calls   int
}

func (s *scriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	last := input[len(input)-1].Content
	for keyword, answer := range s.answers {
		if strings.Contains(last, keyword) {
			return schema.AssistantMessage(answer, nil), nil
		}
	}
	return schema.AssistantMessage(`{"sentiment":"neutral","compound":0,"confidence":0.5,"ticker":null}`, nil), nil
}

func (s *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := s.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

type staticSource []models.Post

func (s staticSource) Posts(ctx context.Context, q dataflows.Query) ([]models.Post, error) {
	return s, nil
}

type fixedQuotes map[string]float64

func (f fixedQuotes) LatestPrice(ctx context.Context, ticker string) (float64, error) {
	if p, ok := f[ticker]; ok {
		return p, nil
	}
	return 0, broker.ErrPriceUnavailable
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := *config.DefaultConfigWithRoot(dir)
	cfg.DataCacheDir = filepath.Join(dir, "cache")
	cfg.LedgerBackend = consts.LedgerMemory
	cfg.StorePath = filepath.Join(dir, "runs.db")
	cfg.BrokerProvider = consts.BrokerPaper
	cfg.QuoteProvider = consts.QuoteFromBroker
	cfg.AggregationMode = consts.ModeBatch
	cfg.PostDelay = 0
	cfg.OrderDelay = 0
	cfg.DryRun = false
	cfg.JudgeBaseDelay = time.Millisecond
	return cfg
}

func TestBuildEngineRunsFullPass(t *testing.T) {
	ctx := context.Background()
	cm := &scriptedModel{answers: map[string]string{
		"puts":  `{"sentiment":"negative","compound":-0.9,"confidence":1.0,"ticker":"GME"}`,
		"calls": "```json\n{\"sentiment\":\"positive\",\"compound\":0.7,\"confidence\":1.0,\"ticker\":\"TSLA\"}\n```",
	}}
	source := staticSource{
		{ID: "a", Title: "GME puts", CreatedAt: time.Now()},
		{ID: "b", Title: "TSLA calls", CreatedAt: time.Now()},
		{ID: "c", Title: "Daily thread", CreatedAt: time.Now()},
	}
	paper := broker.NewPaperBroker(10000, fixedQuotes{"GME": 10, "TSLA": 100}, nil)

	e, err := BuildEngine(ctx, testConfig(t),
		WithChatModel(cm),
		WithPostSource(source),
		WithBroker(paper),
		WithMetrics(metrics.New()))
	require.NoError(t, err)
	defer e.Close()

	res, err := e.Pipeline.Run(ctx, pipeline.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, cm.calls)
	assert.Equal(t, 2, res.Analysis.Recorded)
	require.NotNil(t, res.Trade)
	assert.Equal(t, 2, res.Trade.Placed)

	positions, err := paper.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 2)

	entries, err := e.Ledger.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestBuildEngineRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.AggregationMode = "weekly"
	_, err := BuildEngine(context.Background(), cfg, WithChatModel(&scriptedModel{}))
	require.Error(t, err)
}

func TestBuildEngineUnknownBroker(t *testing.T) {
	cfg := testConfig(t)
	cfg.BrokerProvider = "ib"
	_, err := BuildEngine(context.Background(), cfg, WithChatModel(&scriptedModel{}))
	require.Error(t, err)
}

func TestLedgerPathForJSONBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.LedgerBackend = consts.LedgerJSON
	cfg.LedgerPath = "/data/ledger.db"
	assert.Equal(t, "/data/ledger.json", ledgerPath(cfg))

	cfg.LedgerBackend = consts.LedgerSQLite
	assert.Equal(t, "/data/ledger.db", ledgerPath(cfg))
}
