package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/SentiTrader/consts"
	"github.com/dyike/SentiTrader/internal/dataflows"
	"github.com/dyike/SentiTrader/internal/judge"
	"github.com/dyike/SentiTrader/internal/ledger"
	"github.com/dyike/SentiTrader/internal/models"
	"github.com/dyike/SentiTrader/internal/storage"
)

type harness struct {
	source *fakeSource
	cl     *fakeClassifier
	broker *fakeBroker
	ledger ledger.Store
	store  *storage.RunStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return &harness{
		source: &fakeSource{},
		cl:     &fakeClassifier{answers: map[string]judge.Result{}},
		broker: &fakeBroker{cash: 10000, fakeQuotes: fakeQuotes{"GME": 10, "TSLA": 100}},
		ledger: ledger.NewMemory(),
		store:  store,
	}
}

func (h *harness) pipeline(t *testing.T, mode string) *Pipeline {
	t.Helper()
	analyzer := newAnalyzer(h.cl, h.ledger, AnalyzerConfig{})
	trader := newTrader(h.broker, WithOrderRecorder(h.store))
	p, err := New(h.source, analyzer, trader, Config{
		Query: dataflows.Query{Subreddit: "wallstreetbets", SearchQuery: `flair:"DD"`, Limit: 50},
		Mode:  mode,
	}, WithRunStore(h.store))
	require.NoError(t, err)
	return p
}

func TestRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.source.posts = []models.Post{post("1", "GME"), post("2", "TSLA"), post("3", "meta")}
	h.cl.answers["GME"] = judged(models.SentimentNegative, -0.9, 1, strPtr("GME"))
	h.cl.answers["TSLA"] = judged(models.SentimentPositive, 0.7, 1, strPtr("TSLA"))
	h.cl.answers["meta"] = judged(models.SentimentNeutral, 0, 1, nil)

	res, err := h.pipeline(t, consts.ModeBatch).Run(ctx, RunOptions{Limit: 5})
	require.NoError(t, err)

	assert.Equal(t, 5, h.source.queries[0].Limit)
	assert.Equal(t, 2, res.Analysis.Recorded)
	require.NotNil(t, res.Trade)
	assert.Equal(t, 2, res.Trade.Placed)

	runs, err := h.store.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, consts.State_Completed, runs[0].Status)
	assert.Equal(t, 3, runs[0].PostsJudged)
	assert.Equal(t, 2, runs[0].OrdersPlaced)

	latest, err := h.store.LatestAggregates(ctx)
	require.NoError(t, err)
	assert.Len(t, latest, 2)
}

func TestRunIsIdempotentAcrossRuns(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.source.posts = []models.Post{post("1", "GME")}
	h.cl.answers["GME"] = judged(models.SentimentNegative, -0.9, 1, strPtr("GME"))
	p := h.pipeline(t, consts.ModeBatch)

	_, err := p.Run(ctx, RunOptions{})
	require.NoError(t, err)
	second, err := p.Run(ctx, RunOptions{})
	require.NoError(t, err)

	assert.Len(t, h.cl.Calls(), 1)
	assert.Equal(t, 1, second.Analysis.Duplicates)
	assert.Empty(t, second.Aggregates)
	assert.Len(t, h.broker.Orders(), 1)
}

func TestIncrementalRunsResumeAggregates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.cl.answers["GME one"] = judged(models.SentimentNegative, -0.9, 1, strPtr("GME"))
	h.cl.answers["GME two"] = judged(models.SentimentNegative, -0.5, 1, strPtr("GME"))
	h.cl.answers["TSLA"] = judged(models.SentimentPositive, 0.9, 1, strPtr("TSLA"))
	p := h.pipeline(t, consts.ModeIncremental)

	h.source.posts = []models.Post{post("1", "GME one")}
	_, err := p.Run(ctx, RunOptions{})
	require.NoError(t, err)

	h.source.posts = []models.Post{post("2", "GME two"), post("3", "TSLA")}
	res, err := p.Run(ctx, RunOptions{})
	require.NoError(t, err)

	require.Len(t, res.Aggregates, 2)
	assert.Equal(t, "GME", res.Aggregates[0].Ticker)
	assert.InDelta(t, -0.7, res.Aggregates[0].Score, 1e-12)
	assert.Equal(t, 2, res.Aggregates[0].PostCount)

	h.source.posts = []models.Post{post("4", "TSLA")}
	h.cl.answers["TSLA"] = judged(models.SentimentPositive, 0.9, 1, strPtr("TSLA"))
	res, err = p.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.NotNil(t, res.Trade)
	require.Len(t, res.Trade.Outcomes, 1)
	assert.Equal(t, "TSLA", res.Trade.Outcomes[0].Decision.Ticker)
}

func TestRunFailsWhenFetchFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.source.err = errors.New("reddit unavailable")

	_, err := h.pipeline(t, consts.ModeBatch).Run(ctx, RunOptions{})
	require.Error(t, err)

	runs, err := h.store.RecentRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, consts.State_Failed, runs[0].Status)
}

func TestRunSkipTrading(t *testing.T) {
	h := newHarness(t)
	h.source.posts = []models.Post{post("1", "GME")}
	h.cl.answers["GME"] = judged(models.SentimentNegative, -0.9, 1, strPtr("GME"))

	res, err := h.pipeline(t, consts.ModeBatch).Run(context.Background(), RunOptions{SkipTrading: true})
	require.NoError(t, err)
	assert.Nil(t, res.Trade)
	assert.Empty(t, h.broker.Orders())
	assert.Equal(t, 1, res.Analysis.Recorded)

	entries, err := h.ledger.Entries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDryRunLeavesPostsForLiveRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.source.posts = []models.Post{post("1", "GME")}
	h.cl.answers["GME"] = judged(models.SentimentNegative, -0.9, 1, strPtr("GME"))
	p := h.pipeline(t, consts.ModeIncremental)

	dry, err := p.Run(ctx, RunOptions{DryRun: true})
	require.NoError(t, err)
	require.NotNil(t, dry.Trade)
	assert.Equal(t, 1, dry.Trade.DryRun)
	assert.Empty(t, h.broker.Orders())

	entries, err := h.ledger.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	running, err := h.store.LoadRunning(ctx)
	require.NoError(t, err)
	assert.Empty(t, running)

	live, err := p.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, live.Analysis.Duplicates)
	assert.Equal(t, 1, live.Analysis.Recorded)
	require.Len(t, live.Aggregates, 1)
	assert.Equal(t, 1, live.Aggregates[0].PostCount)
	assert.Equal(t, 1, live.Trade.Placed)
	assert.Len(t, h.broker.Orders(), 1)

	entries, err = h.ledger.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunTradeErrorDoesNotFailRun(t *testing.T) {
	h := newHarness(t)
	h.broker.acctErr = errors.New("account locked")
	h.source.posts = []models.Post{post("1", "GME")}
	h.cl.answers["GME"] = judged(models.SentimentNegative, -0.9, 1, strPtr("GME"))

	res, err := h.pipeline(t, consts.ModeBatch).Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Error(t, res.TradeErr)
	assert.Equal(t, 1, res.Analysis.Recorded)
}

func TestNewRejectsUnknownMode(t *testing.T) {
	_, err := New(&fakeSource{}, NewAnalyzer(&fakeClassifier{}, ledger.NewMemory(), AnalyzerConfig{}), nil, Config{Mode: "weekly"})
	require.Error(t, err)
}
