package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dyike/SentiTrader/consts"
	"github.com/dyike/SentiTrader/internal/aggregator"
	"github.com/dyike/SentiTrader/internal/dataflows"
	"github.com/dyike/SentiTrader/internal/metrics"
	"github.com/dyike/SentiTrader/internal/models"
	"github.com/dyike/SentiTrader/internal/storage"
)

// RunStore is the persistence the pipeline writes run history to.
type RunStore interface {
	OrderRecorder
	StartRun(ctx context.Context, run storage.RunRecord) error
	FinishRun(ctx context.Context, run storage.RunRecord, runErr error) error
	SaveAggregates(ctx context.Context, runID string, aggs []*models.TickerAggregate) error
	LoadRunning(ctx context.Context) ([]*models.TickerAggregate, error)
	SaveRunning(ctx context.Context, aggs []*models.TickerAggregate) error
}

type Config struct {
	Query dataflows.Query
	Mode  string
}

// Pipeline runs fetch, analysis and trading as one pass.
type Pipeline struct {
	source   dataflows.PostSource
	analyzer *Analyzer
	trader   *Trader
	store    RunStore
	cfg      Config
	clock    clockwork.Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

type Option func(*Pipeline)

func WithRunStore(s RunStore) Option {
	return func(p *Pipeline) { p.store = s }
}

func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.clock = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New builds a pipeline. trader may be nil for analysis-only use.
func New(source dataflows.PostSource, analyzer *Analyzer, trader *Trader, cfg Config, opts ...Option) (*Pipeline, error) {
	if source == nil {
		return nil, errors.New("post source is required")
	}
	if analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = consts.ModeIncremental
	}
	if _, err := aggregator.New(cfg.Mode, nil); err != nil {
		return nil, err
	}
	p := &Pipeline{
		source:   source,
		analyzer: analyzer,
		trader:   trader,
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("pipeline")
	return p, nil
}

// RunOptions override the configured query for one run.
type RunOptions struct {
	DryRun      bool
	SkipTrading bool
	Subreddit   string
	Limit       int
	Mode        string
}

type RunResult struct {
	RunID      string
	Mode       string
	StartedAt  time.Time
	Duration   time.Duration
	Analysis   AnalysisReport
	Aggregates []*models.TickerAggregate
	Trade      *TradeReport
	TradeErr   error
}

// Run executes one pass. A failed fetch fails the run; per-post and
// per-ticker failures are only counted.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (result *RunResult, err error) {
	q := p.cfg.Query
	if opts.Subreddit != "" {
		q.Subreddit = opts.Subreddit
	}
	if opts.Limit > 0 {
		q.Limit = opts.Limit
	}
	mode := p.cfg.Mode
	if opts.Mode != "" {
		mode = opts.Mode
	}

	result = &RunResult{RunID: uuid.NewString(), Mode: mode, StartedAt: p.clock.Now()}
	log := p.logger.With(zap.String("run_id", result.RunID))
	record := storage.RunRecord{ID: result.RunID, Mode: mode, Subreddit: q.Subreddit, DryRun: opts.DryRun, StartedAt: result.StartedAt}

	if p.store != nil {
		if err := p.store.StartRun(ctx, record); err != nil {
			log.Warn("run record failed", zap.Error(err))
		}
	}
	defer func() {
		result.Duration = p.clock.Since(result.StartedAt)
		p.metrics.ObserveRun(result.Duration)
		p.finish(ctx, record, result, err)
		if err != nil {
			log.Error("run failed", zap.Error(err), zap.Duration("duration", result.Duration))
			return
		}
		log.Info("run completed",
			zap.Int("posts", result.Analysis.Fetched),
			zap.Int("recorded", result.Analysis.Recorded),
			zap.Int("tickers", len(result.Aggregates)),
			zap.Duration("duration", result.Duration))
	}()

	agg, err := p.newAggregator(ctx, mode, log)
	if err != nil {
		return result, err
	}

	log.Info("fetching posts", zap.String("subreddit", q.Subreddit), zap.String("query", q.SearchQuery), zap.Int("limit", q.Limit))
	posts, err := p.source.Posts(ctx, q)
	if err != nil {
		return result, fmt.Errorf("fetch posts: %w", err)
	}

	// Dry and analysis-only runs leave the ledger and running averages as
	// they were.
	preview := opts.DryRun || opts.SkipTrading || p.trader == nil
	if preview {
		result.Analysis, err = p.analyzer.Preview(ctx, posts, agg)
	} else {
		result.Analysis, err = p.analyzer.Analyze(ctx, posts, agg)
	}
	if err != nil {
		return result, fmt.Errorf("analyze posts: %w", err)
	}
	result.Aggregates = agg.Results()
	for _, a := range result.Aggregates {
		p.metrics.SetTickerScore(a.Ticker, a.Score)
	}

	if p.store != nil {
		if err := p.store.SaveAggregates(ctx, result.RunID, result.Aggregates); err != nil {
			log.Warn("aggregate record failed", zap.Error(err))
		}
		if mode == consts.ModeIncremental && !preview {
			if err := p.store.SaveRunning(ctx, result.Aggregates); err != nil {
				log.Warn("running aggregate save failed", zap.Error(err))
			}
		}
	}

	if opts.SkipTrading || p.trader == nil {
		return result, nil
	}

	targets := touchedAggregates(result.Aggregates, result.Analysis.Touched)
	trade, err := p.trader.Trade(ctx, result.RunID, targets, opts.DryRun)
	result.Trade = &trade
	if err != nil {
		if ctx.Err() != nil {
			return result, err
		}
		result.TradeErr = err
		log.Error("trading pass aborted", zap.Error(err))
	}
	return result, nil
}

func (p *Pipeline) newAggregator(ctx context.Context, mode string, log *zap.Logger) (aggregator.Aggregator, error) {
	var seed []*models.TickerAggregate
	if mode == consts.ModeIncremental && p.store != nil {
		running, err := p.store.LoadRunning(ctx)
		if err != nil {
			log.Warn("running aggregates unavailable, starting empty", zap.Error(err))
		} else {
			seed = running
		}
	}
	return aggregator.New(mode, seed)
}

func (p *Pipeline) finish(ctx context.Context, record storage.RunRecord, result *RunResult, runErr error) {
	if p.store == nil {
		return
	}
	a := result.Analysis
	record.PostsFetched = a.Fetched
	record.PostsJudged = a.Judged
	record.PostsSkipped = a.Duplicates + a.Stale + a.NoTicker
	record.PostsFailed = a.Failed
	record.JudgeFallback = a.Fallbacks
	if result.Trade != nil {
		record.OrdersPlaced = result.Trade.Placed
		record.OrdersFailed = result.Trade.Failed
	}
	if err := p.store.FinishRun(context.WithoutCancel(ctx), record, runErr); err != nil {
		p.logger.Warn("run record failed", zap.String("run_id", record.ID), zap.Error(err))
	}
}

// touchedAggregates keeps only tickers that received posts in this run, so
// resumed aggregates do not trigger repeat orders on their own.
func touchedAggregates(aggs []*models.TickerAggregate, touched []string) []*models.TickerAggregate {
	keep := make(map[string]struct{}, len(touched))
	for _, t := range touched {
		keep[t] = struct{}{}
	}
	out := make([]*models.TickerAggregate, 0, len(touched))
	for _, a := range aggs {
		if _, ok := keep[a.Ticker]; ok {
			out = append(out, a)
		}
	}
	return out
}
