// Package pipeline wires the post source, judge, ledger, aggregator,
// allocation policy and order submitter into one run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dyike/SentiTrader/consts"
	"github.com/dyike/SentiTrader/internal/aggregator"
	"github.com/dyike/SentiTrader/internal/cache"
	"github.com/dyike/SentiTrader/internal/judge"
	"github.com/dyike/SentiTrader/internal/ledger"
	"github.com/dyike/SentiTrader/internal/metrics"
	"github.com/dyike/SentiTrader/internal/models"
	"github.com/dyike/SentiTrader/internal/utils"
)

const (
	titleSnippetLen = 100
	progressEvery   = 10
)

// Classifier is the part of *judge.Judge the analyzer needs.
type Classifier interface {
	Judge(ctx context.Context, text string) judge.Result
}

type AnalyzerConfig struct {
	ExcludedTickers []string
	MaxPostAge      time.Duration // zero disables the recency filter
	PostDelay       time.Duration // pause after each classifier call
}

// Analyzer turns posts into per-ticker aggregates, one post at a time.
type Analyzer struct {
	classifier Classifier
	ledger     ledger.Store
	cache      *cache.JudgmentCache
	cfg        AnalyzerConfig
	clock      clockwork.Clock
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

type AnalyzerOption func(*Analyzer)

func WithJudgmentCache(c *cache.JudgmentCache) AnalyzerOption {
	return func(a *Analyzer) { a.cache = c }
}

func WithAnalyzerClock(c clockwork.Clock) AnalyzerOption {
	return func(a *Analyzer) {
		if c != nil {
			a.clock = c
		}
	}
}

func WithAnalyzerLogger(l *zap.Logger) AnalyzerOption {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithAnalyzerMetrics(m *metrics.Metrics) AnalyzerOption {
	return func(a *Analyzer) { a.metrics = m }
}

func NewAnalyzer(classifier Classifier, store ledger.Store, cfg AnalyzerConfig, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		classifier: classifier,
		ledger:     store,
		cfg:        cfg,
		clock:      clockwork.NewRealClock(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("analyzer")
	return a
}

// AnalysisReport counts what happened to each fetched post.
type AnalysisReport struct {
	Fetched    int
	Judged     int // classifier calls
	Cached     int // judgments served from the cache
	Duplicates int
	Stale      int
	NoTicker   int
	Failed     int
	Fallbacks  int
	Recorded   int // posts ledgered and aggregated
	// Touched lists tickers that received an observation in this pass, in
	// first-seen order.
	Touched []string
}

func (r *AnalysisReport) count(outcome string) {
	switch outcome {
	case consts.Post_Duplicate:
		r.Duplicates++
	case consts.Post_Stale:
		r.Stale++
	case consts.Post_NoTicker:
		r.NoTicker++
	case consts.Post_Failed:
		r.Failed++
	}
}

type postResult struct {
	outcome  string
	ticker   string
	recorded bool
	judged   bool
	cached   bool
	fallback bool
}

// pass is the per-call state of one Analyze or Preview.
type pass struct {
	store   ledger.Store
	seen    map[string]struct{}
	preview bool
}

// Analyze processes posts in order and feeds agg. A failing post is logged
// and skipped; only cancellation stops the pass early.
func (a *Analyzer) Analyze(ctx context.Context, posts []models.Post, agg aggregator.Aggregator) (AnalysisReport, error) {
	return a.analyze(ctx, posts, agg, &pass{store: a.ledger, seen: make(map[string]struct{}, len(posts))})
}

// Preview runs the same pass against an in-memory overlay of the ledger, so
// nothing it sees counts as processed for later runs. Judgments of tickered
// posts are cached so a following live run does not pay for them again.
func (a *Analyzer) Preview(ctx context.Context, posts []models.Post, agg aggregator.Aggregator) (AnalysisReport, error) {
	overlay := ledger.NewOverlay(a.ledger)
	defer overlay.Close()
	return a.analyze(ctx, posts, agg, &pass{store: overlay, seen: make(map[string]struct{}, len(posts)), preview: true})
}

func (a *Analyzer) analyze(ctx context.Context, posts []models.Post, agg aggregator.Aggregator, p *pass) (AnalysisReport, error) {
	report := AnalysisReport{Fetched: len(posts)}
	touched := make(map[string]struct{})

	for i, post := range posts {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res, err := a.processSafe(ctx, post, agg, p)
		if err != nil {
			res.outcome = consts.Post_Failed
			a.logger.Error("post failed", zap.String("post_id", post.ID), zap.Error(err))
		}
		report.count(res.outcome)
		a.metrics.PostProcessed(res.outcome)
		if res.judged {
			report.Judged++
		}
		if res.cached {
			report.Cached++
		}
		if res.fallback {
			report.Fallbacks++
		}
		if res.recorded {
			report.Recorded++
			if _, ok := touched[res.ticker]; !ok {
				touched[res.ticker] = struct{}{}
				report.Touched = append(report.Touched, res.ticker)
			}
		}

		if (i+1)%progressEvery == 0 {
			a.logger.Info("progress",
				zap.Int("processed", i+1),
				zap.Int("total", len(posts)),
				zap.Int("judged", report.Judged))
		}

		if res.judged && a.cfg.PostDelay > 0 && i < len(posts)-1 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-a.clock.After(a.cfg.PostDelay):
			}
		}
	}
	return report, nil
}

func (a *Analyzer) processSafe(ctx context.Context, post models.Post, agg aggregator.Aggregator, p *pass) (res postResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing post %s: %v", post.ID, r)
		}
	}()
	return a.process(ctx, post, agg, p)
}

func (a *Analyzer) process(ctx context.Context, post models.Post, agg aggregator.Aggregator, p *pass) (postResult, error) {
	if _, ok := p.seen[post.ID]; ok {
		return postResult{outcome: consts.Post_Duplicate}, nil
	}
	p.seen[post.ID] = struct{}{}

	exists, err := p.store.Exists(ctx, post.ID)
	if err != nil {
		a.logger.Warn("ledger lookup failed, treating post as new", zap.String("post_id", post.ID), zap.Error(err))
	}
	if exists {
		a.logger.Debug("skipping processed post", zap.String("post_id", post.ID), zap.String("title", utils.Snippet(post.Title, 50)))
		return postResult{outcome: consts.Post_Duplicate}, nil
	}

	if a.cfg.MaxPostAge > 0 && !post.CreatedAt.IsZero() && a.clock.Since(post.CreatedAt) > a.cfg.MaxPostAge {
		return postResult{outcome: consts.Post_Stale}, nil
	}

	res := postResult{outcome: consts.Post_Cached, cached: true}
	judgment, hit := a.cache.Get(post.ID)
	if !hit {
		res.cached = false
		text := utils.CleanText(post.Title + " " + post.Body)
		a.logger.Info("analyzing post", zap.String("post_id", post.ID), zap.String("title", utils.Snippet(post.Title, 80)))
		result := a.classifier.Judge(ctx, text)
		judgment = result.Judgment
		res.outcome = consts.Post_Judged
		res.judged = true
		res.fallback = result.Degraded()
	}

	ticker, ok := aggregator.ResolveTicker(judgment.Ticker, a.cfg.ExcludedTickers)
	if !ok {
		res.outcome = consts.Post_NoTicker
		if res.judged && !res.fallback {
			if err := a.cache.Set(post.ID, judgment); err != nil {
				a.logger.Warn("judgment cache write failed", zap.String("post_id", post.ID), zap.Error(err))
			}
		}
		return res, nil
	}

	if p.preview && res.judged && !res.fallback {
		if err := a.cache.Set(post.ID, judgment); err != nil {
			a.logger.Warn("judgment cache write failed", zap.String("post_id", post.ID), zap.Error(err))
		}
	}

	inserted, err := p.store.Record(ctx, models.LedgerEntry{
		PostID:        post.ID,
		Ticker:        ticker,
		WeightedScore: judgment.WeightedScore(),
		TitleSnippet:  utils.Snippet(post.Title, titleSnippetLen),
		ProcessedAt:   a.clock.Now(),
	})
	if err != nil {
		return res, fmt.Errorf("record post %s: %w", post.ID, err)
	}
	if !inserted {
		res.outcome = consts.Post_Duplicate
		return res, nil
	}

	agg.Add(ticker, aggregator.Observation{Title: post.Title, Judgment: judgment})
	res.ticker = ticker
	res.recorded = true
	return res, nil
}
