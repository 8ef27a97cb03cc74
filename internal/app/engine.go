package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dyike/SentiTrader/config"
	"github.com/dyike/SentiTrader/consts"
	"github.com/dyike/SentiTrader/internal/broker"
	"github.com/dyike/SentiTrader/internal/cache"
	"github.com/dyike/SentiTrader/internal/dataflows"
	"github.com/dyike/SentiTrader/internal/judge"
	"github.com/dyike/SentiTrader/internal/ledger"
	"github.com/dyike/SentiTrader/internal/llm"
	"github.com/dyike/SentiTrader/internal/metrics"
	"github.com/dyike/SentiTrader/internal/pipeline"
	"github.com/dyike/SentiTrader/internal/retry"
	"github.com/dyike/SentiTrader/internal/storage"
)

// Engine is every client built from one config snapshot.
type Engine struct {
	Config   config.Config
	BuiltAt  time.Time
	Version  uint64
	Pipeline *pipeline.Pipeline
	Broker   broker.Broker
	Quotes   broker.QuoteService
	Ledger   ledger.Store
	Runs     *storage.RunStore
	Metrics  *metrics.Metrics

	closers []io.Closer
}

var engineSeq atomic.Uint64

type buildOptions struct {
	logger    *zap.Logger
	metrics   *metrics.Metrics
	clock     clockwork.Clock
	chatModel model.BaseChatModel
	source    dataflows.PostSource
	broker    broker.Broker
}

type EngineOption func(*buildOptions)

func WithLogger(l *zap.Logger) EngineOption {
	return func(o *buildOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(o *buildOptions) { o.metrics = m }
}

func WithClock(c clockwork.Clock) EngineOption {
	return func(o *buildOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithChatModel replaces the provider chat model.
func WithChatModel(cm model.BaseChatModel) EngineOption {
	return func(o *buildOptions) { o.chatModel = cm }
}

// WithPostSource replaces the Reddit client.
func WithPostSource(s dataflows.PostSource) EngineOption {
	return func(o *buildOptions) { o.source = s }
}

// WithBroker replaces the configured brokerage.
func WithBroker(b broker.Broker) EngineOption {
	return func(o *buildOptions) { o.broker = b }
}

// BuildEngine constructs all clients for cfg. Nothing here is global; a
// reload builds a fresh engine and closes the old one.
func BuildEngine(ctx context.Context, cfg config.Config, opts ...EngineOption) (_ *Engine, err error) {
	o := buildOptions{logger: zap.NewNop(), clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		Config:  cfg,
		BuiltAt: o.clock.Now(),
		Version: engineSeq.Add(1),
		Metrics: o.metrics,
	}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	cm := o.chatModel
	if cm == nil {
		if cm, err = llm.NewChatModel(ctx, &cfg); err != nil {
			return nil, err
		}
	}
	j, err := judge.New(ctx, cm,
		judge.WithRetry(retry.Config{
			MaxAttempts: cfg.JudgeMaxAttempts,
			BaseDelay:   cfg.JudgeBaseDelay,
			MaxDelay:    30 * time.Second,
			Multiplier:  2,
			Clock:       o.clock,
		}),
		judge.WithLogger(o.logger),
		judge.WithMetrics(o.metrics))
	if err != nil {
		return nil, err
	}

	if e.Ledger, err = OpenLedger(ctx, cfg, o.logger); err != nil {
		return nil, err
	}
	e.closers = append(e.closers, e.Ledger)

	e.Runs, err = storage.Open(cfg.StorePath, storage.WithClock(o.clock))
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, e.Runs)

	e.Broker = o.broker
	if e.Broker == nil {
		if e.Broker, err = NewBroker(cfg, o.logger, o.clock); err != nil {
			return nil, err
		}
		if c, ok := e.Broker.(io.Closer); ok {
			e.closers = append(e.closers, c)
		}
	}
	e.Quotes = e.Broker
	if cfg.QuoteProvider == consts.QuoteYahoo {
		e.Quotes = broker.NewYahooQuotes()
	}

	source := o.source
	if source == nil {
		source = dataflows.NewRedditClient(dataflows.RedditConfig{
			BaseURL:      cfg.RedditBaseURL,
			OAuthURL:     cfg.RedditOAuthURL,
			ClientID:     cfg.RedditClientID,
			ClientSecret: cfg.RedditSecret,
			UserAgent:    cfg.RedditUserAgent,
			Timeout:      cfg.RedditHTTPTimeout,
			Retry: retry.Config{
				MaxAttempts: 3,
				BaseDelay:   time.Second,
				MaxDelay:    10 * time.Second,
				Multiplier:  2,
				Clock:       o.clock,
			},
		}, o.logger, o.clock)
	}

	judgments := cache.New(filepath.Join(cfg.DataCacheDir, "judgments"), judge.InstructionVersion,
		cfg.JudgmentCacheTTL, cfg.CacheEnabled, cache.WithClock(o.clock), cache.WithLogger(o.logger))

	analyzer := pipeline.NewAnalyzer(j, e.Ledger, pipeline.AnalyzerConfig{
		ExcludedTickers: cfg.ExcludedTickers,
		MaxPostAge:      time.Duration(cfg.MaxPostAgeHours) * time.Hour,
		PostDelay:       cfg.PostDelay,
	},
		pipeline.WithJudgmentCache(judgments),
		pipeline.WithAnalyzerClock(o.clock),
		pipeline.WithAnalyzerLogger(o.logger),
		pipeline.WithAnalyzerMetrics(o.metrics))

	trader := pipeline.NewTrader(e.Broker, e.Quotes, broker.NewSubmitter(e.Broker, cfg.OrderDelay, o.logger),
		pipeline.WithOrderRecorder(e.Runs),
		pipeline.WithTraderLogger(o.logger),
		pipeline.WithTraderMetrics(o.metrics))

	e.Pipeline, err = pipeline.New(source, analyzer, trader, pipeline.Config{
		Query: dataflows.Query{
			Subreddit:   cfg.Subreddit,
			SearchQuery: cfg.SearchQuery,
			Sort:        cfg.SearchSort,
			TimeFilter:  cfg.SearchTime,
			Limit:       cfg.PostLimit,
		},
		Mode: cfg.AggregationMode,
	},
		pipeline.WithRunStore(e.Runs),
		pipeline.WithClock(o.clock),
		pipeline.WithLogger(o.logger),
		pipeline.WithMetrics(o.metrics))
	if err != nil {
		return nil, err
	}
	return e, nil
}

// NewBroker builds the configured brokerage client. Longport clients hold
// connections and must be closed.
func NewBroker(cfg config.Config, logger *zap.Logger, clock clockwork.Clock) (broker.Broker, error) {
	switch cfg.BrokerProvider {
	case consts.BrokerAlpaca:
		return broker.NewAlpacaClient(broker.AlpacaConfig{
			TradingURL: cfg.AlpacaTradingURL,
			DataURL:    cfg.AlpacaDataURL,
			KeyID:      cfg.AlpacaAPIKey,
			SecretKey:  cfg.AlpacaAPISecret,
			Timeout:    cfg.BrokerHTTPTimeout,
		}, logger, clock), nil
	case consts.BrokerLongport:
		return broker.NewLongportClient(broker.LongportConfig{
			AppKey:      cfg.LongportAppKey,
			AppSecret:   cfg.LongportAppSecret,
			AccessToken: cfg.LongportAccessToken,
		}, logger, clock)
	case consts.BrokerPaper:
		return broker.NewPaperBroker(cfg.PaperCash, broker.NewYahooQuotes(), clock), nil
	}
	return nil, fmt.Errorf("unknown broker provider %q", cfg.BrokerProvider)
}

// OpenLedger opens the configured ledger backend.
func OpenLedger(ctx context.Context, cfg config.Config, logger *zap.Logger) (ledger.Store, error) {
	store, err := ledger.Open(ctx, cfg.LedgerBackend, ledger.Options{
		Path:          ledgerPath(cfg),
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return store, nil
}

// ledgerPath gives the JSON backend a .json file when the path still has
// the sqlite default extension.
func ledgerPath(cfg config.Config) string {
	if cfg.LedgerBackend == consts.LedgerJSON && strings.EqualFold(filepath.Ext(cfg.LedgerPath), ".db") {
		return strings.TrimSuffix(cfg.LedgerPath, filepath.Ext(cfg.LedgerPath)) + ".json"
	}
	return cfg.LedgerPath
}

// Close releases stores and broker connections in reverse build order.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
