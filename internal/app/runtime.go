package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dyike/SentiTrader/config"
	"github.com/dyike/SentiTrader/internal/pipeline"
)

type EngineBuilder func(context.Context, config.Config) (*Engine, error)

type Option func(*Runtime)

func WithBuilder(builder EngineBuilder) Option {
	return func(r *Runtime) {
		if builder != nil {
			r.builder = builder
		}
	}
}

func WithNotifier(fn func(topic, payload string)) Option {
	return func(r *Runtime) {
		r.notify = fn
	}
}

func WithRuntimeLogger(l *zap.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// Runtime keeps the current engine and rebuilds it when the config file
// changes. Runs and reloads are serialized so a pass always sees one engine.
type Runtime struct {
	cfgMgr *config.Manager
	engine atomic.Pointer[Engine]
	runMu  sync.Mutex

	builder EngineBuilder
	notify  func(string, string)
	logger  *zap.Logger
	cancel  context.CancelFunc
}

func NewRuntime(ctx context.Context, cfgMgr *config.Manager, opts ...Option) (*Runtime, error) {
	if cfgMgr == nil {
		return nil, fmt.Errorf("config manager is required")
	}

	rt := &Runtime{
		cfgMgr: cfgMgr,
		builder: func(ctx context.Context, cfg config.Config) (*Engine, error) {
			return BuildEngine(ctx, cfg)
		},
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(rt)
	}

	if err := rt.reload(ctx, cfgMgr.Get()); err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel
	if err := cfgMgr.Watch(watchCtx, func(cfg config.Config) {
		if err := rt.reload(watchCtx, cfg); err != nil {
			rt.logger.Warn("engine reload failed, keeping previous engine", zap.Error(err))
		}
	}); err != nil {
		cancel()
		_ = rt.Engine().Close()
		return nil, err
	}

	return rt, nil
}

func (r *Runtime) Engine() *Engine {
	return r.engine.Load()
}

// Run executes one pipeline pass on the current engine.
func (r *Runtime) Run(ctx context.Context, opts pipeline.RunOptions) (*pipeline.RunResult, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	engine := r.Engine()
	if engine == nil || engine.Pipeline == nil {
		return nil, errors.New("engine not ready")
	}
	if engine.Config.DryRun {
		opts.DryRun = true
	}
	return engine.Pipeline.Run(ctx, opts)
}

// Loop runs a pass every interval until ctx is done. The first pass starts
// immediately. A failed pass is logged and the loop continues.
func (r *Runtime) Loop(ctx context.Context, interval time.Duration, opts pipeline.RunOptions, onResult func(*pipeline.RunResult, error)) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := r.Run(ctx, opts)
		if err != nil {
			r.logger.Error("scheduled run failed", zap.Error(err))
		}
		if onResult != nil {
			onResult(res, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Runtime) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if old := r.engine.Swap(nil); old != nil {
		if err := old.Close(); err != nil {
			r.logger.Warn("engine close failed", zap.Error(err))
		}
	}
}

func (r *Runtime) UpdateConfigJSON(jsonStr string) error {
	return r.cfgMgr.UpdateFromJSON(jsonStr)
}

func (r *Runtime) reload(ctx context.Context, cfg config.Config) error {
	if err := cfg.ValidateCredentials(); err != nil {
		r.notifyFailure(err)
		return err
	}
	engine, err := r.builder(ctx, cfg)
	if err != nil {
		r.notifyFailure(err)
		return err
	}

	r.runMu.Lock()
	old := r.engine.Swap(engine)
	r.runMu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			r.logger.Warn("previous engine close failed", zap.Error(err))
		}
	}
	r.logger.Info("engine ready", zap.Uint64("version", engine.Version))
	r.notifySuccess(engine)
	return nil
}

func (r *Runtime) notifySuccess(engine *Engine) {
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"version":  engine.Version,
		"built_at": engine.BuiltAt.UTC().Format(time.RFC3339),
	})
	r.notify("engine.reloaded", string(payload))
}

func (r *Runtime) notifyFailure(err error) {
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"error": err.Error(),
	})
	r.notify("engine.reload_failed", string(payload))
}
