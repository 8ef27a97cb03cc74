package debug

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cloudwego/eino-ext/devops"
	"github.com/cloudwego/eino-ext/devops/model"
	"go.uber.org/zap"

	"github.com/dyike/SentiTrader/config"
)

// EinoDebugger starts the eino devops server so the judge chain can be
// inspected while the daemon runs.
type EinoDebugger struct {
	enabled bool
	port    int
	logger  *zap.Logger
}

func NewEinoDebugger(cfg *config.Config, logger *zap.Logger) *EinoDebugger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EinoDebugger{
		enabled: cfg.EinoDebugEnabled,
		port:    cfg.EinoDebugPort,
		logger:  logger.Named("eino_debug"),
	}
}

// Initialize must run before the judge chain is compiled.
func (d *EinoDebugger) Initialize(ctx context.Context) error {
	if !d.enabled {
		return nil
	}

	d.logger.Info("initializing eino debug server", zap.Int("port", d.port))
	if err := devops.Init(ctx, d.options()...); err != nil {
		return fmt.Errorf("failed to initialize Eino debug plugin: %w", err)
	}
	d.logger.Info("eino debug server ready", zap.String("url", d.URL()))
	return nil
}

func (d *EinoDebugger) options() []model.DevOption {
	if d.port <= 0 {
		return nil
	}
	return []model.DevOption{devops.WithDevServerPort(strconv.Itoa(d.port))}
}

func (d *EinoDebugger) IsEnabled() bool {
	return d.enabled
}

func (d *EinoDebugger) URL() string {
	if !d.enabled {
		return ""
	}
	return fmt.Sprintf("http://localhost:%d", d.port)
}
