// Package server exposes the read-only dashboard API.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dyike/SentiTrader/internal/aggregator"
	"github.com/dyike/SentiTrader/internal/broker"
	"github.com/dyike/SentiTrader/internal/ledger"
	"github.com/dyike/SentiTrader/internal/metrics"
	"github.com/dyike/SentiTrader/internal/models"
	"github.com/dyike/SentiTrader/internal/storage"
)

// RunReader is the run history the dashboard reads.
type RunReader interface {
	LatestAggregates(ctx context.Context) ([]*models.TickerAggregate, error)
	RecentRuns(ctx context.Context, limit int) ([]storage.RunRecord, error)
	RecentOrders(ctx context.Context, limit int) ([]storage.OrderRecord, error)
}

type Deps struct {
	Account   broker.AccountService
	Positions broker.PositionService
	Ledger    ledger.Store
	Runs      RunReader
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

type Server struct {
	deps   Deps
	engine *gin.Engine
	logger *zap.Logger
}

func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger.Named("server")}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := r.Group("/api")
	{
		api.GET("/account", s.getAccount)
		api.GET("/positions", s.getPositions)
		api.GET("/sentiment", s.getSentiment)
		api.GET("/sentiment/ledger", s.getLedgerSentiment)
		api.GET("/runs", s.getRuns)
		api.GET("/orders", s.getOrders)
	}

	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) getAccount(c *gin.Context) {
	if s.deps.Account == nil {
		unavailable(c, "account")
		return
	}
	acct, err := s.deps.Account.Account(c.Request.Context())
	if err != nil {
		s.fail(c, "account", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"portfolio_value":        acct.PortfolioValue,
		"buying_power":           acct.BuyingPower,
		"cash":                   acct.Cash,
		"day_trade_buying_power": acct.DayTradingBuyingPower,
		"pattern_day_trader":     acct.PatternDayTrader,
		"trading_blocked":        acct.TradingBlocked,
		"account_blocked":        acct.AccountBlocked,
		"created_at":             acct.CreatedAt,
	})
}

func (s *Server) getPositions(c *gin.Context) {
	if s.deps.Positions == nil {
		unavailable(c, "positions")
		return
	}
	positions, err := s.deps.Positions.Positions(c.Request.Context())
	if err != nil {
		s.fail(c, "positions", err)
		return
	}
	if positions == nil {
		positions = []models.Position{}
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) getSentiment(c *gin.Context) {
	if s.deps.Runs == nil {
		unavailable(c, "sentiment")
		return
	}
	aggs, err := s.deps.Runs.LatestAggregates(c.Request.Context())
	if err != nil {
		s.fail(c, "sentiment", err)
		return
	}
	c.JSON(http.StatusOK, byTicker(aggs))
}

// getLedgerSentiment folds every ledger entry into running averages.
func (s *Server) getLedgerSentiment(c *gin.Context) {
	if s.deps.Ledger == nil {
		unavailable(c, "sentiment")
		return
	}
	entries, err := s.deps.Ledger.Entries(c.Request.Context())
	if err != nil {
		s.logger.Warn("ledger read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Sentiment data not available"})
		return
	}
	c.JSON(http.StatusOK, byTicker(aggregator.FoldLedger(entries)))
}

func (s *Server) getRuns(c *gin.Context) {
	if s.deps.Runs == nil {
		unavailable(c, "runs")
		return
	}
	runs, err := s.deps.Runs.RecentRuns(c.Request.Context(), queryLimit(c))
	if err != nil {
		s.fail(c, "runs", err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) getOrders(c *gin.Context) {
	if s.deps.Runs == nil {
		unavailable(c, "orders")
		return
	}
	orders, err := s.deps.Runs.RecentOrders(c.Request.Context(), queryLimit(c))
	if err != nil {
		s.fail(c, "orders", err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) fail(c *gin.Context, what string, err error) {
	s.logger.Warn("request failed", zap.String("resource", what), zap.Error(err))
	c.JSON(http.StatusBadGateway, gin.H{"error": what + " unavailable: " + err.Error()})
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " not configured"})
}

func byTicker(aggs []*models.TickerAggregate) map[string]*models.TickerAggregate {
	out := make(map[string]*models.TickerAggregate, len(aggs))
	for _, a := range aggs {
		out[a.Ticker] = a
	}
	return out
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		return 50
	}
	return limit
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
