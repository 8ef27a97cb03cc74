package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonboulle/clockwork"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/dyike/SentiTrader/consts"
	"github.com/dyike/SentiTrader/internal/models"
)

// RunStore records runs, their aggregates and orders, and the running
// aggregates that seed incremental mode.
type RunStore struct {
	db    *gorm.DB
	clock clockwork.Clock
}

type Option func(*RunStore)

func WithClock(c clockwork.Clock) Option {
	return func(s *RunStore) {
		if c != nil {
			s.clock = c
		}
	}
}

func Open(path string, opts ...Option) (*RunStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, p := range pragmas {
		if err := db.Exec(p).Error; err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if err := db.AutoMigrate(&RunRecord{}, &AggregateRecord{}, &OrderRecord{}, &RunningAggregate{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate run store: %w", err)
	}

	s := &RunStore{db: db, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *RunStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *RunStore) StartRun(ctx context.Context, run RunRecord) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.clock.Now()
	}
	if run.Status == "" {
		run.Status = consts.State_Running
	}
	return s.db.WithContext(ctx).Create(&run).Error
}

// FinishRun stores the final counters of a run. A non-nil runErr marks the
// run failed.
func (s *RunStore) FinishRun(ctx context.Context, run RunRecord, runErr error) error {
	now := s.clock.Now()
	run.FinishedAt = &now
	run.Status = consts.State_Completed
	if runErr != nil {
		run.Status = consts.State_Failed
		run.Error = runErr.Error()
	}
	return s.db.WithContext(ctx).Model(&RunRecord{}).Where("id = ?", run.ID).Updates(map[string]any{
		"status":         run.Status,
		"error":          run.Error,
		"posts_fetched":  run.PostsFetched,
		"posts_judged":   run.PostsJudged,
		"posts_skipped":  run.PostsSkipped,
		"posts_failed":   run.PostsFailed,
		"judge_fallback": run.JudgeFallback,
		"orders_placed":  run.OrdersPlaced,
		"orders_failed":  run.OrdersFailed,
		"finished_at":    run.FinishedAt,
	}).Error
}

func (s *RunStore) SaveAggregates(ctx context.Context, runID string, aggs []*models.TickerAggregate) error {
	if len(aggs) == 0 {
		return nil
	}
	now := s.clock.Now()
	records := make([]AggregateRecord, 0, len(aggs))
	for _, agg := range aggs {
		posts, err := json.Marshal(agg.Posts)
		if err != nil {
			return fmt.Errorf("encode posts for %s: %w", agg.Ticker, err)
		}
		records = append(records, AggregateRecord{
			RunID:     runID,
			Ticker:    agg.Ticker,
			Score:     agg.Score,
			PostCount: agg.PostCount,
			PostsJSON: string(posts),
			CreatedAt: now,
		})
	}
	return s.db.WithContext(ctx).Create(&records).Error
}

func (s *RunStore) SaveOrder(ctx context.Context, rec OrderRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock.Now()
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// LoadRunning returns the persisted running aggregates in ticker order.
func (s *RunStore) LoadRunning(ctx context.Context) ([]*models.TickerAggregate, error) {
	var rows []RunningAggregate
	if err := s.db.WithContext(ctx).Order("ticker").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load running aggregates: %w", err)
	}
	out := make([]*models.TickerAggregate, 0, len(rows))
	for _, r := range rows {
		out = append(out, &models.TickerAggregate{Ticker: r.Ticker, Score: r.Score, PostCount: r.PostCount})
	}
	return out, nil
}

// SaveRunning upserts running aggregates by ticker.
func (s *RunStore) SaveRunning(ctx context.Context, aggs []*models.TickerAggregate) error {
	if len(aggs) == 0 {
		return nil
	}
	now := s.clock.Now()
	rows := make([]RunningAggregate, 0, len(aggs))
	for _, agg := range aggs {
		rows = append(rows, RunningAggregate{Ticker: agg.Ticker, Score: agg.Score, PostCount: agg.PostCount, UpdatedAt: now})
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ticker"}},
		DoUpdates: clause.AssignmentColumns([]string{"score", "post_count", "updated_at"}),
	}).Create(&rows).Error
}

func (s *RunStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	var runs []RunRecord
	err := s.db.WithContext(ctx).Order("started_at desc").Limit(normalizeLimit(limit)).Find(&runs).Error
	return runs, err
}

func (s *RunStore) RecentOrders(ctx context.Context, limit int) ([]OrderRecord, error) {
	var orders []OrderRecord
	err := s.db.WithContext(ctx).Order("created_at desc, id desc").Limit(normalizeLimit(limit)).Find(&orders).Error
	return orders, err
}

// LatestAggregates returns the aggregates of the most recent completed run
// that produced any.
func (s *RunStore) LatestAggregates(ctx context.Context) ([]*models.TickerAggregate, error) {
	var latest AggregateRecord
	err := s.db.WithContext(ctx).
		Joins("JOIN run_records ON run_records.id = aggregate_records.run_id").
		Where("run_records.status = ?", consts.State_Completed).
		Order("aggregate_records.created_at desc, aggregate_records.id desc").
		First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []*models.TickerAggregate{}, nil
	}
	if err != nil {
		return nil, err
	}

	var rows []AggregateRecord
	if err := s.db.WithContext(ctx).Where("run_id = ?", latest.RunID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*models.TickerAggregate, 0, len(rows))
	for _, r := range rows {
		agg := &models.TickerAggregate{Ticker: r.Ticker, Score: r.Score, PostCount: r.PostCount}
		if r.PostsJSON != "" {
			if err := json.Unmarshal([]byte(r.PostsJSON), &agg.Posts); err != nil {
				return nil, fmt.Errorf("decode posts for %s: %w", r.Ticker, err)
			}
		}
		out = append(out, agg)
	}
	return out, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}
