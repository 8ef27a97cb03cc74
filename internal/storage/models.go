package storage

import (
	"time"
)

// RunRecord is one pipeline pass.
type RunRecord struct {
	ID            string     `gorm:"primaryKey" json:"id"`
	Mode          string     `json:"mode"`
	Subreddit     string     `json:"subreddit"`
	DryRun        bool       `json:"dry_run"`
	Status        string     `gorm:"index" json:"status"`
	Error         string     `json:"error,omitempty"`
	PostsFetched  int        `json:"posts_fetched"`
	PostsJudged   int        `json:"posts_judged"`
	PostsSkipped  int        `json:"posts_skipped"`
	PostsFailed   int        `json:"posts_failed"`
	JudgeFallback int        `json:"judge_fallback"`
	OrdersPlaced  int        `json:"orders_placed"`
	OrdersFailed  int        `json:"orders_failed"`
	StartedAt     time.Time  `gorm:"index" json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// AggregateRecord is one ticker's aggregate as produced by a run.
type AggregateRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RunID     string    `gorm:"index" json:"run_id"`
	Ticker    string    `gorm:"index" json:"ticker"`
	Score     float64   `json:"avg_score"`
	PostCount int       `json:"post_count"`
	PostsJSON string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderRecord is the outcome of one allocation decision.
type OrderRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	RunID         string    `gorm:"index" json:"run_id"`
	Ticker        string    `gorm:"index" json:"ticker"`
	Side          string    `json:"side"`
	Quantity      int64     `json:"quantity"`
	Fraction      float64   `json:"fraction"`
	Price         float64   `json:"price"`
	Score         float64   `json:"score"`
	Status        string    `json:"status"`
	OrderID       string    `json:"order_id,omitempty"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// RunningAggregate carries the incremental average across runs.
type RunningAggregate struct {
	Ticker    string    `gorm:"primaryKey" json:"ticker"`
	Score     float64   `json:"avg_score"`
	PostCount int       `json:"post_count"`
	UpdatedAt time.Time `json:"updated_at"`
}
