package dataflows

import (
	"context"

	"github.com/dyike/SentiTrader/internal/models"
)

// Query selects posts from one community.
type Query struct {
	Subreddit   string
	SearchQuery string
	Sort        string // relevance, hot, top, new, comments
	TimeFilter  string // hour, day, week, month, year, all
	Limit       int
}

// PostSource fetches candidate posts for a run.
type PostSource interface {
	Posts(ctx context.Context, q Query) ([]models.Post, error)
}
