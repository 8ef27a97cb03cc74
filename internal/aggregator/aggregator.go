// Package aggregator folds per-post judgments into per-ticker scores.
package aggregator

import (
	"fmt"
	"strings"

	"github.com/dyike/SentiTrader/consts"
	"github.com/dyike/SentiTrader/internal/models"
	"github.com/dyike/SentiTrader/internal/utils"
)

// summaryTitleLen bounds the title kept in a post summary.
const summaryTitleLen = 100

// Observation is one judged post attributed to a ticker.
type Observation struct {
	Title    string
	Judgment models.Judgment
}

func (o Observation) summary() models.PostSummary {
	return models.PostSummary{
		Title:      utils.Snippet(o.Title, summaryTitleLen),
		Sentiment:  o.Judgment.Sentiment,
		Score:      o.Judgment.Compound,
		Confidence: o.Judgment.Confidence,
	}
}

// Aggregator accumulates observations. Results lists tickers in the order
// they were first seen; tickers without observations never appear.
type Aggregator interface {
	Add(ticker string, obs Observation)
	Results() []*models.TickerAggregate
}

// New returns the aggregator for mode. seed only applies to incremental mode.
func New(mode string, seed []*models.TickerAggregate) (Aggregator, error) {
	switch mode {
	case consts.ModeBatch:
		return NewBatch(), nil
	case consts.ModeIncremental:
		return NewIncremental(seed...), nil
	}
	return nil, fmt.Errorf("unknown aggregation mode %q", mode)
}

// ResolveTicker normalizes the classifier's ticker. It reports false when
// the post has no usable ticker.
func ResolveTicker(raw *string, excluded []string) (string, bool) {
	if raw == nil {
		return "", false
	}
	t := strings.ToUpper(strings.TrimSpace(*raw))
	t = strings.TrimSpace(strings.TrimPrefix(t, "$"))
	switch t {
	case "", "NULL", "NONE":
		return "", false
	}
	for _, ex := range excluded {
		if strings.EqualFold(strings.TrimPrefix(strings.TrimSpace(ex), "$"), t) {
			return "", false
		}
	}
	return t, true
}
