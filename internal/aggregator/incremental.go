package aggregator

import "github.com/dyike/SentiTrader/internal/models"

// Incremental keeps a running average per ticker. Seeding it with stored
// aggregates continues averaging across runs.
type Incremental struct {
	order []string
	aggs  map[string]*models.TickerAggregate
}

func NewIncremental(seed ...*models.TickerAggregate) *Incremental {
	inc := &Incremental{aggs: make(map[string]*models.TickerAggregate)}
	for _, s := range seed {
		if s == nil || s.PostCount <= 0 {
			continue
		}
		if _, dup := inc.aggs[s.Ticker]; dup {
			continue
		}
		inc.order = append(inc.order, s.Ticker)
		inc.aggs[s.Ticker] = &models.TickerAggregate{
			Ticker:    s.Ticker,
			Score:     s.Score,
			PostCount: s.PostCount,
			Posts:     append([]models.PostSummary(nil), s.Posts...),
		}
	}
	return inc
}

func (inc *Incremental) Add(ticker string, obs Observation) {
	agg, ok := inc.aggs[ticker]
	if !ok {
		agg = &models.TickerAggregate{Ticker: ticker}
		inc.aggs[ticker] = agg
		inc.order = append(inc.order, ticker)
	}
	w := obs.Judgment.WeightedScore()
	agg.Score = (agg.Score*float64(agg.PostCount) + w) / float64(agg.PostCount+1)
	agg.PostCount++
	agg.Posts = append(agg.Posts, obs.summary())
}

func (inc *Incremental) Results() []*models.TickerAggregate {
	out := make([]*models.TickerAggregate, 0, len(inc.order))
	for _, ticker := range inc.order {
		agg := inc.aggs[ticker]
		out = append(out, &models.TickerAggregate{
			Ticker:    agg.Ticker,
			Score:     agg.Score,
			PostCount: agg.PostCount,
			Posts:     append([]models.PostSummary(nil), agg.Posts...),
		})
	}
	return out
}

// FoldLedger rebuilds incremental aggregates from ledger entries in order.
func FoldLedger(entries []models.LedgerEntry) []*models.TickerAggregate {
	inc := NewIncremental()
	for _, e := range entries {
		if e.Ticker == "" {
			continue
		}
		agg, ok := inc.aggs[e.Ticker]
		if !ok {
			agg = &models.TickerAggregate{Ticker: e.Ticker}
			inc.aggs[e.Ticker] = agg
			inc.order = append(inc.order, e.Ticker)
		}
		agg.Score = (agg.Score*float64(agg.PostCount) + e.WeightedScore) / float64(agg.PostCount+1)
		agg.PostCount++
		agg.Posts = append(agg.Posts, models.PostSummary{
			Title: e.TitleSnippet,
			Score: e.WeightedScore,
		})
	}
	return inc.Results()
}
