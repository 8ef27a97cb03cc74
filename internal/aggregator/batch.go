package aggregator

import "github.com/dyike/SentiTrader/internal/models"

// Batch collects weighted scores and averages them once in Results.
type Batch struct {
	order   []string
	weights map[string][]float64
	posts   map[string][]models.PostSummary
}

func NewBatch() *Batch {
	return &Batch{
		weights: make(map[string][]float64),
		posts:   make(map[string][]models.PostSummary),
	}
}

func (b *Batch) Add(ticker string, obs Observation) {
	if _, ok := b.weights[ticker]; !ok {
		b.order = append(b.order, ticker)
	}
	b.weights[ticker] = append(b.weights[ticker], obs.Judgment.WeightedScore())
	b.posts[ticker] = append(b.posts[ticker], obs.summary())
}

func (b *Batch) Results() []*models.TickerAggregate {
	out := make([]*models.TickerAggregate, 0, len(b.order))
	for _, ticker := range b.order {
		ws := b.weights[ticker]
		sum := 0.0
		for _, w := range ws {
			sum += w
		}
		out = append(out, &models.TickerAggregate{
			Ticker:    ticker,
			Score:     sum / float64(len(ws)),
			PostCount: len(ws),
			Posts:     append([]models.PostSummary(nil), b.posts[ticker]...),
		})
	}
	return out
}
