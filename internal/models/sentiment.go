package models

import (
	"fmt"
	"strings"
	"time"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// ParseSentiment accepts a label in any letter case.
func ParseSentiment(s string) (Sentiment, error) {
	switch Sentiment(strings.ToLower(strings.TrimSpace(s))) {
	case SentimentPositive:
		return SentimentPositive, nil
	case SentimentNegative:
		return SentimentNegative, nil
	case SentimentNeutral:
		return SentimentNeutral, nil
	}
	return "", fmt.Errorf("unknown sentiment label %q", s)
}

// Judgment is the classifier's verdict on one post.
type Judgment struct {
	Sentiment  Sentiment `json:"sentiment"`
	Compound   float64   `json:"compound"`
	Confidence float64   `json:"confidence"`
	Ticker     *string   `json:"ticker"`
}

// NeutralJudgment is returned when the classifier cannot be reached or keeps
// answering with malformed output.
func NeutralJudgment() Judgment {
	return Judgment{Sentiment: SentimentNeutral}
}

func (j Judgment) WeightedScore() float64 {
	return j.Compound * j.Confidence
}

// LedgerEntry marks a post as processed. Entries are append-only.
type LedgerEntry struct {
	PostID        string    `json:"post_id"`
	Ticker        string    `json:"ticker"`
	WeightedScore float64   `json:"weighted_score"`
	TitleSnippet  string    `json:"title_snippet"`
	ProcessedAt   time.Time `json:"processed_at"`
}

type PostSummary struct {
	Title      string    `json:"title"`
	Sentiment  Sentiment `json:"sentiment"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
}

type TickerAggregate struct {
	Ticker    string        `json:"ticker"`
	Score     float64       `json:"avg_score"`
	PostCount int           `json:"post_count"`
	Posts     []PostSummary `json:"posts"`
}
