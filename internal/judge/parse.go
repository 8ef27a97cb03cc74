package judge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dyike/SentiTrader/internal/models"
)

var requiredKeys = []string{"sentiment", "compound", "confidence", "ticker"}

// ParseJudgment validates a model reply against the output contract. The
// object may be wrapped in a Markdown code fence.
func ParseJudgment(content string) (models.Judgment, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(stripFence(content)), &fields); err != nil {
		return models.Judgment{}, fmt.Errorf("decode reply: %w", err)
	}

	var missing []string
	for _, key := range requiredKeys {
		if _, ok := fields[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return models.Judgment{}, fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	var label string
	if err := json.Unmarshal(fields["sentiment"], &label); err != nil {
		return models.Judgment{}, fmt.Errorf("sentiment: %w", err)
	}
	sentiment, err := models.ParseSentiment(label)
	if err != nil {
		return models.Judgment{}, err
	}

	compound, err := boundedNumber(fields["compound"], -1, 1)
	if err != nil {
		return models.Judgment{}, fmt.Errorf("compound: %w", err)
	}
	confidence, err := boundedNumber(fields["confidence"], 0, 1)
	if err != nil {
		return models.Judgment{}, fmt.Errorf("confidence: %w", err)
	}

	var ticker *string
	if raw := strings.TrimSpace(string(fields["ticker"])); raw != "null" {
		var s string
		if err := json.Unmarshal(fields["ticker"], &s); err != nil {
			return models.Judgment{}, fmt.Errorf("ticker must be a string or null: %w", err)
		}
		ticker = &s
	}

	return models.Judgment{
		Sentiment:  sentiment,
		Compound:   compound,
		Confidence: confidence,
		Ticker:     ticker,
	}, nil
}

func boundedNumber(raw json.RawMessage, lo, hi float64) (float64, error) {
	var p *float64
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0, errors.New("not a number")
	}
	if p == nil {
		return 0, errors.New("must not be null")
	}
	v := *p
	if v < lo || v > hi {
		return 0, fmt.Errorf("%v outside [%v, %v]", v, lo, hi)
	}
	return v, nil
}

func stripFence(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
