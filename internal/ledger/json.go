package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dyike/SentiTrader/internal/models"
)

// JSON keeps the whole ledger in one document of the form
// {"posts": {"<id>": {"title": ..., "processed_date": ...}}} and rewrites
// it atomically on every change.
type JSON struct {
	mu     sync.Mutex
	path   string
	doc    jsonDocument
	closed bool
	logger *zap.Logger
}

type jsonDocument struct {
	Posts map[string]jsonPost `json:"posts"`
}

type jsonPost struct {
	Title         string  `json:"title"`
	ProcessedDate string  `json:"processed_date"`
	Ticker        string  `json:"ticker,omitempty"`
	WeightedScore float64 `json:"weighted_score"`
}

// OpenJSON loads the ledger file. A missing, unreadable or corrupt file
// yields an empty ledger which replaces the file on the next write.
func OpenJSON(path string, logger *zap.Logger) (*JSON, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger file path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	l := &JSON{
		path:   path,
		doc:    jsonDocument{Posts: make(map[string]jsonPost)},
		logger: logger.Named("ledger"),
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		l.logger.Warn("ledger unreadable, starting empty", zap.String("path", path), zap.Error(err))
	default:
		var doc jsonDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			l.logger.Warn("ledger corrupt, starting empty", zap.String("path", path), zap.Error(err))
		} else if doc.Posts != nil {
			l.doc = doc
		}
	}
	return l, nil
}

func (l *JSON) Exists(ctx context.Context, postID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false, ErrClosed
	}
	_, ok := l.doc.Posts[postID]
	return ok, nil
}

func (l *JSON) Record(ctx context.Context, entry models.LedgerEntry) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false, ErrClosed
	}
	if _, ok := l.doc.Posts[entry.PostID]; ok {
		return false, nil
	}

	l.doc.Posts[entry.PostID] = jsonPost{
		Title:         entry.TitleSnippet,
		ProcessedDate: entry.ProcessedAt.UTC().Format(time.RFC3339Nano),
		Ticker:        entry.Ticker,
		WeightedScore: entry.WeightedScore,
	}
	if err := l.flush(); err != nil {
		delete(l.doc.Posts, entry.PostID)
		return false, err
	}
	return true, nil
}

func (l *JSON) Entries(ctx context.Context) ([]models.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	out := make([]models.LedgerEntry, 0, len(l.doc.Posts))
	for id, p := range l.doc.Posts {
		out = append(out, models.LedgerEntry{
			PostID:        id,
			Ticker:        p.Ticker,
			WeightedScore: p.WeightedScore,
			TitleSnippet:  p.Title,
			ProcessedAt:   parseProcessedDate(p.ProcessedDate),
		})
	}
	sortEntries(out)
	return out, nil
}

func (l *JSON) Prune(ctx context.Context, before time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}

	removed := make(map[string]jsonPost)
	for id, p := range l.doc.Posts {
		if parseProcessedDate(p.ProcessedDate).Before(before) {
			removed[id] = p
			delete(l.doc.Posts, id)
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}
	if err := l.flush(); err != nil {
		for id, p := range removed {
			l.doc.Posts[id] = p
		}
		return 0, err
	}
	return len(removed), nil
}

func (l *JSON) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *JSON) flush() error {
	tmpFile, err := os.CreateTemp(filepath.Dir(l.path), "ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "    ")
	if err := encoder.Encode(&l.doc); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("flush ledger: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("close temp ledger: %w", err)
	}
	return os.Rename(tmpFile.Name(), l.path)
}

// parseProcessedDate accepts RFC 3339 with or without fractional seconds.
// Unparseable dates sort first and are pruned first.
func parseProcessedDate(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func sortEntries(entries []models.LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].ProcessedAt.Equal(entries[j].ProcessedAt) {
			return entries[i].ProcessedAt.Before(entries[j].ProcessedAt)
		}
		return entries[i].PostID < entries[j].PostID
	})
}
