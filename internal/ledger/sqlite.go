package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dyike/SentiTrader/internal/models"
)

// SQLite keeps the ledger in one table with post_id as primary key.
type SQLite struct {
	db     *sql.DB
	closed atomic.Bool
}

func OpenSQLite(dbPath string) (*SQLite, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("ledger db path is required")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps check-then-insert atomic for the single writer.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS processed_posts (
    post_id TEXT PRIMARY KEY,
    ticker TEXT NOT NULL,
    weighted_score REAL NOT NULL,
    title_snippet TEXT NOT NULL DEFAULT '',
    processed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processed_posts_processed_at ON processed_posts(processed_at);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *SQLite) Exists(ctx context.Context, postID string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM processed_posts WHERE post_id = ?`, postID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query post %s: %w", postID, err)
	}
	return true, nil
}

func (s *SQLite) Record(ctx context.Context, entry models.LedgerEntry) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO processed_posts (post_id, ticker, weighted_score, title_snippet, processed_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(post_id) DO NOTHING
`, entry.PostID, entry.Ticker, entry.WeightedScore, entry.TitleSnippet, entry.ProcessedAt.UTC().UnixNano())
	if err != nil {
		return false, fmt.Errorf("insert post %s: %w", entry.PostID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *SQLite) Entries(ctx context.Context) ([]models.LedgerEntry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT post_id, ticker, weighted_score, title_snippet, processed_at
FROM processed_posts
ORDER BY rowid ASC
`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		var (
			e     models.LedgerEntry
			nanos int64
		)
		if err := rows.Scan(&e.PostID, &e.Ticker, &e.WeightedScore, &e.TitleSnippet, &nanos); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.ProcessedAt = time.Unix(0, nanos).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) Prune(ctx context.Context, before time.Time) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_posts WHERE processed_at < ?`, before.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func (s *SQLite) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
