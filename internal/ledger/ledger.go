// Package ledger records which posts have already been judged so that a post
// is processed at most once across runs.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dyike/SentiTrader/consts"
	"github.com/dyike/SentiTrader/internal/models"
)

var ErrClosed = errors.New("ledger: store is closed")

// Store is a durable set of processed posts keyed by post id. Implementations
// assume a single writer.
type Store interface {
	Exists(ctx context.Context, postID string) (bool, error)
	// Record inserts entry unless its post id is already present, in which
	// case it reports false and leaves the ledger untouched.
	Record(ctx context.Context, entry models.LedgerEntry) (bool, error)
	Entries(ctx context.Context) ([]models.LedgerEntry, error)
	// Prune drops entries processed before the cutoff.
	Prune(ctx context.Context, before time.Time) (int, error)
	Close() error
}

type Options struct {
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
	Logger        *zap.Logger
}

// Open returns the store for the named backend.
func Open(ctx context.Context, backend string, opts Options) (Store, error) {
	switch backend {
	case consts.LedgerSQLite:
		return OpenSQLite(opts.Path)
	case consts.LedgerJSON:
		return OpenJSON(opts.Path, opts.Logger)
	case consts.LedgerRedis:
		return OpenRedis(ctx, opts)
	case consts.LedgerMemory:
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown ledger backend %q", backend)
}
