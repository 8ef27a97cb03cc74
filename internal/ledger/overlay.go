package ledger

import (
	"context"
	"time"

	"github.com/dyike/SentiTrader/internal/models"
)

// Overlay reads through to a base store but keeps its own writes in memory.
// Dry runs use it so previewed posts stay unprocessed in the base ledger.
type Overlay struct {
	base  Store
	local *Memory
}

func NewOverlay(base Store) *Overlay {
	return &Overlay{base: base, local: NewMemory()}
}

func (o *Overlay) Exists(ctx context.Context, postID string) (bool, error) {
	if ok, err := o.local.Exists(ctx, postID); err != nil || ok {
		return ok, err
	}
	return o.base.Exists(ctx, postID)
}

func (o *Overlay) Record(ctx context.Context, entry models.LedgerEntry) (bool, error) {
	exists, err := o.base.Exists(ctx, entry.PostID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	return o.local.Record(ctx, entry)
}

// Entries lists base entries followed by the overlay's own.
func (o *Overlay) Entries(ctx context.Context) ([]models.LedgerEntry, error) {
	base, err := o.base.Entries(ctx)
	if err != nil {
		return nil, err
	}
	local, err := o.local.Entries(ctx)
	if err != nil {
		return nil, err
	}
	return append(base, local...), nil
}

// Prune only touches the overlay's own entries.
func (o *Overlay) Prune(ctx context.Context, before time.Time) (int, error) {
	return o.local.Prune(ctx, before)
}

// Close discards the overlay. The base store stays open.
func (o *Overlay) Close() error {
	return o.local.Close()
}
