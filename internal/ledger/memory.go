package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/dyike/SentiTrader/internal/models"
)

// Memory is a process-local ledger for tests and dry runs.
type Memory struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]models.LedgerEntry
	closed  bool
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]models.LedgerEntry)}
}

func (m *Memory) Exists(ctx context.Context, postID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.entries[postID]
	return ok, nil
}

func (m *Memory) Record(ctx context.Context, entry models.LedgerEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	if _, ok := m.entries[entry.PostID]; ok {
		return false, nil
	}
	m.entries[entry.PostID] = entry
	m.order = append(m.order, entry.PostID)
	return true, nil
}

func (m *Memory) Entries(ctx context.Context) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]models.LedgerEntry, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.entries[id])
	}
	return out, nil
}

func (m *Memory) Prune(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	kept := m.order[:0]
	removed := 0
	for _, id := range m.order {
		if m.entries[id].ProcessedAt.Before(before) {
			delete(m.entries, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return removed, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
