package history

import (
	"context"
	"sync"

	"tryonapi/models"
)

// MemoryStore is an in-process history used by tests and dry runs.
type MemoryStore struct {
	Limit int

	mu      sync.Mutex
	entries []models.HistoryEntry
}

func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &MemoryStore{Limit: limit}
}

func (m *MemoryStore) Append(ctx context.Context, entry models.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append([]models.HistoryEntry{entry}, m.entries...)
	if len(m.entries) > m.Limit {
		m.entries = m.entries[:m.Limit]
	}
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]models.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.HistoryEntry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	return nil
}
