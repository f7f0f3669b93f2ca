// internal/daemon/store/memory.go
package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for testing and for
// running without a data directory.
type MemoryStore struct {
	builds map[string][]*BuildRecord // key: target, oldest first
	keep   int
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(keepPerTarget int) *MemoryStore {
	if keepPerTarget <= 0 {
		keepPerTarget = DefaultKeepPerTarget
	}
	return &MemoryStore{
		builds: make(map[string][]*BuildRecord),
		keep:   keepPerTarget,
	}
}

// RecordBuild stores a finished attempt.
func (m *MemoryStore) RecordBuild(ctx context.Context, rec *BuildRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.builds[rec.Target]
	for _, r := range list {
		if r.ID == rec.ID {
			return ErrAlreadyExists
		}
	}

	// Deep copy to avoid mutation
	copy := *rec
	list = append(list, &copy)
	sortOldestFirst(list)
	if len(list) > m.keep {
		list = list[len(list)-m.keep:]
	}
	m.builds[rec.Target] = list
	return nil
}

// GetBuild retrieves one attempt.
func (m *MemoryStore) GetBuild(ctx context.Context, target, id string) (*BuildRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.builds[target] {
		if r.ID == id {
			copy := *r
			return &copy, nil
		}
	}
	return nil, &NotFoundError{Target: target, ID: id}
}

// ListBuilds lists attempts newest first.
func (m *MemoryStore) ListBuilds(ctx context.Context, target string, limit int) ([]*BuildRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*BuildRecord
	for t, list := range m.builds {
		if target != "" && t != target {
			continue
		}
		for _, r := range list {
			copy := *r
			result = append(result, &copy)
		}
	}

	sortNewestFirst(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

func sortOldestFirst(recs []*BuildRecord) {
	for i := len(recs) - 1; i > 0 && recs[i].StartedAt.Before(recs[i-1].StartedAt); i-- {
		recs[i], recs[i-1] = recs[i-1], recs[i]
	}
}
