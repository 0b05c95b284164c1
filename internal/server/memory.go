package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/myclass/attendsync/internal/remote"
)

// MemoryRepository keeps sessions in process memory. It is meant for
// development and tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]remote.SessionRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]remote.SessionRecord)}
}

func (m *MemoryRepository) Create(_ context.Context, id string, createdAt time.Time, req remote.CreateRequest) error {
	rec := req.Record(id, createdAt)
	rec.Students = append([]remote.StudentRecord(nil), req.Students...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = rec
	return nil
}

func (m *MemoryRepository) List(_ context.Context, owner string, r *remote.DateRange) ([]remote.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []remote.SessionRecord
	for _, rec := range m.sessions {
		if rec.MarkedBy != owner || !r.Contains(rec.CreatedAt) {
			continue
		}
		rec.Students = append([]remote.StudentRecord(nil), rec.Students...)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryRepository) Delete(_ context.Context, id, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[id]
	if !ok || (owner != "" && rec.MarkedBy != owner) {
		return false, nil
	}
	delete(m.sessions, id)
	return true, nil
}

func (m *MemoryRepository) DeleteByOwner(_ context.Context, owner string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, rec := range m.sessions {
		if rec.MarkedBy == owner {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions across all owners.
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *MemoryRepository) Ping(context.Context) error { return nil }
func (m *MemoryRepository) Close() error               { return nil }
