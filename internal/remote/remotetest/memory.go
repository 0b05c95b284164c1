// Package remotetest provides an in-memory remote.Service for tests and
// load runs, with switches for taking it offline and failing calls.
package remotetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/myclass/attendsync/internal/remote"
	"github.com/myclass/attendsync/internal/session"
)

// Memory is an in-memory remote.Service. The zero value is not usable;
// call NewMemory.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	nextID   int
	offline  bool
	failNext int
	failEach int

	creates    int
	lists      int
	deletes    int
	deleteAlls int

	// AfterCreate, when set, runs after a successful create and before
	// Create returns. Tests use it to interleave other operations with a
	// push that is still in flight.
	AfterCreate func(s *session.Session, id string)
}

var _ remote.Service = (*Memory)(nil)

// NewMemory returns an empty, reachable service.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*session.Session)}
}

// SetOffline makes every call fail with remote.ErrUnavailable while true.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// FailNextCreates makes the next n creates fail.
func (m *Memory) FailNextCreates(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// FailEveryCreate makes every nth create attempt fail (0 disables).
func (m *Memory) FailEveryCreate(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failEach = n
}

// Create implements remote.Service.
func (m *Memory) Create(ctx context.Context, s *session.Session) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.creates++
	if m.offline {
		m.mu.Unlock()
		return "", remote.ErrUnavailable
	}
	if m.failNext > 0 {
		m.failNext--
		m.mu.Unlock()
		return "", fmt.Errorf("%w: injected failure", remote.ErrUnavailable)
	}
	if m.failEach > 0 && m.creates%m.failEach == 0 {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: injected failure", remote.ErrUnavailable)
	}
	m.nextID++
	id := fmt.Sprintf("srv-%d", m.nextID)
	stored := s.Clone()
	stored.ID = id
	stored.IsSynced = true
	m.sessions[id] = stored
	hook := m.AfterCreate
	m.mu.Unlock()

	if hook != nil {
		hook(s, id)
	}
	return id, nil
}

// List implements remote.Service.
func (m *Memory) List(ctx context.Context, owner string, r *remote.DateRange) ([]*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	if m.offline {
		return nil, remote.ErrUnavailable
	}
	var out []*session.Session
	for _, s := range m.sessions {
		if s.MarkedBy == owner && r.Contains(s.CreatedAt) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Delete implements remote.Service. Unknown ids are ignored.
func (m *Memory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.offline {
		return remote.ErrUnavailable
	}
	delete(m.sessions, id)
	return nil
}

// DeleteAllByOwner implements remote.Service.
func (m *Memory) DeleteAllByOwner(ctx context.Context, owner string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteAlls++
	if m.offline {
		return remote.ErrUnavailable
	}
	for id, s := range m.sessions {
		if s.MarkedBy == owner {
			delete(m.sessions, id)
		}
	}
	return nil
}

// Put stores s as if another device had created it.
func (m *Memory) Put(s *session.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := s.Clone()
	c.IsSynced = true
	m.sessions[c.ID] = c
}

// Has reports whether a session with id is stored.
func (m *Memory) Has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

// Len returns the number of stored sessions.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Calls holds per-operation call counts.
type Calls struct {
	Creates    int
	Lists      int
	Deletes    int
	DeleteAlls int
}

// Calls returns how many times each operation was called, including
// calls that failed.
func (m *Memory) Calls() Calls {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Calls{Creates: m.creates, Lists: m.lists, Deletes: m.deletes, DeleteAlls: m.deleteAlls}
}

// Successful returns the number of sessions ever created successfully.
func (m *Memory) Successful() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextID
}
