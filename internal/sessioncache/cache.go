// Package sessioncache holds the merged in-memory view of an owner's
// sessions: remote records plus local work not yet visible remotely.
// The view is derived; the local store stays authoritative.
package sessioncache

import (
	"sync"

	"github.com/myclass/attendsync/internal/session"
)

// Stats is the projection shown next to the session list.
type Stats struct {
	TotalSessions int `json:"totalSessions" yaml:"totalSessions"`
	TotalStudents int `json:"totalStudents" yaml:"totalStudents"`
}

// Compute derives Stats from a list.
func Compute(list []*session.Session) Stats {
	st := Stats{TotalSessions: len(list)}
	for _, s := range list {
		st.TotalStudents += len(s.Students)
	}
	return st
}

// Merge combines a remote listing with locally cached sessions. Local
// entries whose id also appears remotely are dropped in favour of the
// remote copy; the result is the remote list followed by the remaining
// local-only entries, each id at most once.
func Merge(remote, local []*session.Session) []*session.Session {
	out := make([]*session.Session, 0, len(remote)+len(local))
	seen := make(map[string]bool, len(remote)+len(local))
	for _, s := range remote {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		out = append(out, s)
	}
	for _, s := range local {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		out = append(out, s)
	}
	return out
}

// Cache is a concurrency-safe ordered session list. Entries handed in are
// copied, and entries handed out are copies.
type Cache struct {
	mu       sync.RWMutex
	sessions []*session.Session
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{}
}

// Prepend puts s at the front, replacing any entry with the same id.
func (c *Cache) Prepend(s *session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = append([]*session.Session{s.Clone()}, without(c.sessions, s.ID)...)
}

// Rename moves the entry keyed oldID to newID and marks it synced. If an
// entry with newID already exists the old entry is dropped instead, so the
// session is listed once. It reports whether an entry with oldID existed.
func (c *Cache) Rename(oldID, newID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := index(c.sessions, oldID)
	if idx < 0 {
		return false
	}
	if oldID != newID && index(c.sessions, newID) >= 0 {
		c.sessions = append(c.sessions[:idx:idx], c.sessions[idx+1:]...)
		return true
	}
	renamed := c.sessions[idx].Clone()
	renamed.ID = newID
	renamed.IsSynced = true
	c.sessions[idx] = renamed
	return true
}

// Remove drops the entry with id and reports whether it was present.
func (c *Cache) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.sessions)
	c.sessions = without(c.sessions, id)
	return len(c.sessions) != n
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = nil
}

// Replace sets the cache contents to list.
func (c *Cache) Replace(list []*session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = cloneAll(list)
}

// MergeRemote applies Merge with the current contents as the local side.
func (c *Cache) MergeRemote(remote []*session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = Merge(cloneAll(remote), c.sessions)
}

// Snapshot returns a copy of the current list.
func (c *Cache) Snapshot() []*session.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneAll(c.sessions)
}

// Get returns a copy of the entry with id, or nil.
func (c *Cache) Get(id string) *session.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := index(c.sessions, id); i >= 0 {
		return c.sessions[i].Clone()
	}
	return nil
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// Stats projects the current contents.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Compute(c.sessions)
}

func index(list []*session.Session, id string) int {
	for i, s := range list {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// without returns list minus entries with id, in a new slice.
func without(list []*session.Session, id string) []*session.Session {
	out := make([]*session.Session, 0, len(list))
	for _, s := range list {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out
}

func cloneAll(list []*session.Session) []*session.Session {
	if list == nil {
		return nil
	}
	out := make([]*session.Session, len(list))
	for i, s := range list {
		out[i] = s.Clone()
	}
	return out
}
