package dashboard

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/myclass/attendsync/internal/reconcile"
	"github.com/myclass/attendsync/internal/session"
	"github.com/myclass/attendsync/internal/sessioncache"
)

// Kind names a feed event.
type Kind string

const (
	KindSnapshot Kind = "snapshot"
	KindSaved    Kind = "session_saved"
	KindSynced   Kind = "session_synced"
	KindDeleted  Kind = "session_deleted"
	KindCleared  Kind = "sessions_cleared"
	KindSweep    Kind = "sweep_complete"
	KindStats    Kind = "stats"
)

// DefaultBacklog is how many activity events a new screen is shown.
const DefaultBacklog = 20

// Event is one message on the feed. Only the payload that belongs to Kind
// is set.
type Event struct {
	Kind Kind      `json:"type"`
	At   time.Time `json:"timestamp"`

	Session   *SessionSummary     `json:"session,omitempty"`
	Synced    *IDRewrite          `json:"synced,omitempty"`
	DeletedID string              `json:"deletedId,omitempty"`
	Cleared   *Cleared            `json:"cleared,omitempty"`
	Sweep     *Sweep              `json:"sweep,omitempty"`
	Stats     *sessioncache.Stats `json:"stats,omitempty"`

	// Recent is set on snapshots only, oldest first.
	Recent []Event `json:"recent,omitempty"`
}

// SessionSummary is a saved session without its student list.
type SessionSummary struct {
	ID             string `json:"id"`
	SessionDetails string `json:"sessionDetails"`
	Subject        string `json:"subject,omitempty"`
	MarkedBy       string `json:"markedBy"`
	Present        int    `json:"present"`
	Absent         int    `json:"absent"`
	IsSynced       bool   `json:"isSynced"`
}

type IDRewrite struct {
	OldID string `json:"oldId"`
	NewID string `json:"newId"`
}

type Cleared struct {
	Owner   string `json:"owner"`
	Deleted int64  `json:"deleted"`
}

type Sweep struct {
	Owner string `json:"owner"`
	reconcile.SweepResult
}

func summarize(s *session.Session) *SessionSummary {
	present, absent := s.Counts()
	sum := &SessionSummary{
		ID:             s.ID,
		SessionDetails: s.SessionDetails,
		MarkedBy:       s.MarkedBy,
		Present:        present,
		Absent:         absent,
		IsSynced:       s.IsSynced,
	}
	if s.Subject != nil {
		sum.Subject = s.Subject.Code
	}
	return sum
}

// subscriber is one connected screen. events is closed when the feed
// drops it.
type subscriber struct {
	events chan []byte
}

// Feed records reconciler activity and fans it out to subscribers. It
// implements reconcile.Observer; notifications never block the reconciler,
// and a subscriber that cannot keep up is dropped.
type Feed struct {
	logger  *log.Logger
	backlog int

	mu     sync.Mutex
	stats  sessioncache.Stats
	recent []Event
	subs   map[*subscriber]struct{}
}

var _ reconcile.Observer = (*Feed)(nil)

// NewFeed creates a feed keeping backlog activity events (DefaultBacklog
// when backlog <= 0).
func NewFeed(backlog int, logger *log.Logger) *Feed {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	return &Feed{
		logger:  logger,
		backlog: backlog,
		subs:    make(map[*subscriber]struct{}),
	}
}

func (f *Feed) SessionSaved(s *session.Session) {
	f.publish(Event{Kind: KindSaved, Session: summarize(s)})
}

// SessionSynced also moves earlier activity about oldID to newID, so a
// screen that joins later sees the session under its server id.
func (f *Feed) SessionSynced(oldID, newID string) {
	f.mu.Lock()
	for i := range f.recent {
		if sum := f.recent[i].Session; sum != nil && sum.ID == oldID {
			moved := *sum
			moved.ID = newID
			moved.IsSynced = true
			f.recent[i].Session = &moved
		}
	}
	f.mu.Unlock()
	f.publish(Event{Kind: KindSynced, Synced: &IDRewrite{OldID: oldID, NewID: newID}})
}

func (f *Feed) SessionDeleted(id string) {
	f.publish(Event{Kind: KindDeleted, DeletedID: id})
}

func (f *Feed) SessionsCleared(owner string, deleted int64) {
	f.publish(Event{Kind: KindCleared, Cleared: &Cleared{Owner: owner, Deleted: deleted}})
}

func (f *Feed) SweepComplete(owner string, r reconcile.SweepResult) {
	if r.Failed > 0 {
		f.logger.Printf("Sweep for %s left %d of %d unsynced", owner, r.Failed, r.Pending)
	}
	f.publish(Event{Kind: KindSweep, Sweep: &Sweep{Owner: owner, SweepResult: r}})
}

func (f *Feed) StatsChanged(st sessioncache.Stats) {
	f.publish(Event{Kind: KindStats, Stats: &st})
}

// Stats returns the last statistics seen.
func (f *Feed) Stats() sessioncache.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// Snapshot returns the current statistics and recent activity.
func (f *Feed) Snapshot() Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *Feed) snapshotLocked() Event {
	st := f.stats
	return Event{
		Kind:   KindSnapshot,
		At:     time.Now(),
		Stats:  &st,
		Recent: append([]Event(nil), f.recent...),
	}
}

// Subscribers returns the number of connected screens.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Feed) publish(ev Event) {
	ev.At = time.Now()
	data, err := json.Marshal(ev)
	if err != nil {
		f.logger.Printf("Failed to encode %s: %v", ev.Kind, err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.Kind == KindStats {
		f.stats = *ev.Stats
	} else {
		f.recent = append(f.recent, ev)
		if n := len(f.recent) - f.backlog; n > 0 {
			f.recent = append(f.recent[:0:0], f.recent[n:]...)
		}
	}
	for sub := range f.subs {
		select {
		case sub.events <- data:
		default:
			f.logger.Printf("Dropping a screen that fell %d events behind", cap(sub.events))
			f.dropLocked(sub)
		}
	}
}

// subscribe registers a subscriber and returns it with the encoded
// snapshot it must be sent first. No event falls between the two.
func (f *Feed) subscribe(buffer int) (*subscriber, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, err := json.Marshal(f.snapshotLocked())
	if err != nil {
		return nil, nil, err
	}
	sub := &subscriber{events: make(chan []byte, buffer)}
	f.subs[sub] = struct{}{}
	return sub, snap, nil
}

func (f *Feed) unsubscribe(sub *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropLocked(sub)
}

func (f *Feed) dropLocked(sub *subscriber) {
	if _, ok := f.subs[sub]; !ok {
		return
	}
	delete(f.subs, sub)
	close(sub.events)
}

// closeAll drops every subscriber.
func (f *Feed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		f.dropLocked(sub)
	}
}
