package reconcile

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/myclass/attendsync/internal/localdb"
	"github.com/myclass/attendsync/internal/remote"
	"github.com/myclass/attendsync/internal/session"
	"github.com/myclass/attendsync/internal/sessioncache"
)

// DefaultRemoteTimeout bounds each remote call made by the reconciler.
const DefaultRemoteTimeout = 15 * time.Second

// Owner supplies the identity every operation is scoped to. An empty
// string means nobody is signed in.
type Owner interface {
	CurrentOwner() string
}

// Config holds the collaborators of a Reconciler.
type Config struct {
	// Store is the shared local store handle. Required.
	Store *localdb.Handle

	// Remote is the system of record. Required.
	Remote remote.Service

	// Owner supplies the current owner. Required.
	Owner Owner

	// Cache is the merged view to maintain. A new one is created when nil.
	Cache *sessioncache.Cache

	// Observer is notified of view changes. Optional.
	Observer Observer

	// Logger for reconciler messages. Defaults to stderr with a [reconcile] prefix.
	Logger *log.Logger

	// RemoteTimeout bounds each remote call (default: 15s).
	RemoteTimeout time.Duration

	// Location is the timezone of calendar-day filters (default: time.Local).
	Location *time.Location

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Reconciler is the save/delete/resync state machine between the local
// store and the remote service.
//
// Every save is written locally before anything else happens; the remote
// push that follows is best-effort. Unsynced sessions are retried by
// Sweep, which runs on Hydrate and Refresh and never on a timer.
type Reconciler struct {
	store    *localdb.Handle
	remote   remote.Service
	owner    Owner
	cache    *sessioncache.Cache
	observer Observer
	logger   *log.Logger
	timeout  time.Duration
	loc      *time.Location
	now      func() time.Time

	// inFlight holds local ids whose remote create has not returned yet.
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a Reconciler.
//
// Example:
//
//	r := reconcile.New(reconcile.Config{
//	    Store:  localdb.NewHandle(path, time.Local),
//	    Remote: remote.NewClient(url, token, 0),
//	    Owner:  auth.Static("staff-42"),
//	})
//	s, err := r.Save(ctx, session.Context{SessionDetails: "CS101 P1"}, roster)
func New(cfg Config) *Reconciler {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	if cfg.Cache == nil {
		cfg.Cache = sessioncache.New()
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = DefaultRemoteTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{
		store:    cfg.Store,
		remote:   cfg.Remote,
		owner:    cfg.Owner,
		cache:    cfg.Cache,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		timeout:  cfg.RemoteTimeout,
		loc:      cfg.Location,
		now:      cfg.Now,
		inFlight: make(map[string]struct{}),
	}
}

// SweepResult counts the outcome of one resync pass.
type SweepResult struct {
	Pending    int `json:"pending"`
	Synced     int `json:"synced"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Superseded int `json:"superseded"`
}

// Report summarises a Hydrate or Refresh.
type Report struct {
	Local           int         `json:"local"`
	Remote          int         `json:"remote"`
	RemoteReachable bool        `json:"remoteReachable"`
	Sweep           SweepResult `json:"sweep"`
}

// pushOutcome is the result of one remote create attempt.
type pushOutcome int

const (
	pushSynced pushOutcome = iota
	pushFailed
	pushSkipped // already in flight or already synced
	pushSuperseded
)

// Save records a new session for the current owner.
//
// The working list is filtered and frozen into a snapshot (see
// session.Snapshot); an empty snapshot is a *session.ValidationError. The
// session is inserted into the local store before Save attempts the remote
// create; a local failure is returned, a remote failure is only logged and
// leaves the session unsynced. The returned session carries the server id
// if the push succeeded and the local id otherwise.
func (r *Reconciler) Save(ctx context.Context, c session.Context, working []session.Student) (*session.Session, error) {
	owner := r.owner.CurrentOwner()
	if owner == "" {
		return nil, session.ErrNoOwner
	}

	s, err := session.New(c, working, owner, r.now())
	if err != nil {
		return nil, err
	}

	db, err := r.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	if err := db.Insert(ctx, s); err != nil {
		return nil, err
	}
	r.cache.Prepend(s)
	r.observer.SessionSaved(s.Clone())
	r.statsChanged()
	r.logger.Printf("Saved session: %s (%s, %d students)", s.ID, s.SessionDetails, len(s.Students))

	if newID, outcome := r.push(ctx, db, s); outcome == pushSynced {
		s.ID = newID
		s.IsSynced = true
	}
	return s, nil
}

// Sweep retries the remote create for every unsynced session of the
// current owner. One failure does not stop the pass. Only local store
// failures are returned.
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	owner := r.owner.CurrentOwner()
	if owner == "" {
		return SweepResult{}, nil
	}

	db, err := r.store.Get(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	pending, err := db.ListUnsynced(ctx, owner)
	if err != nil {
		return SweepResult{}, err
	}

	res := SweepResult{Pending: len(pending)}
	if len(pending) == 0 {
		return res, nil
	}
	r.logger.Printf("Starting sweep for %s: %d unsynced", owner, len(pending))

	for _, s := range pending {
		switch _, outcome := r.push(ctx, db, s); outcome {
		case pushSynced:
			res.Synced++
		case pushFailed:
			res.Failed++
		case pushSkipped:
			res.Skipped++
		case pushSuperseded:
			res.Superseded++
		}
	}

	r.logger.Printf("Sweep complete: %d synced, %d failed, %d skipped, %d superseded",
		res.Synced, res.Failed, res.Skipped, res.Superseded)
	r.observer.SweepComplete(owner, res)
	return res, nil
}

// Hydrate loads the current owner's sessions from the local store into the
// view (optionally only those created on day), then runs Refresh.
func (r *Reconciler) Hydrate(ctx context.Context, day *time.Time) (Report, error) {
	owner := r.owner.CurrentOwner()
	if owner == "" {
		return Report{}, nil
	}

	db, err := r.store.Get(ctx)
	if err != nil {
		return Report{}, err
	}
	local, err := db.ListByOwner(ctx, owner, day)
	if err != nil {
		return Report{}, err
	}
	r.cache.Replace(local)
	r.statsChanged()

	rep, err := r.Refresh(ctx, day)
	rep.Local = len(local)
	return rep, err
}

// Refresh pulls the current owner's sessions from the remote service,
// merges them into the view (remote copies win), brings unsynced entries
// of the view up to date with the local store, and sweeps unsynced
// sessions. An unreachable remote is logged and reported, not returned.
func (r *Reconciler) Refresh(ctx context.Context, day *time.Time) (Report, error) {
	owner := r.owner.CurrentOwner()
	if owner == "" {
		return Report{}, nil
	}

	var rng *remote.DateRange
	if day != nil {
		rng = remote.DayRange(*day, r.loc)
	}

	var rep Report
	rctx, cancel := r.remoteContext(ctx)
	list, err := r.remote.List(rctx, owner, rng)
	cancel()
	if err != nil {
		r.logger.Printf("Warning: %v", &session.RemoteSyncError{Op: "list", Err: err})
	} else {
		rep.RemoteReachable = true
		rep.Remote = len(list)
		r.cache.MergeRemote(list)
		r.statsChanged()
	}

	db, err := r.store.Get(ctx)
	if err != nil {
		return rep, err
	}
	if err := r.settleView(ctx, db); err != nil {
		return rep, err
	}

	sweep, err := r.Sweep(ctx)
	rep.Sweep = sweep
	return rep, err
}

// settleView re-reads every unsynced entry of the view from the local
// store. Another process sharing the store may have pushed or deleted it
// since it was cached: pushed entries move to their server id (dropped if
// that id is already listed) and deleted ones are removed.
func (r *Reconciler) settleView(ctx context.Context, db *localdb.DB) error {
	changed := false
	for _, s := range r.cache.Snapshot() {
		if s.IsSynced {
			continue
		}
		cur, err := db.Get(ctx, s.ID)
		if err != nil {
			return err
		}
		switch {
		case cur == nil:
			changed = r.cache.Remove(s.ID) || changed
		case cur.ID != s.ID || cur.IsSynced:
			changed = r.cache.Rename(s.ID, cur.ID) || changed
		}
	}
	if changed {
		r.statsChanged()
	}
	return nil
}

// Delete removes one session of the current owner: from the local store,
// then from the view, then remotely. id may be the current id or the
// local id the session had before it was synced. Deleting an unknown id is
// not an error, and a remote failure is only logged.
func (r *Reconciler) Delete(ctx context.Context, id string) error {
	owner := r.owner.CurrentOwner()
	if owner == "" {
		return nil
	}

	db, err := r.store.Get(ctx)
	if err != nil {
		return err
	}

	target := id
	local, err := db.Get(ctx, id)
	if err != nil {
		return err
	}
	if local != nil {
		if local.MarkedBy != owner {
			r.logger.Printf("Refusing to delete %s: owned by another account", id)
			return nil
		}
		target = local.ID
		if _, err := db.Delete(ctx, target); err != nil {
			return err
		}
	}

	removed := r.cache.Remove(target)
	if target != id && r.cache.Remove(id) {
		removed = true
	}
	if local != nil || removed {
		r.observer.SessionDeleted(target)
		r.statsChanged()
	}
	r.logger.Printf("Deleted session: %s", target)

	rctx, cancel := r.remoteContext(ctx)
	defer cancel()
	if err := r.remote.Delete(rctx, target); err != nil {
		r.logger.Printf("Warning: %v", &session.RemoteSyncError{Op: "delete", SessionID: target, Err: err})
	}
	return nil
}

// DeleteAll removes every session of the current owner locally, clears the
// view, and asks the remote service to do the same. A remote failure is
// logged; the local side stays cleared. It returns the number of local
// rows removed.
func (r *Reconciler) DeleteAll(ctx context.Context) (int64, error) {
	owner := r.owner.CurrentOwner()
	if owner == "" {
		return 0, nil
	}

	db, err := r.store.Get(ctx)
	if err != nil {
		return 0, err
	}
	n, err := db.DeleteByOwner(ctx, owner)
	if err != nil {
		return 0, err
	}
	r.cache.Clear()
	r.observer.SessionsCleared(owner, n)
	r.statsChanged()
	r.logger.Printf("Deleted %d local sessions of %s", n, owner)

	rctx, cancel := r.remoteContext(ctx)
	defer cancel()
	if err := r.remote.DeleteAllByOwner(rctx, owner); err != nil {
		r.logger.Printf("Warning: %v", &session.RemoteSyncError{Op: "delete all", Err: err})
	}
	return n, nil
}

// Get returns one session of the current owner by current or pre-rewrite
// id, looking in the local store first and then in the view (which may
// hold sessions known only remotely). Returns (nil, nil) if not found.
func (r *Reconciler) Get(ctx context.Context, id string) (*session.Session, error) {
	owner := r.owner.CurrentOwner()
	if owner == "" {
		return nil, nil
	}

	db, err := r.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	s, err := db.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		s = r.cache.Get(id)
	}
	if s == nil || (s.MarkedBy != "" && s.MarkedBy != owner) {
		return nil, nil
	}
	return s, nil
}

// Sessions returns the current merged view.
func (r *Reconciler) Sessions() []*session.Session {
	return r.cache.Snapshot()
}

// Stats returns the statistics of the current view.
func (r *Reconciler) Stats() sessioncache.Stats {
	return r.cache.Stats()
}

// push sends s to the remote service and, on success, rewrites its local
// identity. The caller must have already written s to db.
func (r *Reconciler) push(ctx context.Context, db *localdb.DB, s *session.Session) (string, pushOutcome) {
	if !r.claim(s.ID) {
		return "", pushSkipped
	}
	defer r.release(s.ID)

	// s may come from a listing taken before another push or a delete
	// finished; only push what is still unsynced now that s is claimed.
	cur, err := db.Get(ctx, s.ID)
	if err != nil {
		r.logger.Printf("Warning: cannot re-read %s before push: %v", s.ID, err)
		return "", pushFailed
	}
	if cur == nil {
		r.cache.Remove(s.ID)
		return "", pushSuperseded
	}
	if cur.IsSynced {
		return "", pushSkipped
	}

	rctx, cancel := r.remoteContext(ctx)
	newID, err := r.remote.Create(rctx, s)
	cancel()
	if err != nil {
		r.logger.Printf("Warning: %v", &session.RemoteSyncError{Op: "create", SessionID: s.ID, Err: err})
		return "", pushFailed
	}

	// The rewrite must happen even if the caller has given up waiting,
	// otherwise the next sweep would create the session a second time.
	wctx := context.WithoutCancel(ctx)
	renamed, err := db.UpdateIdentity(wctx, s.ID, newID)
	if err != nil {
		r.logger.Printf("Error: session %s was created remotely as %s but the local rewrite failed: %v", s.ID, newID, err)
		return "", pushFailed
	}
	if !renamed {
		r.logger.Printf("Session %s was deleted during its push; removing remote copy %s", s.ID, newID)
		dctx, dcancel := r.remoteContext(wctx)
		if err := r.remote.Delete(dctx, newID); err != nil {
			r.logger.Printf("Warning: %v", &session.RemoteSyncError{Op: "delete superseded", SessionID: newID, Err: err})
		}
		dcancel()
		r.cache.Remove(s.ID)
		return "", pushSuperseded
	}

	r.cache.Rename(s.ID, newID)
	r.observer.SessionSynced(s.ID, newID)
	r.statsChanged()
	r.logger.Printf("Synced session: %s -> %s", s.ID, newID)
	return newID, pushSynced
}

// claim marks id as being pushed. It returns false if a push for id is
// already running.
func (r *Reconciler) claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inFlight[id]; busy {
		return false
	}
	r.inFlight[id] = struct{}{}
	return true
}

func (r *Reconciler) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, id)
}

// remoteContext detaches a remote call from ctx's cancellation, so a push
// is never abandoned half way, and bounds it with the remote timeout.
func (r *Reconciler) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
}

func (r *Reconciler) statsChanged() {
	r.observer.StatsChanged(r.cache.Stats())
}

// String describes the reconciler for log lines.
func (r *Reconciler) String() string {
	return fmt.Sprintf("reconciler(store=%s, owner=%q)", r.store.Path(), r.owner.CurrentOwner())
}
