package localdb

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/myclass/attendsync/internal/session"
)

// Handle is the process-wide owner of the local store connection.
//
// The store is opened lazily on the first Get. Concurrent callers during
// that first open share one in-flight attempt and all receive the same
// *DB. A failed open is not remembered: the next Get tries again.
type Handle struct {
	path string
	loc  *time.Location

	group singleflight.Group
	db    atomic.Pointer[DB]

	// open is replaceable in tests.
	open func(path string) (*DB, error)
}

// NewHandle returns a Handle for the database at path. Nothing is opened
// until Get is called.
func NewHandle(path string, loc *time.Location) *Handle {
	return &Handle{
		path: path,
		loc:  loc,
		open: openAndInit,
	}
}

// openAndInit opens the database and brings its schema up to date.
func openAndInit(path string) (*DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Get returns the open store, opening it if necessary. Open failures are
// reported as *session.StorageError.
//
// If ctx ends while another caller's open is still running, Get returns
// ctx.Err() and the open continues for the remaining callers.
func (h *Handle) Get(ctx context.Context) (*DB, error) {
	if db := h.db.Load(); db != nil {
		return db, nil
	}

	ch := h.group.DoChan("open", func() (any, error) {
		if db := h.db.Load(); db != nil {
			return db, nil
		}
		db, err := h.open(h.path)
		if err != nil {
			return nil, &session.StorageError{Op: "open", Err: err}
		}
		db.SetLocation(h.loc)
		h.db.Store(db)
		return db, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*DB), nil
	}
}

// Path returns the database file path.
func (h *Handle) Path() string {
	return h.path
}

// Close closes the store if it was opened. A later Get reopens it.
func (h *Handle) Close() error {
	db := h.db.Swap(nil)
	if db == nil {
		return nil
	}
	return db.Close()
}
