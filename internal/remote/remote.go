// Package remote defines the contract of the remote session service (the
// system of record) and an HTTP client for it.
//
// The service is not idempotent: calling Create twice for the same local
// session produces two remote records. Callers guard against that with the
// local isSynced flag.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/myclass/attendsync/internal/session"
)

var (
	// ErrRejected is returned when the service answers a create with
	// ok=false or without a session id.
	ErrRejected = errors.New("remote rejected session")

	// ErrUnavailable is returned when the service cannot be reached.
	ErrUnavailable = errors.New("remote unavailable")
)

// Service is the remote session service.
type Service interface {
	// Create stores s and returns the server-assigned id.
	Create(ctx context.Context, s *session.Session) (string, error)

	// List returns owner's sessions newest first, optionally restricted to
	// sessions created inside r.
	List(ctx context.Context, owner string, r *DateRange) ([]*session.Session, error)

	// Delete removes one session. Unknown ids are not an error.
	Delete(ctx context.Context, id string) error

	// DeleteAllByOwner removes every session of owner.
	DeleteAllByOwner(ctx context.Context, owner string) error
}

// DateRange bounds a remote listing by creation time, both ends inclusive.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// DayRange returns the range covering the calendar day of t in loc, from
// 00:00:00.000 to 23:59:59.999.
func DayRange(t time.Time, loc *time.Location) *DateRange {
	start, next := session.DayWindow(t, loc)
	return &DateRange{Start: start, End: next.Add(-time.Millisecond)}
}

// Contains reports whether t falls inside r. A nil range contains everything.
func (r *DateRange) Contains(t time.Time) bool {
	if r == nil {
		return true
	}
	return !t.Before(r.Start) && !t.After(r.End)
}

func (r *DateRange) String() string {
	if r == nil {
		return "all"
	}
	return fmt.Sprintf("%s..%s", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}
