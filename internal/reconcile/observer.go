package reconcile

import (
	"github.com/myclass/attendsync/internal/session"
	"github.com/myclass/attendsync/internal/sessioncache"
)

// Observer is notified after each change to the session view. Calls are
// made synchronously from the goroutine that made the change, after the
// local store and cache are both updated.
type Observer interface {
	SessionSaved(s *session.Session)
	SessionSynced(oldID, newID string)
	SessionDeleted(id string)
	SessionsCleared(owner string, deleted int64)
	SweepComplete(owner string, r SweepResult)
	StatsChanged(st sessioncache.Stats)
}

// NopObserver ignores every notification. Embed it to implement only
// some of Observer.
type NopObserver struct{}

func (NopObserver) SessionSaved(*session.Session)     {}
func (NopObserver) SessionSynced(string, string)      {}
func (NopObserver) SessionDeleted(string)             {}
func (NopObserver) SessionsCleared(string, int64)     {}
func (NopObserver) SweepComplete(string, SweepResult) {}
func (NopObserver) StatsChanged(sessioncache.Stats)   {}

// multiObserver fans out to several observers in order.
type multiObserver []Observer

// Observers combines observers into one. Nil entries are skipped.
func Observers(obs ...Observer) Observer {
	var m multiObserver
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m multiObserver) SessionSaved(s *session.Session) {
	for _, o := range m {
		o.SessionSaved(s)
	}
}

func (m multiObserver) SessionSynced(oldID, newID string) {
	for _, o := range m {
		o.SessionSynced(oldID, newID)
	}
}

func (m multiObserver) SessionDeleted(id string) {
	for _, o := range m {
		o.SessionDeleted(id)
	}
}

func (m multiObserver) SessionsCleared(owner string, deleted int64) {
	for _, o := range m {
		o.SessionsCleared(owner, deleted)
	}
}

func (m multiObserver) SweepComplete(owner string, r SweepResult) {
	for _, o := range m {
		o.SweepComplete(owner, r)
	}
}

func (m multiObserver) StatsChanged(st sessioncache.Stats) {
	for _, o := range m {
		o.StatsChanged(st)
	}
}
