package sessioncache

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/myclass/attendsync/internal/session"
)

func sess(id, details string, students int) *session.Session {
	s := &session.Session{ID: id, SessionDetails: details, MarkedBy: "u1"}
	for i := 0; i < students; i++ {
		s.Students = append(s.Students, session.Student{RegNo: string(rune('A' + i)), Name: "n", Status: session.StatusAbsent})
	}
	return s
}

func ids(list []*session.Session) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.ID)
	}
	return out
}

// TestMerge_RemoteWins tests that a remote copy replaces a stale local one
func TestMerge_RemoteWins(t *testing.T) {
	remote := []*session.Session{sess("X", "remote", 2)}
	local := []*session.Session{sess("X", "stale", 1), sess("Y", "local-only", 1)}

	got := Merge(remote, local)
	if diff := cmp.Diff([]string{"X", "Y"}, ids(got)); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	if got[0].SessionDetails != "remote" {
		t.Errorf("X came from %q, want remote", got[0].SessionDetails)
	}
}

// TestMerge_DuplicateRemoteIDs tests that each id appears at most once
func TestMerge_DuplicateRemoteIDs(t *testing.T) {
	got := Merge([]*session.Session{sess("X", "a", 1), sess("X", "b", 1)}, nil)
	if len(got) != 1 || got[0].SessionDetails != "a" {
		t.Errorf("Merge() = %v", ids(got))
	}
}

// TestCache_RenameNoDuplicate tests that a rename never leaves both ids listed
func TestCache_RenameNoDuplicate(t *testing.T) {
	c := New()
	c.Prepend(sess("local-1", "d", 1))

	if !c.Rename("local-1", "srv-1") {
		t.Fatal("Rename() reported missing entry")
	}
	got := c.Snapshot()
	if diff := cmp.Diff([]string{"srv-1"}, ids(got)); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if !got[0].IsSynced {
		t.Error("renamed entry not marked synced")
	}
	if c.Get("local-1") != nil {
		t.Error("old id still resolves")
	}
}

// TestCache_RenameIntoExisting tests a rename racing a merge that already brought the remote copy
func TestCache_RenameIntoExisting(t *testing.T) {
	c := New()
	c.Prepend(sess("local-1", "local", 1))
	c.MergeRemote([]*session.Session{sess("srv-1", "remote", 1)})

	c.Rename("local-1", "srv-1")
	got := c.Snapshot()
	if diff := cmp.Diff([]string{"srv-1"}, ids(got)); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if got[0].SessionDetails != "remote" {
		t.Errorf("kept %q, want remote copy", got[0].SessionDetails)
	}
}

func TestCache_RenameMissing(t *testing.T) {
	c := New()
	if c.Rename("nope", "srv") {
		t.Error("Rename() of missing entry reported true")
	}
}

// TestCache_PrependReplaces tests that prepending an existing id moves it to the front
func TestCache_PrependReplaces(t *testing.T) {
	c := New()
	c.Prepend(sess("a", "1", 1))
	c.Prepend(sess("b", "1", 1))
	c.Prepend(sess("a", "2", 1))
	got := c.Snapshot()
	if diff := cmp.Diff([]string{"a", "b"}, ids(got)); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if got[0].SessionDetails != "2" {
		t.Errorf("front entry = %q, want 2", got[0].SessionDetails)
	}
}

func TestCache_RemoveAndClear(t *testing.T) {
	c := New()
	c.Replace([]*session.Session{sess("a", "", 1), sess("b", "", 1)})
	if !c.Remove("a") {
		t.Error("Remove(a) = false")
	}
	if c.Remove("a") {
		t.Error("second Remove(a) = true")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d", c.Len())
	}
}

// TestCache_Stats tests the statistics projection
func TestCache_Stats(t *testing.T) {
	c := New()
	if got := c.Stats(); got != (Stats{}) {
		t.Errorf("empty Stats() = %+v", got)
	}
	c.Replace([]*session.Session{sess("a", "", 3), sess("b", "", 2)})
	if got, want := c.Stats(), (Stats{TotalSessions: 2, TotalStudents: 5}); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
	c.Remove("a")
	if got, want := c.Stats(), (Stats{TotalSessions: 1, TotalStudents: 2}); got != want {
		t.Errorf("Stats() after Remove = %+v, want %+v", got, want)
	}
}

// TestCache_CopiesOnTheWayInAndOut tests that callers cannot mutate cached entries
func TestCache_CopiesOnTheWayInAndOut(t *testing.T) {
	c := New()
	in := sess("a", "orig", 1)
	c.Prepend(in)
	in.SessionDetails = "changed"

	out := c.Get("a")
	out.Students[0].Status = session.StatusPresent

	again := c.Get("a")
	if again.SessionDetails != "orig" || again.Students[0].Status != session.StatusAbsent {
		t.Errorf("cached entry mutated: %+v", again)
	}
}
