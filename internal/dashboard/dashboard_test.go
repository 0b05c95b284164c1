package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/myclass/attendsync/internal/auth"
	"github.com/myclass/attendsync/internal/localdb"
	"github.com/myclass/attendsync/internal/reconcile"
	"github.com/myclass/attendsync/internal/remote/remotetest"
	"github.com/myclass/attendsync/internal/session"
	"github.com/myclass/attendsync/internal/sessioncache"
)

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	cfg.Logger = log.New(io.Discard, "", 0)
	server := NewServer(cfg)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

func dial(t *testing.T, server *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("Failed to decode event: %v", err)
	}
	return ev
}

func sampleSession(id string) *session.Session {
	return &session.Session{
		ID:             id,
		SessionDetails: "CS401 - P3",
		Subject:        &session.Subject{Code: "CS401", Name: "Compilers"},
		MarkedBy:       "u1",
		Students: []session.Student{
			{RegNo: "1", Name: "A", Status: session.StatusPresent},
			{RegNo: "2", Name: "B", Status: session.StatusAbsent},
			{RegNo: "3", Name: "C", Status: session.StatusPresent},
		},
	}
}

func TestFeed_BacklogAndRewrite(t *testing.T) {
	f := NewFeed(2, log.New(io.Discard, "", 0))
	f.SessionSaved(sampleSession("100-aaa"))
	f.SessionSaved(sampleSession("200-bbb"))
	f.SessionSynced("200-bbb", "srv-9")
	f.StatsChanged(sessioncache.Stats{TotalSessions: 2, TotalStudents: 6})

	snap := f.Snapshot()
	if snap.Kind != KindSnapshot || snap.Stats == nil || snap.Stats.TotalSessions != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	// Stats events are not activity; the oldest save fell out of the backlog.
	if len(snap.Recent) != 2 || snap.Recent[0].Kind != KindSaved || snap.Recent[1].Kind != KindSynced {
		t.Fatalf("recent = %+v", snap.Recent)
	}
	sum := snap.Recent[0].Session
	if sum.ID != "srv-9" || !sum.IsSynced {
		t.Errorf("saved entry = %+v, want moved to srv-9", sum)
	}
	if sum.Present != 2 || sum.Absent != 1 || sum.Subject != "CS401" {
		t.Errorf("summary = %+v", sum)
	}
}

func TestFeed_DropsSlowSubscriber(t *testing.T) {
	f := NewFeed(0, log.New(io.Discard, "", 0))
	sub, _, err := f.subscribe(1)
	if err != nil {
		t.Fatalf("subscribe() failed: %v", err)
	}
	f.SessionDeleted("a")
	f.SessionDeleted("b") // buffer full

	if f.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d, want slow subscriber dropped", f.Subscribers())
	}
	if _, ok := <-sub.events; !ok {
		t.Fatal("buffered event lost")
	}
	if _, ok := <-sub.events; ok {
		t.Error("events channel still open")
	}
	f.unsubscribe(sub) // already dropped
}

func TestServer_HealthAndSnapshot(t *testing.T) {
	server := startServer(t, Config{})
	server.StatsChanged(sessioncache.Stats{TotalSessions: 3, TotalStudents: 90})
	server.SessionSaved(sampleSession("srv-1"))

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	var health map[string]any
	err = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if err != nil || health["status"] != "ok" || health["totalSessions"] != float64(3) {
		t.Errorf("health = %v, %v", health, err)
	}

	resp, err = http.Get("http://" + server.Addr() + "/snapshot")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	var snap Event
	err = json.NewDecoder(resp.Body).Decode(&snap)
	resp.Body.Close()
	if err != nil || len(snap.Recent) != 1 || snap.Recent[0].Session.ID != "srv-1" {
		t.Errorf("snapshot = %+v, %v", snap, err)
	}

	resp, err = http.Get("http://" + server.Addr() + "/")
	if err != nil {
		t.Fatalf("index failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "CS401 - P3: 2 present, 1 absent (pending)") {
		t.Errorf("index page:\n%s", body)
	}
}

func TestServer_SnapshotFirst(t *testing.T) {
	server := startServer(t, Config{})
	server.StatsChanged(sessioncache.Stats{TotalSessions: 3, TotalStudents: 90})

	conn := dial(t, server)
	ev := readEvent(t, conn)
	if ev.Kind != KindSnapshot || ev.Stats == nil || ev.Stats.TotalStudents != 90 {
		t.Fatalf("first event = %+v, want snapshot with stats", ev)
	}
	if server.Subscribers() != 1 {
		t.Errorf("Subscribers() = %d, want 1", server.Subscribers())
	}
}

// TestServer_ReconcilerActivity follows an offline save and the sweep that syncs it.
func TestServer_ReconcilerActivity(t *testing.T) {
	server := startServer(t, Config{})
	conn := dial(t, server)
	readEvent(t, conn) // snapshot

	store := localdb.NewHandle(filepath.Join(t.TempDir(), "dash.db"), time.UTC)
	t.Cleanup(func() { store.Close() })
	svc := remotetest.NewMemory()
	svc.SetOffline(true)
	r := reconcile.New(reconcile.Config{
		Store:    store,
		Remote:   svc,
		Owner:    auth.Static("u1"),
		Observer: server,
		Logger:   log.New(io.Discard, "", 0),
	})

	ctx := context.Background()
	s, err := r.Save(ctx, session.Context{SessionDetails: "P1"}, []session.Student{
		{RegNo: "1", Name: "A", Status: session.StatusPresent},
		{RegNo: "2", Name: "B"},
	})
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	svc.SetOffline(false)
	if _, err := r.Sweep(ctx); err != nil {
		t.Fatalf("Sweep() failed: %v", err)
	}

	seen := map[Kind]Event{}
	for {
		ev := readEvent(t, conn)
		seen[ev.Kind] = ev
		if ev.Kind == KindSweep {
			break
		}
	}

	saved, ok := seen[KindSaved]
	if !ok {
		t.Fatalf("no session_saved event, got %v", seen)
	}
	if sum := saved.Session; sum.ID != s.ID || sum.Present != 1 || sum.Absent != 1 || sum.IsSynced {
		t.Errorf("session_saved = %+v", sum)
	}
	synced, ok := seen[KindSynced]
	if !ok {
		t.Fatalf("no session_synced event, got %v", seen)
	}
	if synced.Synced.OldID != s.ID || synced.Synced.NewID != "srv-1" {
		t.Errorf("session_synced = %+v", synced.Synced)
	}
	if sw := seen[KindSweep].Sweep; sw.Owner != "u1" || sw.Synced != 1 {
		t.Errorf("sweep_complete = %+v", sw)
	}
}

func TestServer_StopDisconnectsScreens(t *testing.T) {
	server := startServer(t, Config{})
	conn := dial(t, server)
	readEvent(t, conn)

	if err := server.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("read after Stop = %v, want going away", err)
	}
}
