// Package dashboard streams attendance activity to second screens over
// WebSocket.
//
// A Feed observes the reconciler and keeps the latest statistics plus a
// short backlog of saves, id rewrites, deletions and sweep results. Each
// screen connecting to /ws first receives a snapshot of that state, then
// every event as it happens.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds each frame sent to a screen.
const writeTimeout = 5 * time.Second

// Config holds server configuration.
type Config struct {
	// Port to listen on (0 picks a free port)
	Port int

	// Backlog is the number of activity events kept for new screens
	// (default: DefaultBacklog).
	Backlog int

	// Buffer is the number of events a screen may lag behind before it is
	// dropped (default: 64).
	Buffer int

	Logger *log.Logger
}

// Server serves a Feed over HTTP. It embeds the feed, so a *Server can be
// handed to the reconciler as its Observer.
type Server struct {
	*Feed

	addr   string
	buffer int
	logger *log.Logger

	listener net.Listener
	http     *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup
}

// NewServer creates a dashboard server. Call Start to listen.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		Feed:   NewFeed(cfg.Backlog, cfg.Logger),
		addr:   fmt.Sprintf(":%d", cfg.Port),
		buffer: cfg.Buffer,
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handler returns the dashboard routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveFeed)
	mux.HandleFunc("GET /snapshot", s.serveSnapshot)
	mux.HandleFunc("GET /health", s.serveHealth)
	mux.HandleFunc("GET /{$}", s.serveIndex)
	return mux
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	s.logger.Printf("Dashboard listening on %s", ln.Addr())
	return nil
}

// Stop disconnects every screen and shuts the listener down.
func (s *Server) Stop() error {
	s.cancel()
	s.closeAll()
	s.conns.Wait()

	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("dashboard shutdown: %w", err)
	}
	return nil
}

// Addr returns the listening address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// serveFeed sends the snapshot, then relays feed events until the screen
// goes away, falls behind, or the server stops.
func (s *Server) serveFeed(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "dashboard stopping", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()

	sub, snap, err := s.subscribe(s.buffer)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "snapshot failed")
		return
	}
	defer s.unsubscribe(sub)
	s.logger.Printf("Screen connected (total: %d)", s.Subscribers())

	// Screens only listen; CloseRead discards their frames and cancels ctx
	// when they disconnect. It must not inherit s.ctx: a canceled read
	// context makes the library close with a policy violation.
	ctx := conn.CloseRead(context.Background())

	if err := s.write(ctx, conn, snap); err != nil {
		return
	}
	for {
		select {
		case data, ok := <-sub.events:
			if !ok {
				if s.ctx.Err() != nil {
					conn.Close(websocket.StatusGoingAway, "dashboard stopping")
				} else {
					conn.Close(websocket.StatusPolicyViolation, "too slow")
				}
				return
			}
			if err := s.write(ctx, conn, data); err != nil {
				return
			}
		case <-s.ctx.Done():
			conn.Close(websocket.StatusGoingAway, "dashboard stopping")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) serveSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Snapshot())
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	st := s.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":        "ok",
		"screens":       s.Subscribers(),
		"totalSessions": st.TotalSessions,
		"totalStudents": st.TotalStudents,
	})
}

var indexPage = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>MyClass Attendance</title></head>
<body>
<h1>MyClass Attendance</h1>
<p>{{.Stats.TotalSessions}} sessions, {{.Stats.TotalStudents}} student marks.</p>
<ul>
{{range .Recent}}{{if .Session}}<li>{{.At.Format "15:04"}} {{.Session.SessionDetails}}: {{.Session.Present}} present, {{.Session.Absent}} absent{{if not .Session.IsSynced}} (pending){{end}}</li>
{{end}}{{end}}</ul>
<p>Live feed: <code>ws://{{.Host}}/ws</code></p>
</body>
</html>
`))

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := indexPage.Execute(w, struct {
		Event
		Host string
	}{snap, r.Host})
	if err != nil {
		s.logger.Printf("Rendering index: %v", err)
	}
}
