// Package server is a reference implementation of the remote session
// service: the system of record that clients push attendance sessions to.
//
// Routes:
//
//	POST   /v1/sessions                              create, answers {ok, sessionId}
//	GET    /v1/sessions?markedBy=&startDate=&endDate= list, newest first
//	DELETE /v1/sessions/:id                          delete one, {ok:true} even when unknown
//	DELETE /v1/sessions?markedBy=                    delete all of an owner, {ok, deleted}
//	GET    /healthz
//	GET    /metrics
//
// When a signing key is configured every /v1 request must carry a bearer
// token whose subject is the markedBy it reads or writes.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/myclass/attendsync/internal/auth"
)

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default ":8090").
	Addr string

	// Repository stores sessions (default: in-memory).
	Repository Repository

	// SigningKey enables bearer authentication when non-empty.
	SigningKey string
	Issuer     string

	// Limiter throttles requests per client IP. Nil disables limiting.
	Limiter Limiter

	// Logger for server activity (default: stderr logger with [server] prefix).
	Logger *log.Logger

	// Now and NewID are replaced in tests.
	Now   func() time.Time
	NewID func() string
}

// Server serves the session API.
type Server struct {
	cfg     Config
	repo    Repository
	metrics *Metrics
	engine  *gin.Engine
	logger  *log.Logger

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup
}

// New builds the server and its routes. It does not listen until Start.
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8090"
	}
	if cfg.Repository == nil {
		cfg.Repository = NewMemoryRepository()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	s := &Server{
		cfg:     cfg,
		repo:    cfg.Repository,
		metrics: NewMetrics(),
		logger:  cfg.Logger,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Output:    s.logger.Writer(),
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(s.metrics.Middleware())
	if s.cfg.Limiter != nil {
		r.Use(RateLimit(s.cfg.Limiter, s.metrics, s.logger))
	}

	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	r.GET("/healthz", s.handleHealth)

	v1 := r.Group("/v1")
	if s.cfg.SigningKey != "" {
		v1.Use(auth.Bearer(s.cfg.SigningKey, s.cfg.Issuer))
	}
	v1.POST("/sessions", s.handleCreate)
	v1.GET("/sessions", s.handleList)
	v1.DELETE("/sessions/:id", s.handleDelete)
	v1.DELETE("/sessions", s.handleDeleteAll)
	return r
}

// Handler returns the HTTP handler, for httptest or embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the bound address once started, otherwise the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Start begins serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	s.mu.Lock()
	s.listener = ln
	s.server = srv
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Session service listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP server down gracefully and closes the repository.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		s.logger.Println("Stopping session service")
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown: %w", err))
		}
		s.wg.Wait()
	}
	if err := s.repo.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close repository: %w", err))
	}
	return errors.Join(errs...)
}
