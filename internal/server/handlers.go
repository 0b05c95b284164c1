package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/myclass/attendsync/internal/auth"
	"github.com/myclass/attendsync/internal/remote"
)

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	storeHealthy := s.repo.Ping(ctx) == nil
	status := http.StatusOK
	if !storeHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": "ok", "store": storeHealthy})
}

func (s *Server) handleCreate(c *gin.Context) {
	var req remote.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, remote.CreateResponse{OK: false, Message: err.Error()})
		return
	}
	if !auth.RequireOwner(c, req.MarkedBy) {
		return
	}

	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.cfg.Now()
	}
	id := s.cfg.NewID()
	if err := s.repo.Create(c.Request.Context(), id, createdAt, req); err != nil {
		s.logger.Printf("Create for %s failed: %v", req.MarkedBy, err)
		c.JSON(http.StatusInternalServerError, remote.CreateResponse{OK: false, Message: "failed to store session"})
		return
	}
	s.metrics.sessionsCreated.Inc()
	c.JSON(http.StatusCreated, remote.CreateResponse{OK: true, SessionID: id})
}

func (s *Server) handleList(c *gin.Context) {
	owner := c.Query("markedBy")
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "markedBy is required"})
		return
	}
	if !auth.RequireOwner(c, owner) {
		return
	}
	r, err := parseRange(c.Query("startDate"), c.Query("endDate"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}

	records, err := s.repo.List(c.Request.Context(), owner, r)
	if err != nil {
		s.logger.Printf("List for %s failed: %v", owner, err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "failed to list sessions"})
		return
	}
	if records == nil {
		records = []remote.SessionRecord{}
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) handleDelete(c *gin.Context) {
	owner := ""
	if claims, ok := auth.ClaimsFrom(c); ok {
		owner = claims.Owner()
	}
	deleted, err := s.repo.Delete(c.Request.Context(), c.Param("id"), owner)
	if err != nil {
		s.logger.Printf("Delete %s failed: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "failed to delete session"})
		return
	}
	resp := remote.DeleteResponse{OK: true}
	if deleted {
		resp.Deleted = 1
		s.metrics.sessionsDeleted.Inc()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteAll(c *gin.Context) {
	owner := c.Query("markedBy")
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "markedBy is required"})
		return
	}
	if !auth.RequireOwner(c, owner) {
		return
	}
	n, err := s.repo.DeleteByOwner(c.Request.Context(), owner)
	if err != nil {
		s.logger.Printf("Delete all for %s failed: %v", owner, err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "failed to delete sessions"})
		return
	}
	s.metrics.sessionsDeleted.Add(float64(n))
	c.JSON(http.StatusOK, remote.DeleteResponse{OK: true, Deleted: n})
}

// parseRange reads an optional inclusive creation-time range. Both ends
// must be given together.
func parseRange(start, end string) (*remote.DateRange, error) {
	if start == "" && end == "" {
		return nil, nil
	}
	if start == "" || end == "" {
		return nil, errBadRange
	}
	from, err := time.Parse(time.RFC3339Nano, start)
	if err != nil {
		return nil, errBadRange
	}
	to, err := time.Parse(time.RFC3339Nano, end)
	if err != nil {
		return nil, errBadRange
	}
	if to.Before(from) {
		return nil, errBadRange
	}
	return &remote.DateRange{Start: from, End: to}, nil
}

var errBadRange = errors.New("startDate and endDate must both be RFC 3339 times with startDate <= endDate")
