package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/zentalk-chat/pkg/network"
	"github.com/ZentaChain/zentalk-chat/pkg/storage"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status        string    `json:"status"`
	Sessions      int       `json:"sessions"`
	UptimeSeconds int64     `json:"uptimeSeconds"`
	CheckedAt     time.Time `json:"checkedAt"`
}

// SessionsResponse is returned by GET /api/v1/sessions
type SessionsResponse struct {
	Success  bool                  `json:"success"`
	Count    int                   `json:"count"`
	Sessions []network.SessionInfo `json:"sessions"`
}

// EventsResponse is returned by GET /api/v1/events
type EventsResponse struct {
	Success bool             `json:"success"`
	Count   int              `json:"count"`
	Events  []*storage.Event `json:"events"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:        "ok",
		Sessions:      len(s.relay.Sessions()),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		CheckedAt:     time.Now(),
	})
}

// handleSessions handles GET /api/v1/sessions
func (s *Server) handleSessions(c *gin.Context) {
	sessions := s.relay.Sessions()
	if sessions == nil {
		sessions = []network.SessionInfo{}
	}

	c.JSON(http.StatusOK, SessionsResponse{
		Success:  true,
		Count:    len(sessions),
		Sessions: sessions,
	})
}

// handleStats handles GET /api/v1/stats
func (s *Server) handleStats(c *gin.Context) {
	data := gin.H{"relay": s.relay.GetStats()}

	if s.events != nil {
		journalStats, err := s.events.GetJournalStats()
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "Failed to read journal",
				Message: err.Error(),
			})
			return
		}
		data["journal"] = journalStats
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: data})
}

// handleEvents handles GET /api/v1/events?limit=N
func (s *Server) handleEvents(c *gin.Context) {
	if s.events == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Journal disabled",
			Message: "Start the relay with --journal to record events",
		})
		return
	}

	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid limit",
				Message: "limit must be a positive number",
			})
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := s.events.RecentEvents(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to read journal",
			Message: err.Error(),
		})
		return
	}
	if events == nil {
		events = []*storage.Event{}
	}

	c.JSON(http.StatusOK, EventsResponse{
		Success: true,
		Count:   len(events),
		Events:  events,
	})
}
