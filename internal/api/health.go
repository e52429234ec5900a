package api

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status string `json:"status"`
	Redis  string `json:"redis,omitempty"`
	Error  string `json:"error,omitempty"`

	Connections     int `json:"connections"`
	PendingReleases int `json:"pendingReleases"`
}

// handleHealth handles GET /healthz.
// Returns 200 OK if Redis is accessible, 503 Service Unavailable otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "unhealthy",
			Redis:  "disconnected",
			Error:  err.Error(),
		})
		return
	}

	resp := HealthResponse{
		Status:          "healthy",
		Redis:           "connected",
		PendingReleases: s.locks.PendingReleases(),
	}
	if s.presence != nil {
		resp.Connections = s.presence.ConnectionCount()
	}
	s.writeJSON(w, http.StatusOK, resp)
}
