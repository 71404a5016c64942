package handler

import (
	"net/http"

	"github.com/ginkida/chat-gateway/internal/session"
	"github.com/ginkida/chat-gateway/internal/sse"
)

// HealthHandler serves the health check endpoint.
type HealthHandler struct {
	sessions *session.Manager
	bridge   *sse.Bridge
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(sessions *session.Manager, bridge *sse.Bridge) *HealthHandler {
	return &HealthHandler{sessions: sessions, bridge: bridge}
}

type healthResponse struct {
	Status        string `json:"status"`
	Sessions      int    `json:"sessions"`
	ActiveStreams int    `json:"active_streams"`
}

// Handle responds with server health status.
func (h *HealthHandler) Handle(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Sessions:      h.sessions.Count(),
		ActiveStreams: h.bridge.Active(),
	})
}
