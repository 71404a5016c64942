package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ginkida/chat-gateway/internal/session"
)

// SessionHandler starts and ends chat sessions.
type SessionHandler struct {
	sessions *session.Manager
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sessions *session.Manager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type startResponse struct {
	SessionID string `json:"session_id"`
}

// Start handles POST /api/start_session.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	id, err := h.sessions.Create(r.Context())
	if err != nil {
		var capErr *session.ErrMaxSessionsReached
		if errors.As(err, &capErr) {
			logger.Warn().Int("limit", capErr.Limit).Msg("session limit reached")
			writeText(w, http.StatusTooManyRequests, "Session limit reached")
			return
		}
		logger.Error().Err(err).Msg("start session failed")
		writeText(w, http.StatusInternalServerError, "Failed to start session")
		return
	}

	logger.Info().Str("session_id", id).Msg("session started")
	writeJSON(w, http.StatusOK, startResponse{SessionID: id})
}

// End handles POST /api/end_session. The id is read from the query string,
// or from a form body when the query string has none.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	id, ok, err := endSessionID(r)
	if err != nil {
		writeText(w, http.StatusBadRequest, "Invalid form body")
		return
	}
	if !ok {
		writeText(w, http.StatusBadRequest, "Missing session_id parameter")
		return
	}

	if err := h.sessions.End(id); err != nil {
		var nf *session.ErrSessionNotFound
		if errors.As(err, &nf) {
			writeText(w, http.StatusNotFound, notFoundText(id))
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Str("session_id", id).Msg("end session failed")
		writeText(w, http.StatusInternalServerError, "Failed to end session")
		return
	}

	zerolog.Ctx(r.Context()).Info().Str("session_id", id).Msg("session ended")
	writeText(w, http.StatusOK, fmt.Sprintf("Session %s ended", id))
}

func endSessionID(r *http.Request) (string, bool, error) {
	if q := r.URL.Query(); q.Has("session_id") {
		return q.Get("session_id"), true, nil
	}
	if err := r.ParseForm(); err != nil {
		return "", false, err
	}
	if r.PostForm.Has("session_id") {
		return r.PostForm.Get("session_id"), true, nil
	}
	return "", false, nil
}

func notFoundText(id string) string {
	return fmt.Sprintf("Session %s not found", id)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
