package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ginkida/chat-gateway/internal/session"
	"github.com/ginkida/chat-gateway/internal/sse"
)

// QueryHandler streams a session's answer to a query.
type QueryHandler struct {
	sessions *session.Manager
	bridge   *sse.Bridge
	upgrader wsUpgrader
}

// NewQueryHandler creates a query handler. allowedOrigins applies to the
// WebSocket variant; "*" accepts any origin.
func NewQueryHandler(sessions *session.Manager, bridge *sse.Bridge, allowedOrigins []string) *QueryHandler {
	return &QueryHandler{
		sessions: sessions,
		bridge:   bridge,
		upgrader: newWSUpgrader(allowedOrigins),
	}
}

// Stream handles GET /api/query as a server-sent event stream.
func (h *QueryHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id, sess, query, ok := h.resolve(w, r)
	if !ok {
		return
	}

	rw, err := sse.NewResponseWriter(w)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("cannot stream response")
		writeText(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	rw.Open()

	h.run(r, id, sess, query, rw)
}

// resolve validates session_id and query and looks the session up, writing
// the 400 or 404 response itself when it fails.
func (h *QueryHandler) resolve(w http.ResponseWriter, r *http.Request) (string, session.Session, string, bool) {
	q := r.URL.Query()
	if !q.Has("session_id") || !q.Has("query") {
		writeText(w, http.StatusBadRequest, "Missing session_id or query parameter")
		return "", nil, "", false
	}
	id, query := q.Get("session_id"), q.Get("query")

	sess, err := h.sessions.Get(id)
	if err != nil {
		var nf *session.ErrSessionNotFound
		if errors.As(err, &nf) {
			writeText(w, http.StatusNotFound, notFoundText(id))
			return "", nil, "", false
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Str("session_id", id).Msg("session lookup failed")
		writeText(w, http.StatusInternalServerError, "Session lookup failed")
		return "", nil, "", false
	}
	return id, sess, query, true
}

func (h *QueryHandler) run(r *http.Request, id string, sess session.Session, query string, fw sse.FrameWriter) {
	h.sessions.Touch(id)
	logger := zerolog.Ctx(r.Context()).With().Str("session_id", id).Logger()
	ctx := logger.WithContext(r.Context())

	sum := h.bridge.Stream(ctx, fw, sess, query)
	h.sessions.Touch(id)

	logger.Info().
		Int("items", sum.Items).
		Int("heartbeats", sum.Heartbeats).
		Bool("disconnected", sum.Disconnected).
		Bool("detached", sum.Detached).
		Bool("producer_error", sum.ProducerErr != nil).
		Msg("query stream closed")
}
