package handler

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ginkida/chat-gateway/internal/sse"
)

const wsWriteTimeout = 10 * time.Second

type wsUpgrader = websocket.Upgrader

func newWSUpgrader(allowedOrigins []string) wsUpgrader {
	allowAll := false
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowAll {
				return true
			}
			if _, ok := allowed[strings.ToLower(origin)]; ok {
				return true
			}
			// Same-origin requests are always fine.
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		},
	}
}

// StreamWS handles GET /api/query/ws: the same query stream delivered as
// WebSocket text messages. Closing the socket from the client side counts as
// a disconnect.
func (h *QueryHandler) StreamWS(w http.ResponseWriter, r *http.Request) {
	id, sess, query, ok := h.resolve(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	h.run(r.WithContext(ctx), id, sess, query, &wsFrameWriter{conn: conn})

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

type wsEvent struct {
	Event string `json:"event"`
}

// wsFrameWriter maps bridge frames onto WebSocket messages. Heartbeats become
// ping control frames and the retry hint has no equivalent.
type wsFrameWriter struct {
	conn *websocket.Conn
}

func (fw *wsFrameWriter) WriteFrame(f sse.Frame) error {
	deadline := time.Now().Add(wsWriteTimeout)
	switch f.Kind {
	case sse.FrameRetry:
		return nil
	case sse.FrameHeartbeat:
		return fw.conn.WriteControl(websocket.PingMessage, nil, deadline)
	}

	if err := fw.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	switch f.Kind {
	case sse.FrameStart:
		return fw.conn.WriteJSON(wsEvent{Event: "start"})
	case sse.FrameEnd:
		return fw.conn.WriteJSON(wsEvent{Event: "end"})
	default:
		return fw.conn.WriteJSON(f.Item)
	}
}
