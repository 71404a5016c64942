package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/ginkida/chat-gateway/internal/config"
	"github.com/ginkida/chat-gateway/internal/handler"
	"github.com/ginkida/chat-gateway/internal/metrics"
	mw "github.com/ginkida/chat-gateway/internal/middleware"
	"github.com/ginkida/chat-gateway/internal/session"
	"github.com/ginkida/chat-gateway/internal/sse"
)

// Deps are the long-lived components the HTTP surface serves.
type Deps struct {
	Sessions *session.Manager
	Bridge   *sse.Bridge
	Metrics  *metrics.Metrics // nil disables /metrics and request metrics
	Logger   zerolog.Logger
}

// NewRouter creates the chi router with all routes registered.
// rateLimiter may be nil.
func NewRouter(cfg *config.Config, deps Deps, rateLimiter *mw.RateLimiter) http.Handler {
	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(mw.RequestID)                          // 1. assign request ID
	r.Use(mw.ClientID)                           // 2. client identity for logs and limits
	r.Use(mw.RequestLogger(deps.Logger))         // 3. request logger in ctx + access log
	r.Use(chimw.Recoverer)                       // 4. panic recovery
	r.Use(deps.Metrics.Middleware)               // 5. request metrics
	r.Use(corsHandler(cfg.CORS))                 // 6. browser clients
	r.Use(mw.BodyLimit(cfg.Server.MaxBodyBytes)) // 7. body size limit

	healthH := handler.NewHealthHandler(deps.Sessions, deps.Bridge)
	sessionH := handler.NewSessionHandler(deps.Sessions)
	queryH := handler.NewQueryHandler(deps.Sessions, deps.Bridge, cfg.CORS.AllowedOrigins)

	r.Get("/health", healthH.Handle)
	if deps.Metrics != nil && cfg.Metrics.Enabled {
		r.Method(http.MethodGet, cfg.Metrics.Path, deps.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if rateLimiter != nil {
			r.Use(rateLimiter.Middleware())
		}

		r.Group(func(r chi.Router) {
			if cfg.Server.RequestTimeoutSec > 0 {
				r.Use(chimw.Timeout(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second))
			}
			r.Post("/start_session", sessionH.Start)
			r.Post("/end_session", sessionH.End)
		})

		// Streams: no timeout, heartbeats keep them alive
		r.Get("/query", queryH.Stream)
		r.Get("/query/ws", queryH.StreamWS)
	})

	return r
}

func corsHandler(c config.CORSConfig) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: c.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID", "X-Client-ID", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	})
}
