package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ginkida/chat-gateway/internal/config"
	"github.com/ginkida/chat-gateway/internal/middleware"
)

// Server wraps the HTTP server with graceful shutdown.
type Server struct {
	httpServer  *http.Server
	cfg         *config.Config
	deps        Deps
	rateLimiter *middleware.RateLimiter
	logger      zerolog.Logger

	// Cancels the base context every request context derives from.
	cancelBase context.CancelFunc
}

// New creates a new Server.
func New(cfg *config.Config, deps Deps) *Server {
	var rl *middleware.RateLimiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		rl = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	router := NewRouter(cfg, deps, rl)

	base, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeoutSec) * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}

	if cfg.Server.TLS.Enabled() {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer:  srv,
		cfg:         cfg,
		deps:        deps,
		rateLimiter: rl,
		logger:      deps.Logger.With().Str("component", "server").Logger(),
		cancelBase:  cancel,
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server (TLS if configured, plaintext otherwise).
// It returns nil once Shutdown has been called.
func (s *Server) ListenAndServe() error {
	var err error
	if s.cfg.Server.TLS.Enabled() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Bool("tls", true).Msg("chat gateway listening")
		err = s.httpServer.ListenAndServeTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
	} else {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("chat gateway listening")
		err = s.httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
// Order: end open streams → stop HTTP → cleanup goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Int("active_streams", s.deps.Bridge.Active()).Msg("shutting down")

	// 1. Open streams see their request context done and send the end frame.
	s.cancelBase()

	// 2. Stop HTTP
	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("http shutdown incomplete")
	}

	// 3. Cleanup goroutines
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	s.deps.Sessions.Stop()
	return err
}
