package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ginkida/chat-gateway/internal/agent"
	"github.com/ginkida/chat-gateway/internal/config"
	"github.com/ginkida/chat-gateway/internal/logging"
	"github.com/ginkida/chat-gateway/internal/metrics"
	"github.com/ginkida/chat-gateway/internal/server"
	"github.com/ginkida/chat-gateway/internal/session"
	"github.com/ginkida/chat-gateway/internal/sse"
)

var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, envFile string

	root := &cobra.Command{
		Use:           "chat-gateway",
		Short:         "HTTP gateway streaming chat sessions as server-sent events",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := run(cmd.Context(), configPath, envFile); err != nil {
				fmt.Fprintln(os.Stderr, "chat-gateway:", err)
				return err
			}
			return nil
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to config file (.yaml or .toml)")
	root.Flags().StringVar(&envFile, "env-file", "", "path to .env file (default ./.env if present)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "chat-gateway", version)
		},
	})
	return root
}

func run(parent context.Context, configPath, envFile string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	zerolog.DefaultContextLogger = &logger

	factory, err := agent.NewFactory(ctx, cfg.Agent)
	if err != nil {
		return fmt.Errorf("agent backend: %w", err)
	}

	var m *metrics.Metrics
	var bridgeObserver sse.Observer
	sessionOpts := []session.Option{
		session.WithMaxSessions(cfg.Sessions.MaxSessions),
		session.WithIdleTTL(cfg.Sessions.IdleTTL()),
		session.WithLogger(logger.With().Str("component", "sessions").Logger()),
	}
	if cfg.Metrics.Enabled {
		m = metrics.New()
		bridgeObserver = m
		sessionOpts = append(sessionOpts, session.WithObserver(m))
	}

	sessions := session.NewManager(factory, sessionOpts...)
	bridge := sse.NewBridge(sse.Options{
		PollInterval:      cfg.Stream.PollInterval(),
		HeartbeatInterval: cfg.Stream.HeartbeatInterval(),
		JoinTimeout:       cfg.Stream.JoinTimeout(),
		QueueSize:         cfg.Stream.QueueSize,
		Retry:             cfg.Stream.Retry(),
	}, bridgeObserver)

	srv := server.New(cfg, server.Deps{
		Sessions: sessions,
		Bridge:   bridge,
		Metrics:  m,
		Logger:   logger,
	})

	logger.Info().
		Str("version", version).
		Str("backend", cfg.Agent.Backend).
		Int("max_sessions", cfg.Sessions.MaxSessions).
		Dur("idle_ttl", cfg.Sessions.IdleTTL()).
		Msg("starting chat gateway")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
