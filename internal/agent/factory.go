package agent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/ginkida/chat-gateway/internal/config"
	"github.com/ginkida/chat-gateway/internal/resilience"
	"github.com/ginkida/chat-gateway/internal/session"
)

// NewFactory returns the session factory for the configured backend.
func NewFactory(ctx context.Context, cfg config.AgentConfig) (session.Factory, error) {
	switch cfg.Backend {
	case config.BackendEcho:
		delay := cfg.Echo.Delay()
		return func(id string) (session.Session, error) {
			return NewEchoSession(id, delay), nil
		}, nil

	case config.BackendArk:
		cm, err := NewArkChatModel(ctx, cfg.Ark)
		if err != nil {
			return nil, err
		}
		chatCfg := ChatConfig{
			SystemPrompt: cfg.Ark.SystemPrompt,
			HistoryTurns: cfg.Ark.HistoryTurns,
		}
		if b := cfg.Ark.Breaker; b.MaxFailures > 0 {
			chatCfg.Breaker = resilience.NewBreaker(b.MaxFailures, b.ResetTimeout())
		}
		backend, err := NewChatBackend(ctx, cm, chatCfg)
		if err != nil {
			return nil, err
		}
		return backend.NewSession, nil

	default:
		return nil, fmt.Errorf("unsupported agent backend %q", cfg.Backend)
	}
}

// NewArkChatModel builds a Volcengine Ark chat model from cfg.
func NewArkChatModel(ctx context.Context, cfg config.ArkConfig) (model.ChatModel, error) {
	if cfg.Model == "" || !cfg.HasCredentials() {
		return nil, fmt.Errorf("ark credentials or model missing: need model plus api_key or access_key/secret_key")
	}

	cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		Region:      cfg.Region,
		APIKey:      cfg.APIKey,
		AccessKey:   cfg.AccessKey,
		SecretKey:   cfg.SecretKey,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
	})
	if err != nil {
		return nil, fmt.Errorf("create ark chat model: %w", err)
	}
	return cm, nil
}
