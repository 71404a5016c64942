package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Second, cfg.Stream.PollInterval())
	assert.Equal(t, 15*time.Second, cfg.Stream.HeartbeatInterval())
	assert.Equal(t, 200*time.Millisecond, cfg.Stream.JoinTimeout())
	assert.Equal(t, 15*time.Second, cfg.Stream.Retry())
	assert.Equal(t, 128, cfg.Stream.QueueSize)
	assert.Zero(t, cfg.Sessions.MaxSessions)
	assert.Zero(t, cfg.Sessions.IdleTTL())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: 9090
stream:
  heartbeat_interval_sec: 30
sessions:
  max_sessions: 5
agent:
  backend: ark
  ark:
    model: doubao-pro
    api_key: secret
    temperature: 0.3
cors:
  allowed_origins: ["https://example.com"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Stream.HeartbeatInterval())
	assert.Equal(t, 1000, cfg.Stream.PollIntervalMs, "unset fields keep defaults")
	assert.Equal(t, 5, cfg.Sessions.MaxSessions)
	assert.Equal(t, BackendArk, cfg.Agent.Backend)
	require.NotNil(t, cfg.Agent.Ark.Temperature)
	assert.InDelta(t, 0.3, *cfg.Agent.Ark.Temperature, 1e-6)
	assert.Nil(t, cfg.Agent.Ark.TopP)
	assert.Equal(t, []string{"https://example.com"}, cfg.CORS.AllowedOrigins)
	require.NoError(t, cfg.Validate())
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "gateway.toml", `
[server]
port = 7070

[stream]
queue_size = 16
retry_ms = 0

[agent.echo]
delay_ms = 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 16, cfg.Stream.QueueSize)
	assert.Zero(t, cfg.Stream.Retry())
	assert.Zero(t, cfg.Agent.Echo.Delay())
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", "server: [unclosed")
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	secret := writeFile(t, "ark_key", "from-file\n")

	t.Setenv("CHAT_GATEWAY_SERVER_PORT", "9999")
	t.Setenv("CHAT_GATEWAY_STREAM_QUEUE_SIZE", "64")
	t.Setenv("CHAT_GATEWAY_SESSIONS_IDLE_TTL_MINUTES", "30")
	t.Setenv("CHAT_GATEWAY_RATELIMIT_RPS", "2.5")
	t.Setenv("CHAT_GATEWAY_METRICS_ENABLED", "false")
	t.Setenv("CHAT_GATEWAY_CORS_ALLOWED_ORIGINS", "https://a.test, https://b.test")
	t.Setenv("CHAT_GATEWAY_ARK_API_KEY", "")
	t.Setenv("CHAT_GATEWAY_ARK_API_KEY_FILE", secret)

	cfg, err := Load(writeFile(t, "config.yaml", "server:\n  port: 1234\n"))
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 64, cfg.Stream.QueueSize)
	assert.Equal(t, 30*time.Minute, cfg.Sessions.IdleTTL())
	assert.InDelta(t, 2.5, cfg.RateLimit.RequestsPerSecond, 1e-9)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "from-file", cfg.Agent.Ark.APIKey)
}

func TestEnvOverrideRejectsGarbage(t *testing.T) {
	t.Setenv("CHAT_GATEWAY_STREAM_QUEUE_SIZE", "lots")
	_, err := Load(writeFile(t, "config.yaml", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHAT_GATEWAY_STREAM_QUEUE_SIZE")
}

func TestLoadEnvFile(t *testing.T) {
	path := writeFile(t, "test.env", "CHAT_GATEWAY_TEST_DOTENV=loaded\n")
	t.Setenv("CHAT_GATEWAY_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("CHAT_GATEWAY_TEST_DOTENV"))

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "loaded", os.Getenv("CHAT_GATEWAY_TEST_DOTENV"))

	require.Error(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"zero body limit", func(c *Config) { c.Server.MaxBodyBytes = 0 }},
		{"zero shutdown timeout", func(c *Config) { c.Server.ShutdownTimeoutSec = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"zero poll interval", func(c *Config) { c.Stream.PollIntervalMs = 0 }},
		{"heartbeat shorter than poll", func(c *Config) {
			c.Stream.PollIntervalMs = 5000
			c.Stream.HeartbeatIntervalSec = 1
		}},
		{"zero join timeout", func(c *Config) { c.Stream.JoinTimeoutMs = 0 }},
		{"zero queue", func(c *Config) { c.Stream.QueueSize = 0 }},
		{"negative retry", func(c *Config) { c.Stream.RetryMs = -1 }},
		{"negative max sessions", func(c *Config) { c.Sessions.MaxSessions = -1 }},
		{"negative idle ttl", func(c *Config) { c.Sessions.IdleTTLMinutes = -1 }},
		{"rate without burst", func(c *Config) { c.RateLimit.Burst = 0 }},
		{"unknown backend", func(c *Config) { c.Agent.Backend = "gpt" }},
		{"ark without model", func(c *Config) {
			c.Agent.Backend = BackendArk
			c.Agent.Ark.APIKey = "k"
		}},
		{"ark without credentials", func(c *Config) {
			c.Agent.Backend = BackendArk
			c.Agent.Ark.Model = "m"
		}},
		{"ark with half an AK/SK pair", func(c *Config) {
			c.Agent.Backend = BackendArk
			c.Agent.Ark.Model = "m"
			c.Agent.Ark.AccessKey = "ak"
		}},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }},
		{"tls half configured", func(c *Config) { c.Server.TLS.CertFile = "cert.pem" }},
		{"tls files missing", func(c *Config) {
			c.Server.TLS.CertFile = "/nonexistent/cert.pem"
			c.Server.TLS.KeyFile = "/nonexistent/key.pem"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateArkWithAKSK(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agent.Backend = BackendArk
	cfg.Agent.Ark.Model = "m"
	cfg.Agent.Ark.AccessKey = "ak"
	cfg.Agent.Ark.SecretKey = "sk"
	assert.NoError(t, cfg.Validate())
}

func TestAddr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8081
	assert.Equal(t, "127.0.0.1:8081", cfg.Addr())
}
