package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHAT_GATEWAY_"

// Agent backends.
const (
	BackendEcho = "echo"
	BackendArk  = "ark"
)

type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Log       LogConfig       `yaml:"log" toml:"log"`
	Stream    StreamConfig    `yaml:"stream" toml:"stream"`
	Sessions  SessionsConfig  `yaml:"sessions" toml:"sessions"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" toml:"cors"`
	Agent     AgentConfig     `yaml:"agent" toml:"agent"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

type ServerConfig struct {
	Host                 string    `yaml:"host" toml:"host"`
	Port                 int       `yaml:"port" toml:"port"`
	ReadHeaderTimeoutSec int       `yaml:"read_header_timeout_sec" toml:"read_header_timeout_sec"`
	RequestTimeoutSec    int       `yaml:"request_timeout_sec" toml:"request_timeout_sec"`
	ShutdownTimeoutSec   int       `yaml:"shutdown_timeout_sec" toml:"shutdown_timeout_sec"`
	MaxBodyBytes         int64     `yaml:"max_body_bytes" toml:"max_body_bytes"`
	TLS                  TLSConfig `yaml:"tls" toml:"tls"`
}

// TLSConfig holds TLS certificate paths. Both fields must be set to enable TLS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" toml:"cert_file"`
	KeyFile  string `yaml:"key_file" toml:"key_file"`
}

// Enabled returns true if both cert and key files are configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // json or console
}

// StreamConfig tunes the query stream bridge.
type StreamConfig struct {
	PollIntervalMs       int `yaml:"poll_interval_ms" toml:"poll_interval_ms"`
	HeartbeatIntervalSec int `yaml:"heartbeat_interval_sec" toml:"heartbeat_interval_sec"`
	JoinTimeoutMs        int `yaml:"join_timeout_ms" toml:"join_timeout_ms"`
	QueueSize            int `yaml:"queue_size" toml:"queue_size"`
	RetryMs              int `yaml:"retry_ms" toml:"retry_ms"` // 0 omits the retry frame
}

func (s StreamConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

func (s StreamConfig) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatIntervalSec) * time.Second
}

func (s StreamConfig) JoinTimeout() time.Duration {
	return time.Duration(s.JoinTimeoutMs) * time.Millisecond
}

func (s StreamConfig) Retry() time.Duration {
	return time.Duration(s.RetryMs) * time.Millisecond
}

type SessionsConfig struct {
	MaxSessions    int `yaml:"max_sessions" toml:"max_sessions"`         // 0 = unlimited
	IdleTTLMinutes int `yaml:"idle_ttl_minutes" toml:"idle_ttl_minutes"` // 0 = never evict
}

func (s SessionsConfig) IdleTTL() time.Duration {
	return time.Duration(s.IdleTTLMinutes) * time.Minute
}

// RateLimitConfig limits requests per client. A zero rate disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

type AgentConfig struct {
	Backend string     `yaml:"backend" toml:"backend"`
	Echo    EchoConfig `yaml:"echo" toml:"echo"`
	Ark     ArkConfig  `yaml:"ark" toml:"ark"`
}

type EchoConfig struct {
	DelayMs int `yaml:"delay_ms" toml:"delay_ms"`
}

func (e EchoConfig) Delay() time.Duration {
	return time.Duration(e.DelayMs) * time.Millisecond
}

// ArkConfig configures the Volcengine Ark chat model.
type ArkConfig struct {
	BaseURL      string   `yaml:"base_url" toml:"base_url"`
	Region       string   `yaml:"region" toml:"region"`
	APIKey       string   `yaml:"api_key" toml:"api_key"`
	AccessKey    string   `yaml:"access_key" toml:"access_key"`
	SecretKey    string   `yaml:"secret_key" toml:"secret_key"`
	Model        string   `yaml:"model" toml:"model"`
	MaxTokens    *int     `yaml:"max_tokens" toml:"max_tokens"`
	Temperature  *float32 `yaml:"temperature" toml:"temperature"`
	TopP         *float32 `yaml:"top_p" toml:"top_p"`
	SystemPrompt string   `yaml:"system_prompt" toml:"system_prompt"`
	HistoryTurns int      `yaml:"history_turns" toml:"history_turns"` // 0 keeps all

	Breaker BreakerConfig `yaml:"breaker" toml:"breaker"`
}

// BreakerConfig fast-fails model calls after consecutive failures.
// MaxFailures 0 disables the breaker.
type BreakerConfig struct {
	MaxFailures     int `yaml:"max_failures" toml:"max_failures"`
	ResetTimeoutSec int `yaml:"reset_timeout_sec" toml:"reset_timeout_sec"`
}

func (b BreakerConfig) ResetTimeout() time.Duration {
	return time.Duration(b.ResetTimeoutSec) * time.Second
}

// HasCredentials reports whether an API key or an AK/SK pair is set.
func (a ArkConfig) HasCredentials() bool {
	return a.APIKey != "" || (a.AccessKey != "" && a.SecretKey != "")
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                 "0.0.0.0",
			Port:                 8080,
			ReadHeaderTimeoutSec: 10,
			RequestTimeoutSec:    30,
			ShutdownTimeoutSec:   15,
			MaxBodyBytes:         64 << 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Stream: StreamConfig{
			PollIntervalMs:       1000,
			HeartbeatIntervalSec: 15,
			JoinTimeoutMs:        200,
			QueueSize:            128,
			RetryMs:              15000,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Agent: AgentConfig{
			Backend: BackendEcho,
			Echo:    EchoConfig{DelayMs: 50},
			Ark: ArkConfig{
				SystemPrompt: "You are a helpful assistant.",
				HistoryTurns: 10,
				Breaker: BreakerConfig{
					MaxFailures:     5,
					ResetTimeoutSec: 30,
				},
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. An empty path means
// ./.env; a missing default file is not an error.
func LoadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads config from the given path, falling back to default locations.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	paths := []string{path}
	if path == "" {
		paths = []string{
			"./config.yaml",
			"./config.toml",
			filepath.Join(homeDir(), ".config", "chat-gateway", "config.yaml"),
		}
	}

	var loaded bool
	for _, p := range paths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if err := decode(p, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", p, err)
		}
		loaded = true
		break
	}

	if !loaded && path != "" {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(string(data), cfg)
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) error {
	envString("SERVER_HOST", &cfg.Server.Host)
	envString("TLS_CERT_FILE", &cfg.Server.TLS.CertFile)
	envString("TLS_KEY_FILE", &cfg.Server.TLS.KeyFile)
	envString("LOG_LEVEL", &cfg.Log.Level)
	envString("LOG_FORMAT", &cfg.Log.Format)
	envString("AGENT_BACKEND", &cfg.Agent.Backend)
	envString("ARK_BASE_URL", &cfg.Agent.Ark.BaseURL)
	envString("ARK_REGION", &cfg.Agent.Ark.Region)
	envString("ARK_MODEL", &cfg.Agent.Ark.Model)
	envString("ARK_SYSTEM_PROMPT", &cfg.Agent.Ark.SystemPrompt)
	envString("METRICS_PATH", &cfg.Metrics.Path)

	if v := envOrFile(EnvPrefix + "ARK_API_KEY"); v != "" {
		cfg.Agent.Ark.APIKey = v
	}
	if v := envOrFile(EnvPrefix + "ARK_ACCESS_KEY"); v != "" {
		cfg.Agent.Ark.AccessKey = v
	}
	if v := envOrFile(EnvPrefix + "ARK_SECRET_KEY"); v != "" {
		cfg.Agent.Ark.SecretKey = v
	}
	if v := os.Getenv(EnvPrefix + "CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORS.AllowedOrigins = splitList(v)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"SERVER_PORT", &cfg.Server.Port},
		{"SERVER_READ_HEADER_TIMEOUT_SEC", &cfg.Server.ReadHeaderTimeoutSec},
		{"SERVER_REQUEST_TIMEOUT_SEC", &cfg.Server.RequestTimeoutSec},
		{"SERVER_SHUTDOWN_TIMEOUT_SEC", &cfg.Server.ShutdownTimeoutSec},
		{"STREAM_POLL_INTERVAL_MS", &cfg.Stream.PollIntervalMs},
		{"STREAM_HEARTBEAT_INTERVAL_SEC", &cfg.Stream.HeartbeatIntervalSec},
		{"STREAM_JOIN_TIMEOUT_MS", &cfg.Stream.JoinTimeoutMs},
		{"STREAM_QUEUE_SIZE", &cfg.Stream.QueueSize},
		{"STREAM_RETRY_MS", &cfg.Stream.RetryMs},
		{"SESSIONS_MAX_SESSIONS", &cfg.Sessions.MaxSessions},
		{"SESSIONS_IDLE_TTL_MINUTES", &cfg.Sessions.IdleTTLMinutes},
		{"RATELIMIT_BURST", &cfg.RateLimit.Burst},
		{"ECHO_DELAY_MS", &cfg.Agent.Echo.DelayMs},
		{"ARK_HISTORY_TURNS", &cfg.Agent.Ark.HistoryTurns},
		{"ARK_BREAKER_MAX_FAILURES", &cfg.Agent.Ark.Breaker.MaxFailures},
		{"ARK_BREAKER_RESET_TIMEOUT_SEC", &cfg.Agent.Ark.Breaker.ResetTimeoutSec},
	}
	for _, e := range ints {
		if err := envInt(e.key, e.dst); err != nil {
			return err
		}
	}

	if v := os.Getenv(EnvPrefix + "SERVER_MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sSERVER_MAX_BODY_BYTES: %w", EnvPrefix, err)
		}
		cfg.Server.MaxBodyBytes = n
	}
	if v := os.Getenv(EnvPrefix + "RATELIMIT_RPS"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sRATELIMIT_RPS: %w", EnvPrefix, err)
		}
		cfg.RateLimit.RequestsPerSecond = n
	}
	if v := os.Getenv(EnvPrefix + "METRICS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sMETRICS_ENABLED: %w", EnvPrefix, err)
		}
		cfg.Metrics.Enabled = b
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Addr returns the listen address string.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func homeDir() string {
	home, _ := os.UserHomeDir()
	return home
}

// envOrFile returns the value of envKey, or reads from the file at envKey+"_FILE".
// This supports Docker Swarm secrets mounted at /run/secrets/<name>.
func envOrFile(envKey string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if path := os.Getenv(envKey + "_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}

// Validate checks the configuration for values the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive, got %d", c.Server.MaxBodyBytes)
	}
	if c.Server.ShutdownTimeoutSec <= 0 {
		return fmt.Errorf("server.shutdown_timeout_sec must be positive, got %d", c.Server.ShutdownTimeoutSec)
	}
	if c.Server.RequestTimeoutSec < 0 {
		return fmt.Errorf("server.request_timeout_sec must not be negative, got %d", c.Server.RequestTimeoutSec)
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}

	s := c.Stream
	if s.PollIntervalMs <= 0 {
		return fmt.Errorf("stream.poll_interval_ms must be positive, got %d", s.PollIntervalMs)
	}
	if s.HeartbeatIntervalSec <= 0 {
		return fmt.Errorf("stream.heartbeat_interval_sec must be positive, got %d", s.HeartbeatIntervalSec)
	}
	if s.HeartbeatInterval() < s.PollInterval() {
		return fmt.Errorf("stream.heartbeat_interval_sec (%s) must not be shorter than stream.poll_interval_ms (%s)",
			s.HeartbeatInterval(), s.PollInterval())
	}
	if s.JoinTimeoutMs <= 0 {
		return fmt.Errorf("stream.join_timeout_ms must be positive, got %d", s.JoinTimeoutMs)
	}
	if s.QueueSize <= 0 {
		return fmt.Errorf("stream.queue_size must be positive, got %d", s.QueueSize)
	}
	if s.RetryMs < 0 {
		return fmt.Errorf("stream.retry_ms must not be negative, got %d", s.RetryMs)
	}

	if c.Sessions.MaxSessions < 0 {
		return fmt.Errorf("sessions.max_sessions must not be negative, got %d", c.Sessions.MaxSessions)
	}
	if c.Sessions.IdleTTLMinutes < 0 {
		return fmt.Errorf("sessions.idle_ttl_minutes must not be negative, got %d", c.Sessions.IdleTTLMinutes)
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit.requests_per_second must not be negative, got %g", c.RateLimit.RequestsPerSecond)
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit.burst must be positive when rate limiting is enabled, got %d", c.RateLimit.Burst)
	}

	switch c.Agent.Backend {
	case BackendEcho:
		if c.Agent.Echo.DelayMs < 0 {
			return fmt.Errorf("agent.echo.delay_ms must not be negative, got %d", c.Agent.Echo.DelayMs)
		}
	case BackendArk:
		var missing []string
		if c.Agent.Ark.Model == "" {
			missing = append(missing, "agent.ark.model")
		}
		if !c.Agent.Ark.HasCredentials() {
			missing = append(missing, "agent.ark.api_key or agent.ark.access_key+secret_key")
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
		}
		if c.Agent.Ark.HistoryTurns < 0 {
			return fmt.Errorf("agent.ark.history_turns must not be negative, got %d", c.Agent.Ark.HistoryTurns)
		}
		if c.Agent.Ark.Breaker.MaxFailures < 0 || c.Agent.Ark.Breaker.ResetTimeoutSec < 0 {
			return fmt.Errorf("agent.ark.breaker values must not be negative")
		}
	default:
		return fmt.Errorf("agent.backend must be %q or %q, got %q", BackendEcho, BackendArk, c.Agent.Backend)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	// TLS: both or neither
	tls := c.Server.TLS
	if (tls.CertFile == "") != (tls.KeyFile == "") {
		return fmt.Errorf("tls: both cert_file and key_file must be set, or neither")
	}
	if tls.Enabled() {
		if _, err := os.Stat(tls.CertFile); err != nil {
			return fmt.Errorf("tls cert_file not readable: %w", err)
		}
		if _, err := os.Stat(tls.KeyFile); err != nil {
			return fmt.Errorf("tls key_file not readable: %w", err)
		}
	}

	return nil
}
