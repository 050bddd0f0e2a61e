package config_test

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/pkg/wire"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  shutdown_timeout: 5s

upstream:
  url: wss://realtime.example.com/v1/realtime
  api_key: sk-test
  model: gpt-4o-mini-realtime
  dial_timeout: 3s

proxy:
  path: /v1/agent
  auth_token: letmein
  default_voice: verse
  max_sessions: 8

functions:
  path: /functions
  endpoint: http://localhost:9090/functions
  timeout: 2s

history:
  backend: badger
  badger_path: /var/lib/voxbridge
  limit: 40

client:
  url: ws://localhost:9090/v1/agent
  upstream: realtime
  prompt: You are a concise assistant.
  greeting: Hello!
  input_sample_rate: 48000
  idle_timeout: 30s
  history_key: kitchen
  functions:
    - name: get_current_time
      description: Returns the current time.
      parameters:
        type: object
        properties: {}
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("shutdown_timeout: got %v, want 5s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Upstream.Model != "gpt-4o-mini-realtime" {
		t.Errorf("upstream.model: got %q", cfg.Upstream.Model)
	}
	if cfg.Upstream.DialTimeout != 3*time.Second {
		t.Errorf("upstream.dial_timeout: got %v, want 3s", cfg.Upstream.DialTimeout)
	}
	if cfg.Proxy.Path != "/v1/agent" || cfg.Proxy.AuthToken != "letmein" || cfg.Proxy.MaxSessions != 8 {
		t.Errorf("proxy: got %+v", cfg.Proxy)
	}
	if cfg.History.Backend != config.HistoryBadger || cfg.History.Limit != 40 {
		t.Errorf("history: got %+v", cfg.History)
	}
	if cfg.Client.Upstream != wire.UpstreamRealtime {
		t.Errorf("client.upstream: got %q, want %q", cfg.Client.Upstream, wire.UpstreamRealtime)
	}
	if cfg.Client.InputSampleRate != 48000 {
		t.Errorf("client.input_sample_rate: got %d, want 48000", cfg.Client.InputSampleRate)
	}
	if cfg.Client.IdleTimeout != 30*time.Second {
		t.Errorf("client.idle_timeout: got %v, want 30s", cfg.Client.IdleTimeout)
	}
	if len(cfg.Client.Functions) != 1 || cfg.Client.Functions[0].Name != "get_current_time" {
		t.Fatalf("client.functions: got %+v", cfg.Client.Functions)
	}
	if got := cfg.Client.Functions[0].Parameters["type"]; got != "object" {
		t.Errorf("function parameters type: got %v, want object", got)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "")

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Upstream.URL != "wss://api.openai.com/v1/realtime" {
		t.Errorf("upstream.url: got %q", cfg.Upstream.URL)
	}
	if cfg.Proxy.Path != "/agent" {
		t.Errorf("proxy.path: got %q, want /agent", cfg.Proxy.Path)
	}
	if cfg.Proxy.DefaultVoice != "alloy" {
		t.Errorf("proxy.default_voice: got %q, want alloy", cfg.Proxy.DefaultVoice)
	}
	if cfg.History.Backend != config.HistoryMemory {
		t.Errorf("history.backend: got %q, want memory", cfg.History.Backend)
	}
	if cfg.History.Limit != 20 {
		t.Errorf("history.limit: got %d, want 20", cfg.History.Limit)
	}
	if cfg.Client.Upstream != wire.UpstreamAgent {
		t.Errorf("client.upstream: got %q, want agent", cfg.Client.Upstream)
	}
	if cfg.Client.InputSampleRate != 16000 || cfg.Client.OutputSampleRate != 24000 {
		t.Errorf("client sample rates: got %d/%d, want 16000/24000",
			cfg.Client.InputSampleRate, cfg.Client.OutputSampleRate)
	}
	if cfg.Telemetry.MetricsPath != "/metrics" {
		t.Errorf("telemetry.metrics_path: got %q", cfg.Telemetry.MetricsPath)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":1\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "listen_adr") {
		t.Errorf("error should name the unknown field, got: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "voxbridge.yaml")
	writeConfig(t, path, sampleYAML, 0)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Proxy.DefaultVoice != "verse" {
		t.Errorf("default_voice: got %q, want verse", cfg.Proxy.DefaultVoice)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("error should wrap a not-exist error, got: %v", err)
	}
}

// ── Environment ───────────────────────────────────────────────────────────────

func TestApplyEnv_OverridesSecrets(t *testing.T) {
	t.Setenv(config.EnvUpstreamAPIKey, "sk-env")
	t.Setenv(config.EnvProxyAuthToken, "env-token")

	cfg := mustLoad(t, sampleYAML)
	if cfg.Upstream.APIKey != "sk-env" {
		t.Errorf("upstream.api_key: got %q, want sk-env", cfg.Upstream.APIKey)
	}
	if cfg.Proxy.AuthToken != "env-token" {
		t.Errorf("proxy.auth_token: got %q, want env-token", cfg.Proxy.AuthToken)
	}
}

func TestApplyEnv_EmptyValueKeepsFile(t *testing.T) {
	t.Setenv(config.EnvUpstreamAPIKey, "")

	cfg := mustLoad(t, sampleYAML)
	if cfg.Upstream.APIKey != "sk-test" {
		t.Errorf("upstream.api_key: got %q, want sk-test", cfg.Upstream.APIKey)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	writeConfig(t, path, "VOXBRIDGE_POSTGRES_DSN=postgres://env/db\n", 0)
	t.Setenv(config.EnvPostgresDSN, "")
	os.Unsetenv(config.EnvPostgresDSN)

	if err := config.LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv(config.EnvPostgresDSN); got != "postgres://env/db" {
		t.Errorf("%s: got %q, want postgres://env/db", config.EnvPostgresDSN, got)
	}

	cfg := mustLoad(t, "history:\n  backend: postgres\n")
	if cfg.History.PostgresDSN != "postgres://env/db" {
		t.Errorf("history.postgres_dsn: got %q", cfg.History.PostgresDSN)
	}
}

// ── Enums ─────────────────────────────────────────────────────────────────────

func TestLogLevel_SlogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level config.LogLevel
		want  slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.level.SlogLevel(); got != tt.want {
			t.Errorf("%q.SlogLevel() = %v; want %v", tt.level, got, tt.want)
		}
	}
}

func TestHistoryBackend_IsValid(t *testing.T) {
	t.Parallel()
	for _, b := range []config.HistoryBackend{config.HistoryMemory, config.HistoryPostgres, config.HistoryBadger} {
		if !b.IsValid() {
			t.Errorf("%q should be valid", b)
		}
	}
	if config.HistoryBackend("redis").IsValid() {
		t.Error("redis should not be valid")
	}
}
