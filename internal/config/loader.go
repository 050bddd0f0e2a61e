package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxbridge/pkg/wire"
)

// Environment variables that override secrets from the YAML file.
const (
	EnvUpstreamAPIKey = "VOXBRIDGE_UPSTREAM_API_KEY"
	EnvProxyAuthToken = "VOXBRIDGE_PROXY_AUTH_TOKEN"
	EnvPostgresDSN    = "VOXBRIDGE_POSTGRES_DSN"
	EnvClientAPIKey   = "VOXBRIDGE_CLIENT_API_KEY"
)

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load env file %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// ApplyEnv copies secrets from the environment over cfg. Unset variables
// leave the file values alone.
func ApplyEnv(cfg *Config) {
	for env, dst := range map[string]*string{
		EnvUpstreamAPIKey: &cfg.Upstream.APIKey,
		EnvProxyAuthToken: &cfg.Proxy.AuthToken,
		EnvPostgresDSN:    &cfg.History.PostgresDSN,
		EnvClientAPIKey:   &cfg.Client.APIKey,
	} {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*dst = v
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must not be negative"))
	}

	// Upstream
	if err := checkURL(cfg.Upstream.URL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("upstream.url: %w", err))
	}
	if cfg.Upstream.APIKey == "" {
		slog.Warn("upstream.api_key is empty; the realtime API will reject connections", "env", EnvUpstreamAPIKey)
	}

	// Proxy and functions
	for _, route := range []struct{ field, path string }{
		{"proxy.path", cfg.Proxy.Path},
		{"functions.path", cfg.Functions.Path},
		{"telemetry.metrics_path", cfg.Telemetry.MetricsPath},
	} {
		if route.path != "" && !strings.HasPrefix(route.path, "/") {
			errs = append(errs, fmt.Errorf("%s %q must start with /", route.field, route.path))
		}
	}
	if cfg.Proxy.MaxSessions < 0 {
		errs = append(errs, errors.New("proxy.max_sessions must not be negative"))
	}
	if cfg.Functions.Endpoint != "" {
		if err := checkURL(cfg.Functions.Endpoint, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("functions.endpoint: %w", err))
		}
	}

	// History
	if cfg.History.Backend != "" && !cfg.History.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("history.backend %q is invalid; valid values: memory, postgres, badger", cfg.History.Backend))
	}
	if cfg.History.Backend == HistoryPostgres && cfg.History.PostgresDSN == "" {
		errs = append(errs, errors.New("history.postgres_dsn is required when backend is postgres"))
	}
	if cfg.History.Backend == HistoryBadger && cfg.History.BadgerPath == "" {
		errs = append(errs, errors.New("history.badger_path is required when backend is badger"))
	}
	if cfg.History.Limit < 0 {
		errs = append(errs, errors.New("history.limit must not be negative"))
	}

	// Client
	if cfg.Client.URL != "" {
		if err := checkURL(cfg.Client.URL, "ws", "wss"); err != nil {
			errs = append(errs, fmt.Errorf("client.url: %w", err))
		}
	}
	if cfg.Client.Upstream != "" && !cfg.Client.Upstream.IsValid() {
		errs = append(errs, fmt.Errorf("client.upstream %q is invalid; valid values: %s, %s", cfg.Client.Upstream, wire.UpstreamAgent, wire.UpstreamRealtime))
	}
	if cfg.Client.InputSampleRate < 0 || cfg.Client.OutputSampleRate < 0 {
		errs = append(errs, errors.New("client sample rates must not be negative"))
	}
	namesSeen := make(map[string]int, len(cfg.Client.Functions))
	for i, fn := range cfg.Client.Functions {
		prefix := fmt.Sprintf("client.functions[%d]", i)
		if fn.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := namesSeen[fn.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of client.functions[%d]", prefix, fn.Name, prev))
		}
		namesSeen[fn.Name] = i
	}
	if len(cfg.Client.Functions) > 0 && cfg.Functions.Endpoint == "" {
		slog.Warn("client.functions declared without functions.endpoint; calls must be answered by the host")
	}

	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme %q must be one of %v", u.Scheme, schemes)
}
