package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxbridge/pkg/history"
	"github.com/MrWong99/voxbridge/pkg/wire"
)

// Defaults applied by [SessionConfig] when a field is zero.
const (
	DefaultIdleTimeout       = 10 * time.Second
	DefaultKeepAliveInterval = 5 * time.Second
	DefaultHistoryLimit      = 20
	DefaultDialTimeout       = 10 * time.Second
)

// SessionConfig is everything needed to open one connection. A copy is taken
// at [Dial]; later changes go through [Conn.Reconfigure].
type SessionConfig struct {
	// URL is the ws:// or wss:// endpoint: upstream A itself or a voxbridge
	// proxy in front of upstream B.
	URL string

	// APIKey is sent as "Authorization: Token <key>" to upstream A and as
	// "Authorization: Bearer <key>" to a proxy. Empty sends no header.
	APIKey string

	// Upstream selects the upstream behind URL. It decides the
	// function-call response window.
	Upstream wire.UpstreamKind

	// Settings is the handshake sent once per socket. Type is filled in.
	Settings wire.Settings

	// IdleTimeout closes the connection after this long without meaningful
	// activity. Zero means [DefaultIdleTimeout]; negative disables it.
	IdleTimeout time.Duration

	// KeepAliveInterval is how often a KeepAlive frame is sent on a quiet
	// ready socket. Zero means [DefaultKeepAliveInterval]; negative disables
	// it.
	KeepAliveInterval time.Duration

	// HistoryLimit is the number of conversation entries kept and replayed
	// on reconnect. Zero means [DefaultHistoryLimit].
	HistoryLimit int

	// HistoryKey names this conversation in the [history.Store]. Required
	// when a store is configured.
	HistoryKey string

	// DialTimeout bounds the WebSocket handshake. Zero means
	// [DefaultDialTimeout].
	DialTimeout time.Duration
}

// Validate checks the config and reports every problem at once.
func (c SessionConfig) Validate() error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, errors.New("url is required"))
	} else if u, err := url.Parse(c.URL); err != nil {
		errs = append(errs, fmt.Errorf("url: %w", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("url scheme %q must be ws or wss", u.Scheme))
	}
	if !c.Upstream.IsValid() {
		errs = append(errs, fmt.Errorf("upstream %q must be %q or %q", c.Upstream, wire.UpstreamAgent, wire.UpstreamRealtime))
	}
	formats := []struct {
		dir string
		f   wire.AudioFormat
	}{{"input", c.Settings.Audio.Input}, {"output", c.Settings.Audio.Output}}
	for _, a := range formats {
		if a.f.Encoding != "" && a.f.Encoding != wire.EncodingLinear16 {
			errs = append(errs, fmt.Errorf("audio %s encoding %q is not supported, use %q", a.dir, a.f.Encoding, wire.EncodingLinear16))
		}
		if a.f.SampleRate <= 0 {
			errs = append(errs, fmt.Errorf("audio %s sample_rate must be positive", a.dir))
		}
	}
	seen := make(map[string]bool)
	for i, fn := range c.Settings.Agent.Think.Functions {
		if fn.Name == "" {
			errs = append(errs, fmt.Errorf("function %d: name is required", i))
		} else if seen[fn.Name] {
			errs = append(errs, fmt.Errorf("function %q declared twice", fn.Name))
		}
		seen[fn.Name] = true
	}
	if c.HistoryLimit < 0 {
		errs = append(errs, errors.New("history_limit must not be negative"))
	}
	if c.DialTimeout < 0 {
		errs = append(errs, errors.New("dial_timeout must not be negative"))
	}
	return errors.Join(errs...)
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	c.Settings.Type = wire.TypeSettings
	for _, f := range []*wire.AudioFormat{&c.Settings.Audio.Input, &c.Settings.Audio.Output} {
		if f.Encoding == "" {
			f.Encoding = wire.EncodingLinear16
		}
	}
	return c
}

// authHeader returns the Authorization value for the upstream kind.
func (c SessionConfig) authHeader() string {
	if c.APIKey == "" {
		return ""
	}
	if c.Upstream == wire.UpstreamRealtime {
		return "Bearer " + c.APIKey
	}
	return "Token " + c.APIKey
}

// liveUpdates lists the messages that carry the difference between two
// configs over an already-configured socket. Everything else only takes
// effect on the next connection.
func liveUpdates(prev, next SessionConfig) (msgs []any, deferred []string) {
	pa, na := prev.Settings.Agent, next.Settings.Agent
	if pa.Think.Prompt != na.Think.Prompt {
		msgs = append(msgs, wire.UpdatePrompt{Type: wire.TypeUpdatePrompt, Prompt: na.Think.Prompt})
	}
	if !reflect.DeepEqual(pa.Speak, na.Speak) && na.Speak != nil {
		msgs = append(msgs, wire.UpdateSpeak{Type: wire.TypeUpdateSpeak, Speak: *na.Speak})
	}

	if !reflect.DeepEqual(prev.Settings.Audio, next.Settings.Audio) {
		deferred = append(deferred, "audio")
	}
	if !reflect.DeepEqual(pa.Listen, na.Listen) {
		deferred = append(deferred, "listen")
	}
	if !reflect.DeepEqual(pa.Think.Provider, na.Think.Provider) || !reflect.DeepEqual(pa.Think.Functions, na.Think.Functions) {
		deferred = append(deferred, "think")
	}
	if pa.Greeting != na.Greeting || pa.Language != na.Language {
		deferred = append(deferred, "agent")
	}
	if prev.URL != next.URL || prev.APIKey != next.APIKey || prev.Upstream != next.Upstream {
		deferred = append(deferred, "endpoint")
	}
	return msgs, deferred
}

// ── Options ──────────────────────────────────────────────────────────────────

// FunctionHandler executes client-side function calls on behalf of the host.
type FunctionHandler interface {
	HandleFunctionCall(ctx context.Context, call wire.FunctionCall) (string, error)
}

// FunctionHandlerFunc adapts a plain function to [FunctionHandler].
type FunctionHandlerFunc func(ctx context.Context, call wire.FunctionCall) (string, error)

// HandleFunctionCall implements [FunctionHandler].
func (f FunctionHandlerFunc) HandleFunctionCall(ctx context.Context, call wire.FunctionCall) (string, error) {
	return f(ctx, call)
}

// Option configures a [Conn].
type Option func(*options)

type options struct {
	store   history.Store
	meters  metric.MeterProvider
	logger  *slog.Logger
	header  http.Header
	client  *http.Client
	handler FunctionHandler

	// callTimeout overrides the upstream's window. Tests only.
	callTimeout time.Duration
}

// WithHistoryStore persists conversation history under
// [SessionConfig.HistoryKey] and loads it on [Dial].
func WithHistoryStore(s history.Store) Option {
	return func(o *options) { o.store = s }
}

// WithMeterProvider records connection metrics through mp instead of the
// global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meters = mp }
}

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPHeader adds headers to the WebSocket handshake.
func WithHTTPHeader(h http.Header) Option {
	return func(o *options) { o.header = h.Clone() }
}

// WithHTTPClient sets the client used for the WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithFunctionHandler answers client-side function calls automatically.
// [FunctionCallRequested] events are still delivered.
func WithFunctionHandler(h FunctionHandler) Option {
	return func(o *options) { o.handler = h }
}
