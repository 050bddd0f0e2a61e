// Package proxy bridges agent-dialect clients to a realtime-dialect upstream.
//
// Every client socket accepted by [Server] gets its own upstream socket and
// [Translator]. Nothing is shared between sessions except the metrics.
package proxy

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/wire"
)

// tokenProtocol is the subprotocol browsers use to carry the auth token:
// Sec-WebSocket-Protocol: token, <token>.
const tokenProtocol = "token"

// Config configures a [Server].
type Config struct {
	// UpstreamURL is the realtime endpoint, without query string.
	UpstreamURL string

	// APIKey is sent upstream as a Bearer token.
	APIKey string

	// Model is sent as the model query parameter.
	Model string

	// DialTimeout bounds the upstream handshake. Default: 10s.
	DialTimeout time.Duration

	// AuthToken, when set, must be presented by clients.
	AuthToken string

	// DefaultVoice is used when Settings carry no speak provider.
	DefaultVoice string

	// TranscriptionModel enables user-speech transcripts.
	TranscriptionModel string

	// MaxSessions caps concurrent sessions. Zero means unlimited.
	MaxSessions int
}

func (c Config) upstreamURL() (string, error) {
	u, err := url.Parse(c.UpstreamURL)
	if err != nil {
		return "", fmt.Errorf("proxy: parse upstream url: %w", err)
	}
	if c.Model != "" {
		q := u.Query()
		q.Set("model", c.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics records proxy metrics on m. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHTTPClient sets the client used for upstream handshakes.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) { s.httpClient = c }
}

// ErrDraining rejects new sessions after [Server.Shutdown] was called.
var ErrDraining = errors.New("proxy: server is shutting down")

// Server accepts client sockets and runs one session per socket.
type Server struct {
	cfg        atomic.Pointer[Config]
	metrics    *observe.Metrics
	httpClient *http.Client

	mu       sync.Mutex
	sessions map[string]context.CancelFunc
	draining bool
	wg       sync.WaitGroup
}

// NewServer returns a [Server] for cfg.
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	if _, err := cfg.upstreamURL(); err != nil {
		return nil, err
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	s := &Server{sessions: make(map[string]context.CancelFunc)}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.cfg.Store(&cfg)
	return s, nil
}

// UpdateConfig replaces the configuration used by new sessions. Running
// sessions keep the config they started with.
func (s *Server) UpdateConfig(cfg Config) error {
	if _, err := cfg.upstreamURL(); err != nil {
		return err
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	s.cfg.Store(&cfg)
	return nil
}

// Active returns the number of running sessions.
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Full reports whether the session cap is reached.
func (s *Server) Full() bool {
	max := s.cfg.Load().MaxSessions
	return max > 0 && s.Active() >= max
}

// ServeHTTP upgrades the request and runs the session until it ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := *s.cfg.Load()
	log := observe.Logger(r.Context())

	offered := offeredProtocols(r)
	if !authorized(r, offered, cfg.AuthToken) {
		log.Warn("rejecting unauthenticated client", "remote_addr", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	if err := s.register(id, cancel, cfg.MaxSessions); err != nil {
		log.Warn("rejecting client", "err", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer s.unregister(id)

	var protocols []string
	if len(offered) > 0 && offered[0] == tokenProtocol {
		protocols = []string{tokenProtocol}
	}
	client, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       protocols,
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Warn("websocket accept failed", "err", err)
		return
	}
	defer client.CloseNow()
	client.SetReadLimit(readLimit)

	requestID := observe.CorrelationID(ctx)
	if requestID == "" {
		requestID = id
	}
	ctx = observe.WithSession(ctx, id)
	log = observe.Logger(ctx)

	s.metrics.ActiveProxySessions.Add(ctx, 1)
	defer s.metrics.ActiveProxySessions.Add(context.WithoutCancel(ctx), -1)

	sess := &session{
		id:      id,
		client:  client,
		metrics: s.metrics,
		log:     log,
		tr: NewTranslator(TranslatorConfig{
			DefaultVoice:       cfg.DefaultVoice,
			TranscriptionModel: cfg.TranscriptionModel,
			OnGate:             func(g string) { s.metrics.RecordGated(ctx, g) },
			OnTruncate:         func() { s.metrics.AudioTruncations.Add(ctx, 1) },
		}),
	}
	if _, err := sess.apply(ctx, sess.tr.Welcome(requestID)); err != nil {
		log.Debug("client gone before welcome", "err", err)
		return
	}

	upstream, err := s.dialUpstream(ctx, cfg)
	if err != nil {
		log.Error("upstream dial failed", "err", err)
		s.metrics.RecordProtocolError(ctx, wire.CodeUpstreamClosedBeforeReady)
		_, _ = sess.apply(ctx, sess.tr.UpstreamClosed("could not reach upstream"))
		_ = client.Close(websocket.StatusTryAgainLater, "upstream unavailable")
		return
	}
	defer upstream.CloseNow()
	upstream.SetReadLimit(readLimit)
	sess.upstream = upstream

	log.Info("proxy session started")
	start := time.Now()
	if err := sess.run(ctx); err != nil {
		log.Warn("proxy session failed", "err", err)
	}
	_ = upstream.Close(websocket.StatusNormalClosure, "")
	_ = client.Close(websocket.StatusNormalClosure, "")
	log.Info("proxy session ended", "duration", time.Since(start).Round(time.Millisecond))
}

func (s *Server) dialUpstream(ctx context.Context, cfg Config) (*websocket.Conn, error) {
	target, err := cfg.upstreamURL()
	if err != nil {
		return nil, err
	}
	dctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	ws, _, err := websocket.Dial(dctx, target, &websocket.DialOptions{
		HTTPClient: s.httpClient,
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + cfg.APIKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("proxy: dial upstream: %w", err)
	}
	return ws, nil
}

func (s *Server) register(id string, cancel context.CancelFunc, max int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return ErrDraining
	}
	if max > 0 && len(s.sessions) >= max {
		return fmt.Errorf("proxy: session limit of %d reached", max)
	}
	s.sessions[id] = cancel
	s.wg.Add(1)
	return nil
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	s.wg.Done()
}

// Shutdown stops accepting sessions, cancels the running ones and waits for
// them to finish or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	for _, cancel := range s.sessions {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("proxy: shutdown: %w", ctx.Err())
	}
}

// ── Auth ─────────────────────────────────────────────────────────────────────

func offeredProtocols(r *http.Request) []string {
	var out []string
	for _, h := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(h, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// authorized accepts "Authorization: Bearer|Token <t>" or the subprotocol
// pair "token, <t>".
func authorized(r *http.Request, offered []string, want string) bool {
	if want == "" {
		return true
	}
	var got string
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && (strings.EqualFold(scheme, "Bearer") || strings.EqualFold(scheme, "Token")) {
			got = strings.TrimSpace(tok)
		}
	}
	if got == "" && len(offered) >= 2 && offered[0] == tokenProtocol {
		got = offered[1]
	}
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
