// Package agent is the client side of a voice-agent session. A [Conn] owns
// one WebSocket at a time and drives it through
//
//	Idle → Connecting → AwaitingReadiness → Ready → Closing → Closed
//
// with Closed → Idle only on an explicit [Conn.Reconnect].
//
// All connection state is owned by a single goroutine. Public methods post
// commands to it, socket readers and timers post events to it, and it is the
// only writer on the socket. Settings are transmitted exactly once per socket;
// user messages sent before the upstream signals readiness are queued and
// flushed in order; an idle timer closes quiet sessions unless speech or a
// function call holds it open.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/session"
	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/history"
	"github.com/MrWong99/voxbridge/pkg/wire"
)

const (
	// readLimit caps a single inbound frame. Agent audio chunks and large
	// FunctionCallRequests exceed the library's 32 KiB default.
	readLimit = 4 << 20

	writeTimeout   = 5 * time.Second
	persistTimeout = 5 * time.Second

	// overdueGrace attributes a socket close to a function-call timeout when
	// the oldest pending call is this close to its window.
	overdueGrace = 2 * time.Second

	// upstreamErrorGrace is how long a generic upstream Error is held back.
	// If the socket closes within it, the Error becomes the cause of the
	// closure instead of a separate event.
	upstreamErrorGrace = 250 * time.Millisecond
)

var errStopped = errors.New("connection stopped")

// Conn is a handle to one logical voice-agent conversation. It survives
// reconnects; each socket it opens is a separate Connection with its own
// gate, idle timer and call tracker.
//
// All methods are safe for concurrent use.
type Conn struct {
	id      string
	opts    options
	logger  *slog.Logger
	metrics *observe.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan func()
	inbox  chan any
	done   chan struct{}
	events *eventQueue

	closeOnce   sync.Once
	state       atomic.Int32
	snapshot    atomic.Pointer[[]history.Entry]
	persist     chan persistJob
	persistDone chan struct{}

	// Owned by the loop goroutine.
	cfg     SessionConfig
	sock    *socket
	nextGen uint64
	hist    *history.Buffer
	ticker  *time.Ticker
}

// socket is one Connection: a single WebSocket and the state machines bound
// to its lifetime.
type socket struct {
	gen    uint64
	ws     *websocket.Conn // nil while connecting
	ctx    context.Context
	cancel context.CancelFunc

	// connectReply receives the outcome of the dial and is nil afterwards.
	connectReply chan error
	dialCancel   context.CancelFunc

	// cfg is the configuration the upstream currently holds.
	cfg          SessionConfig
	settingsSent bool
	lastWrite    time.Time

	gate  *session.Gate
	idle  *session.IdleTimer
	calls *session.CallTracker

	// upstreamErr is a non-fatal upstream Error not yet reported.
	upstreamErr   *Error
	upstreamTimer *time.Timer
}

// Loop events posted by readers, dialers and timers.
type (
	dialResult struct {
		gen uint64
		ws  *websocket.Conn
		err error
	}
	frameIn struct {
		gen  uint64
		typ  websocket.MessageType
		data []byte
	}
	socketClosed struct {
		gen uint64
		err error
	}
	idleExpired struct {
		gen      uint64
		timerGen uint64
	}
	callExpired struct {
		gen uint64
		id  string
	}
	upstreamErrorDue struct {
		gen uint64
		err *Error
	}
)

type persistJob struct {
	key     string
	entries []history.Entry
}

// Dial validates cfg, opens the WebSocket and transmits Settings. It returns
// once the socket is open and the connection is awaiting readiness; messages
// sent from then on are queued until the upstream acknowledges.
//
// An invalid config fails with [KindInvalidOptions] before any network
// activity. A failed handshake fails with [KindConnection].
func Dial(ctx context.Context, cfg SessionConfig, opts ...Option) (*Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &Error{Kind: KindInvalidOptions, Err: err}
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.store != nil && cfg.HistoryKey == "" {
		return nil, &Error{Kind: KindInvalidOptions, Err: errors.New("history_key is required with a history store")}
	}

	c := newConn(cfg.withDefaults(), o)
	if o.store != nil {
		entries, err := o.store.Load(ctx, cfg.HistoryKey)
		if err != nil {
			c.logger.Warn("failed to load conversation history", "key", cfg.HistoryKey, "err", err)
		} else {
			c.hist.Replace(entries)
			c.publishHistory()
		}
	}
	c.start()

	if err := c.connect(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func newConn(cfg SessionConfig, o options) *Conn {
	id := uuid.NewString()
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observe.DefaultMetrics()
	if o.meters != nil {
		m, err := observe.NewMetrics(o.meters)
		if err != nil {
			logger.Warn("failed to create metrics, using the global meter provider", "err", err)
		} else {
			metrics = m
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:      id,
		opts:    o,
		logger:  logger.With("conn_id", id, "upstream", string(cfg.Upstream)),
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
		cmds:    make(chan func()),
		inbox:   make(chan any),
		done:    make(chan struct{}),
		events:  newEventQueue(),
		cfg:     cfg,
		hist:    history.NewBuffer(cfg.HistoryLimit),
	}
	empty := []history.Entry{}
	c.snapshot.Store(&empty)
	return c
}

func (c *Conn) start() {
	go c.events.run()
	if c.opts.store != nil {
		c.persist = make(chan persistJob, 1)
		c.persistDone = make(chan struct{})
		go c.persistLoop()
	}
	go c.run()
}

// ID returns the handle's identifier, stable across reconnects.
func (c *Conn) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Events returns the event stream. It is closed after [Conn.Close]. The host
// should keep draining it; events are buffered without bound.
func (c *Conn) Events() <-chan Event { return c.events.out }

// History returns the buffered conversation, oldest first.
func (c *Conn) History() []history.Entry {
	return append([]history.Entry(nil), *c.snapshot.Load()...)
}

// Send submits a user text turn. Before readiness it is queued; queued
// messages are flushed in submission order the moment the upstream signals
// readiness, and dropped with a [KindQueuedMessageDropped] event each if the
// connection closes first.
func (c *Conn) Send(text string) error {
	data, err := wire.Encode(wire.InjectUserMessage{Type: wire.TypeInjectUserMessage, Content: text})
	if err != nil {
		return err
	}
	return c.do(func() error {
		s := c.sock
		if s == nil {
			return ErrNotConnected
		}
		queued, err := s.gate.Send(data)
		if err != nil {
			c.socketLost(s, err)
			return fmt.Errorf("agent: send: %w", err)
		}
		if queued {
			c.metrics.QueuedMessages.Add(c.ctx, 1)
			c.logger.Debug("user message queued until ready", "queued", s.gate.Len())
			return nil
		}
		s.idle.Touch()
		return nil
	})
}

// SendAudio streams one chunk of microphone PCM16. Audio is real-time and is
// never queued: before readiness it is dropped and [ErrNotReady] returned.
// An odd-length chunk loses its trailing byte.
func (c *Conn) SendAudio(pcm []byte) error {
	fixed, truncated := audio.RepairPCM16(pcm)
	data := bytes.Clone(fixed)
	return c.do(func() error {
		if truncated {
			c.metrics.AudioTruncations.Add(c.ctx, 1)
			c.logger.Warn("outbound audio had odd length, dropped trailing byte", "bytes", len(pcm))
		}
		s := c.sock
		if s == nil || c.State() != StateReady {
			c.logger.Debug("dropping audio before ready", "bytes", len(data))
			return ErrNotReady
		}
		if len(data) == 0 {
			return nil
		}
		if err := c.write(s, websocket.MessageBinary, data); err != nil {
			c.socketLost(s, err)
			return fmt.Errorf("agent: send audio: %w", err)
		}
		return nil
	})
}

// RespondToFunctionCall answers a pending function call. Exactly one
// FunctionCallResponse is transmitted per call. A response for an unknown,
// answered or timed-out call transmits nothing and returns an error of kind
// [KindStaleFunctionCallResponse]. A non-nil callErr is sent to the upstream
// as the function's output.
func (c *Conn) RespondToFunctionCall(callID, result string, callErr error) error {
	return c.do(func() error {
		s := c.sock
		if s == nil {
			return c.staleResponse(callID, ErrNotConnected)
		}
		call, err := s.calls.OnResponse(callID)
		if err != nil {
			return c.staleResponse(callID, err)
		}

		status := session.CallResponded.String()
		content := result
		if callErr != nil {
			status = "failed"
			content = errorContent(callErr)
		}
		data, err := wire.Encode(wire.FunctionCallResponse{
			Type:    wire.TypeFunctionCallResponse,
			ID:      call.ID,
			Name:    call.Name,
			Content: content,
		})
		if err != nil {
			return err
		}
		if err := c.write(s, websocket.MessageText, data); err != nil {
			c.socketLost(s, err)
			return fmt.Errorf("agent: respond to function call: %w", err)
		}
		c.metrics.RecordFunctionCall(c.ctx, string(s.cfg.Upstream), status, time.Since(call.RequestedAt))
		c.logger.Debug("function call answered", "call_id", call.ID, "name", call.Name, "status", status)
		return nil
	})
}

func (c *Conn) staleResponse(callID string, err error) error {
	c.logger.Warn("ignoring function call response", "call_id", callID, "err", err)
	c.metrics.RecordProtocolError(c.ctx, KindStaleFunctionCallResponse.String())
	return &Error{Kind: KindStaleFunctionCallResponse, CallID: callID, Err: err}
}

// Reconfigure replaces the cached configuration used by future connections.
//
// Settings are never retransmitted on an open socket. A changed prompt or
// voice is carried by UpdatePrompt or UpdateSpeak (queued like user messages
// before readiness); every other change waits for the next [Conn.Reconnect].
func (c *Conn) Reconfigure(cfg SessionConfig) error {
	if err := cfg.Validate(); err != nil {
		return &Error{Kind: KindInvalidOptions, Err: err}
	}
	cfg = cfg.withDefaults()
	return c.do(func() error {
		c.cfg = cfg
		s := c.sock
		if s == nil || !s.settingsSent {
			return nil
		}
		msgs, deferred := liveUpdates(s.cfg, cfg)
		for _, m := range msgs {
			data, err := wire.Encode(m)
			if err != nil {
				return err
			}
			if _, err := s.gate.Send(data); err != nil {
				c.socketLost(s, err)
				return fmt.Errorf("agent: reconfigure: %w", err)
			}
		}
		s.cfg.Settings.Agent.Think.Prompt = cfg.Settings.Agent.Think.Prompt
		s.cfg.Settings.Agent.Speak = cfg.Settings.Agent.Speak
		if len(deferred) > 0 {
			c.logger.Info("configuration change applies on next connection", "fields", deferred)
		}
		return nil
	})
}

// Reconnect opens a new socket after the previous one closed, using the
// latest configuration and seeding the agent's context with the most recent
// history entries. It never happens automatically.
func (c *Conn) Reconnect(ctx context.Context) error {
	return c.connect(ctx)
}

// Stop closes the current socket. The idle timer, pending function calls and
// queued messages go with it. The handle stays usable for [Conn.Reconnect].
func (c *Conn) Stop() error {
	return c.do(func() error {
		c.teardown(nil)
		return nil
	})
}

// Close stops the connection, flushes history to the store and closes the
// event channel. It is idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		c.events.close()
		if c.persist != nil {
			close(c.persist)
			<-c.persistDone
		}
	})
	return nil
}

// ── loop ─────────────────────────────────────────────────────────────────────

// do runs fn on the loop goroutine and returns its result.
func (c *Conn) do(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case c.cmds <- func() { reply <- fn() }:
	case <-c.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	}
}

// post hands an event to the loop. It reports false once the loop is gone.
func (c *Conn) post(ev any) bool {
	select {
	case c.inbox <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Conn) run() {
	defer close(c.done)
	for {
		var tick <-chan time.Time
		if c.ticker != nil {
			tick = c.ticker.C
		}
		select {
		case fn := <-c.cmds:
			fn()
		case ev := <-c.inbox:
			c.handle(ev)
		case <-tick:
			c.keepAlive()
		case <-c.ctx.Done():
			c.teardown(nil)
			return
		}
	}
}

func (c *Conn) handle(ev any) {
	switch ev := ev.(type) {
	case dialResult:
		c.onDialResult(ev)
	case frameIn:
		if s := c.current(ev.gen); s != nil {
			c.onFrame(s, ev.typ, ev.data)
		}
	case socketClosed:
		if s := c.current(ev.gen); s != nil {
			c.socketLost(s, ev.err)
		}
	case idleExpired:
		if s := c.current(ev.gen); s != nil && s.idle.HandleExpiry(ev.timerGen) {
			c.metrics.IdleTimeouts.Add(c.ctx, 1)
			c.logger.Info("idle timeout, closing connection", "timeout", s.cfg.IdleTimeout)
			c.teardown(&Error{Kind: KindIdleTimeout, Err: fmt.Errorf("no activity for %s", s.cfg.IdleTimeout)})
		}
	case callExpired:
		if s := c.current(ev.gen); s != nil {
			if call, ok := s.calls.OnTimeout(ev.id); ok {
				c.functionCallTimedOut(s, call)
			}
		}
	case upstreamErrorDue:
		if s := c.current(ev.gen); s != nil && s.upstreamErr == ev.err {
			c.settleUpstreamError(s)
		}
	}
}

// current returns the open socket if gen still identifies it.
func (c *Conn) current(gen uint64) *socket {
	if c.sock == nil || c.sock.gen != gen {
		return nil
	}
	return c.sock
}

func (c *Conn) setState(to State) {
	from := State(c.state.Swap(int32(to)))
	if from == to {
		return
	}
	c.logger.Debug("connection state changed", "from", from.String(), "to", to.String())
	c.events.push(StateChanged{From: from, To: to})
}

func (c *Conn) emit(e Event) { c.events.push(e) }

// report delivers a typed error to the host.
func (c *Conn) report(e *Error) {
	c.metrics.RecordProtocolError(c.ctx, e.Kind.String())
	if e.Fatal() {
		c.logger.Error("connection failed", "kind", e.Kind.String(), "code", e.Code, "err", e.Err)
	} else {
		c.logger.Warn("connection warning", "kind", e.Kind.String(), "code", e.Code, "err", e.Err)
	}
	c.emit(ErrorEvent{Err: e})
}

// ── connect ──────────────────────────────────────────────────────────────────

func (c *Conn) connect(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := c.do(func() error { return c.startDial(ctx, reply) }); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	}
}

func (c *Conn) startDial(ctx context.Context, reply chan error) error {
	switch c.State() {
	case StateIdle:
	case StateClosed:
		c.setState(StateIdle)
	default:
		return ErrAlreadyConnected
	}
	c.setState(StateConnecting)

	cfg := c.cfg
	c.nextGen++
	gen := c.nextGen
	dialCtx, dialCancel := context.WithTimeout(ctx, cfg.DialTimeout)
	s := &socket{gen: gen, cfg: cfg, connectReply: reply, dialCancel: dialCancel}
	s.gate = session.NewGate(func(p []byte) error { return c.write(s, websocket.MessageText, p) })
	s.idle = session.NewIdleTimer(cfg.IdleTimeout, func(tg uint64) {
		c.post(idleExpired{gen: gen, timerGen: tg})
	})
	callTimeout := cfg.Upstream.FunctionCallTimeout()
	if c.opts.callTimeout > 0 {
		callTimeout = c.opts.callTimeout
	}
	s.calls = session.NewCallTracker(callTimeout, s.idle, func(id string) {
		c.post(callExpired{gen: gen, id: id})
	})
	c.sock = s

	header := http.Header{}
	for k, v := range c.opts.header {
		header[k] = append([]string(nil), v...)
	}
	if auth := cfg.authHeader(); auth != "" {
		header.Set("Authorization", auth)
	}
	dialOpts := &websocket.DialOptions{HTTPHeader: header, HTTPClient: c.opts.client}

	go func() {
		spanCtx, span := observe.StartSpan(dialCtx, "agent.dial",
			trace.WithAttributes(attribute.String("upstream", string(cfg.Upstream))))
		ws, _, err := websocket.Dial(spanCtx, cfg.URL, dialOpts)
		if err != nil {
			observe.Fail(span, err, "dial failed")
		}
		span.End()
		if !c.post(dialResult{gen: gen, ws: ws, err: err}) && ws != nil {
			_ = ws.CloseNow()
		}
	}()
	return nil
}

func (c *Conn) onDialResult(r dialResult) {
	s := c.current(r.gen)
	if s == nil || s.connectReply == nil {
		if r.ws != nil {
			_ = r.ws.CloseNow()
		}
		return
	}
	reply := s.connectReply
	s.connectReply = nil
	s.dialCancel()

	if r.err != nil {
		e := &Error{Kind: KindConnection, Err: r.err}
		c.discard(s)
		c.metrics.RecordProtocolError(c.ctx, e.Kind.String())
		c.logger.Warn("dial failed", "url", s.cfg.URL, "err", r.err)
		c.setState(StateClosed)
		reply <- e
		return
	}

	r.ws.SetReadLimit(readLimit)
	s.ws = r.ws
	s.ctx, s.cancel = context.WithCancel(c.ctx)
	c.metrics.ActiveConnections.Add(c.ctx, 1)
	go c.readLoop(s)

	// The upstream may have been reconfigured while the dial was in flight.
	s.cfg = c.cfg
	if err := c.sendSettings(s); err != nil {
		e := &Error{Kind: KindConnection, Err: err}
		c.teardown(e)
		reply <- e
		return
	}
	c.setState(StateAwaitingReadiness)
	c.logger.Info("connected, awaiting readiness", "url", s.cfg.URL)
	reply <- nil
}

// sendSettings transmits the handshake. It is the only place Settings are
// written and it refuses to run twice on one socket.
func (c *Conn) sendSettings(s *socket) error {
	if s.settingsSent {
		return errors.New("agent: settings already sent on this socket")
	}
	s.settingsSent = true

	settings := s.cfg.Settings
	if c.hist.Len() > 0 {
		settings.Agent.Context = &wire.ContextSettings{
			Messages: history.ContextMessages(c.hist.Entries()),
		}
	}
	data, err := wire.Encode(settings)
	if err != nil {
		return err
	}
	if err := c.write(s, websocket.MessageText, data); err != nil {
		return fmt.Errorf("agent: send settings: %w", err)
	}
	c.metrics.SettingsSent.Add(c.ctx, 1, metric.WithAttributes(attribute.String("upstream", string(s.cfg.Upstream))))
	return nil
}

func (c *Conn) readLoop(s *socket) {
	for {
		typ, data, err := s.ws.Read(s.ctx)
		if err != nil {
			c.post(socketClosed{gen: s.gen, err: err})
			return
		}
		if !c.post(frameIn{gen: s.gen, typ: typ, data: data}) {
			return
		}
	}
}

func (c *Conn) write(s *socket, typ websocket.MessageType, data []byte) error {
	if s.ws == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	if err := s.ws.Write(ctx, typ, data); err != nil {
		return err
	}
	s.lastWrite = time.Now()
	return nil
}

// ── teardown ─────────────────────────────────────────────────────────────────

// teardown closes the current socket and everything bound to it. fatal, when
// set, is the single error reported for the closure.
func (c *Conn) teardown(fatal *Error) {
	s := c.sock
	if s == nil {
		return
	}
	if s.connectReply != nil {
		reply := s.connectReply
		s.connectReply = nil
		s.dialCancel()
		c.discard(s)
		c.setState(StateClosed)
		if fatal == nil {
			fatal = &Error{Kind: KindConnection, Err: errStopped}
		}
		reply <- fatal
		return
	}

	c.setState(StateClosing)
	c.settleUpstreamError(s)
	if fatal != nil {
		c.report(fatal)
	}
	c.discard(s)

	ws, cancel := s.ws, s.cancel
	go func() {
		_ = ws.Close(websocket.StatusNormalClosure, "")
		cancel()
	}()
	c.metrics.ActiveConnections.Add(c.ctx, -1)
	c.setState(StateClosed)
	c.flushHistory()
}

// discard releases the socket's timers, calls and queue.
func (c *Conn) discard(s *socket) {
	c.sock = nil
	c.stopKeepAlive()
	for _, call := range s.calls.Close() {
		c.metrics.RecordFunctionCall(c.ctx, string(s.cfg.Upstream), "abandoned", 0)
		c.logger.Warn("function call abandoned by disconnect", "call_id", call.ID, "name", call.Name)
	}
	s.idle.Stop()
	c.settleUpstreamError(s)
	for _, m := range s.gate.Reset() {
		c.metrics.DroppedMessages.Add(c.ctx, 1)
		c.report(&Error{
			Kind: KindQueuedMessageDropped,
			Err:  fmt.Errorf("message queued %s before disconnect: %s", time.Since(m.EnqueuedAt).Round(time.Millisecond), m.Payload),
		})
	}
}

// socketLost handles a read or write failure on s. An upstream Error still
// held on s is folded into the closure error as its code and cause.
func (c *Conn) socketLost(s *socket, err error) {
	kind := KindUpstreamClosed
	if c.State() == StateAwaitingReadiness {
		kind = KindUpstreamClosedBeforeReady
	}
	e := &Error{Kind: kind, Err: err}
	if held := takeUpstreamError(s); held != nil {
		e = &Error{Kind: kind, Code: held.Code, Err: fmt.Errorf("%w (connection: %w)", held, err)}
	}
	if call, ok := s.calls.Oldest(); ok && time.Since(call.RequestedAt) >= s.calls.Timeout()-overdueGrace {
		e = &Error{Kind: KindFunctionCallTimeout, CallID: call.ID, Err: fmt.Errorf("upstream closed while %q was unanswered: %w", call.Name, e.Err)}
	}
	c.teardown(e)
}

// holdUpstreamError keeps a generic upstream Error back for
// upstreamErrorGrace. An upstream usually closes right after one.
func (c *Conn) holdUpstreamError(s *socket, e *Error) {
	c.settleUpstreamError(s)
	s.upstreamErr = e
	gen := s.gen
	s.upstreamTimer = time.AfterFunc(upstreamErrorGrace, func() {
		c.post(upstreamErrorDue{gen: gen, err: e})
	})
}

// settleUpstreamError reports a held upstream Error as non-fatal.
func (c *Conn) settleUpstreamError(s *socket) {
	if e := takeUpstreamError(s); e != nil {
		c.report(e)
	}
}

func takeUpstreamError(s *socket) *Error {
	e := s.upstreamErr
	if e == nil {
		return nil
	}
	s.upstreamErr = nil
	s.upstreamTimer.Stop()
	s.upstreamTimer = nil
	return e
}

func (c *Conn) functionCallTimedOut(s *socket, call session.Call) {
	c.metrics.RecordFunctionCall(c.ctx, string(s.cfg.Upstream), call.Status.String(), 0)
	c.teardown(&Error{
		Kind:   KindFunctionCallTimeout,
		CallID: call.ID,
		Err:    fmt.Errorf("function %q not answered within %s", call.Name, s.calls.Timeout()),
	})
}

// ── keep-alive ───────────────────────────────────────────────────────────────

func (c *Conn) startKeepAlive(interval time.Duration) {
	c.stopKeepAlive()
	if interval > 0 {
		c.ticker = time.NewTicker(interval)
	}
}

func (c *Conn) stopKeepAlive() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

func (c *Conn) keepAlive() {
	s := c.sock
	if s == nil || c.State() != StateReady {
		return
	}
	if time.Since(s.lastWrite) < s.cfg.KeepAliveInterval {
		return
	}
	data, _ := wire.Encode(wire.NewSignal(wire.TypeKeepAlive))
	if err := c.write(s, websocket.MessageText, data); err != nil {
		c.socketLost(s, err)
	}
}

// ── history ──────────────────────────────────────────────────────────────────

func (c *Conn) recordEntry(e history.Entry) {
	c.hist.Append(e)
	c.publishHistory()
	c.flushHistory()
}

func (c *Conn) publishHistory() {
	snap := c.hist.Entries()
	c.snapshot.Store(&snap)
}

// flushHistory hands the latest snapshot to the persister, replacing any
// snapshot it has not picked up yet.
func (c *Conn) flushHistory() {
	if c.persist == nil || c.cfg.HistoryKey == "" {
		return
	}
	job := persistJob{key: c.cfg.HistoryKey, entries: c.hist.Entries()}
	for {
		select {
		case c.persist <- job:
			return
		default:
		}
		select {
		case <-c.persist:
		default:
		}
	}
}

func (c *Conn) persistLoop() {
	defer close(c.persistDone)
	for job := range c.persist {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := c.opts.store.Save(ctx, job.key, job.entries); err != nil {
			c.logger.Warn("failed to persist conversation history", "key", job.key, "err", err)
		}
		cancel()
	}
}

// errorContent renders a host-side failure as the function's output.
func errorContent(err error) string {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(data)
}
