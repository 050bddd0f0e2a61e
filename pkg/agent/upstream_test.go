package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxbridge/pkg/wire"
)

// ── Fake upstream ─────────────────────────────────────────────────────────────

type inFrame struct {
	typ  websocket.MessageType
	data []byte
}

// fakeUpstream accepts agent-dialect sockets and hands each one to the test.
type fakeUpstream struct {
	srv   *httptest.Server
	conns chan *upstreamConn
	dials atomic.Int32
}

type upstreamConn struct {
	ws     *websocket.Conn
	header http.Header
	frames chan inFrame
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	up := &fakeUpstream{conns: make(chan *upstreamConn, 4)}
	up.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up.dials.Add(1)
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer ws.CloseNow()
		uc := &upstreamConn{ws: ws, header: r.Header.Clone(), frames: make(chan inFrame, 64)}
		up.conns <- uc
		for {
			typ, data, err := ws.Read(context.Background())
			if err != nil {
				close(uc.frames)
				return
			}
			uc.frames <- inFrame{typ: typ, data: data}
		}
	}))
	t.Cleanup(up.srv.Close)
	return up
}

func (up *fakeUpstream) url() string {
	return "ws" + strings.TrimPrefix(up.srv.URL, "http")
}

func (up *fakeUpstream) accept(t *testing.T) *upstreamConn {
	t.Helper()
	select {
	case uc := <-up.conns:
		return uc
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for upstream connection")
		return nil
	}
}

func (uc *upstreamConn) next(t *testing.T) inFrame {
	t.Helper()
	select {
	case f, ok := <-uc.frames:
		if !ok {
			t.Fatal("upstream socket closed while waiting for a frame")
		}
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for frame")
		return inFrame{}
	}
}

// expect reads the next frame and fails unless it is a text control message
// of type want. It returns the raw JSON.
func (uc *upstreamConn) expect(t *testing.T, want string) []byte {
	t.Helper()
	f := uc.next(t)
	if f.typ != websocket.MessageText {
		t.Fatalf("frame type = %v; want text %s", f.typ, want)
	}
	got, err := wire.PeekType(f.data)
	if err != nil {
		t.Fatalf("PeekType: %v", err)
	}
	if got != want {
		t.Fatalf("message type = %q; want %q (%s)", got, want, f.data)
	}
	return f.data
}

// quiet fails if any frame arrives within d.
func (uc *upstreamConn) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case f, ok := <-uc.frames:
		if ok {
			t.Fatalf("unexpected frame: %s", f.data)
		}
	case <-time.After(d):
	}
}

func (uc *upstreamConn) send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	uc.write(t, websocket.MessageText, data)
}

func (uc *upstreamConn) write(t *testing.T, typ websocket.MessageType, data []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := uc.ws.Write(ctx, typ, data); err != nil {
		t.Logf("upstream write: %v (may be expected on close)", err)
	}
}

func (uc *upstreamConn) close() {
	_ = uc.ws.Close(websocket.StatusNormalClosure, "bye")
}

// waitClosed blocks until the client side has closed the socket.
func (uc *upstreamConn) waitClosed(t *testing.T) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-uc.frames:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for client to close the socket")
		}
	}
}

// ── Client helpers ────────────────────────────────────────────────────────────

func testConfig(url string) SessionConfig {
	return SessionConfig{
		URL:      url,
		APIKey:   "secret",
		Upstream: wire.UpstreamAgent,
		Settings: wire.Settings{
			Audio: wire.AudioSettings{
				Input:  wire.AudioFormat{SampleRate: 16000},
				Output: wire.AudioFormat{SampleRate: 24000},
			},
			Agent: wire.AgentSettings{
				Think: wire.ThinkSettings{Prompt: "be brief"},
				Speak: &wire.SpeakSettings{Provider: map[string]any{"model": "aura-2"}},
			},
		},
		IdleTimeout:       -1,
		KeepAliveInterval: -1,
	}
}

// withCallTimeout shortens the upstream function-call window.
func withCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// dial connects to up and returns both ends. The client is closed when the
// test finishes.
func dial(t *testing.T, up *fakeUpstream, cfg SessionConfig, opts ...Option) (*Conn, *upstreamConn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := Dial(ctx, cfg, opts...)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	uc := up.accept(t)
	uc.expect(t, wire.TypeSettings)
	return c, uc
}

// dialReady is dial followed by the readiness handshake.
func dialReady(t *testing.T, up *fakeUpstream, cfg SessionConfig, opts ...Option) (*Conn, *upstreamConn) {
	t.Helper()
	c, uc := dial(t, up, cfg, opts...)
	uc.send(t, wire.NewSignal(wire.TypeSettingsApplied))
	waitState(t, c, StateReady)
	return c, uc
}

// waitFor consumes events until one of type T satisfies match.
func waitFor[T Event](t *testing.T, c *Conn, match func(T) bool) T {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				var zero T
				t.Fatalf("event stream closed while waiting for %T", zero)
			}
			if e, ok := ev.(T); ok && (match == nil || match(e)) {
				return e
			}
		case <-deadline:
			var zero T
			t.Fatalf("timeout waiting for %T", zero)
		}
	}
}

func waitState(t *testing.T, c *Conn, want State) {
	t.Helper()
	waitFor(t, c, func(e StateChanged) bool { return e.To == want })
}

// eventsUntilClosed returns every event up to and including the transition
// to StateClosed.
func eventsUntilClosed(t *testing.T, c *Conn) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				t.Fatal("event stream closed before StateClosed")
			}
			out = append(out, ev)
			if sc, ok := ev.(StateChanged); ok && sc.To == StateClosed {
				return out
			}
		case <-deadline:
			t.Fatalf("timeout waiting for StateClosed; got %d events", len(out))
		}
	}
}

func errorKinds(events []Event) []ErrorKind {
	var kinds []ErrorKind
	for _, ev := range events {
		if e, ok := ev.(ErrorEvent); ok {
			kinds = append(kinds, e.Err.Kind)
		}
	}
	return kinds
}
