package session

import (
	"errors"
	"testing"

	"github.com/MrWong99/voxbridge/pkg/wire"
)

func TestGate_QueuesUntilReady(t *testing.T) {
	t.Parallel()

	var sent []string
	g := NewGate(func(p []byte) error {
		sent = append(sent, string(p))
		return nil
	})

	for _, m := range []string{"a", "b", "c"} {
		queued, err := g.Send([]byte(m))
		if err != nil {
			t.Fatalf("Send(%q): %v", m, err)
		}
		if !queued {
			t.Errorf("Send(%q) before ready was not queued", m)
		}
	}
	if len(sent) != 0 {
		t.Fatalf("sent before ready: %v", sent)
	}

	flushed, err := g.MarkReady(wire.SignalSettingsApplied)
	if err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	if flushed != 3 {
		t.Errorf("flushed = %d; want 3", flushed)
	}
	if got := len(sent); got != 3 || sent[0] != "a" || sent[1] != "b" || sent[2] != "c" {
		t.Errorf("sent = %v; want [a b c]", sent)
	}

	queued, err := g.Send([]byte("d"))
	if err != nil || queued {
		t.Fatalf("Send after ready: queued=%v err=%v", queued, err)
	}
	if sent[len(sent)-1] != "d" {
		t.Errorf("last sent = %q; want d", sent[len(sent)-1])
	}
}

func TestGate_MarkReadyIdempotent(t *testing.T) {
	t.Parallel()

	count := 0
	g := NewGate(func([]byte) error { count++; return nil })
	_, _ = g.Send([]byte("x"))

	if _, err := g.MarkReady(wire.SignalSessionCreated); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	flushed, err := g.MarkReady(wire.SignalSettingsApplied)
	if err != nil {
		t.Fatalf("second MarkReady: %v", err)
	}
	if flushed != 0 {
		t.Errorf("second MarkReady flushed %d; want 0", flushed)
	}
	if count != 1 {
		t.Errorf("sends = %d; want 1", count)
	}
	if g.Signal() != wire.SignalSessionCreated {
		t.Errorf("Signal() = %v; want first signal", g.Signal())
	}
}

func TestGate_ResetDropsQueue(t *testing.T) {
	t.Parallel()

	g := NewGate(func([]byte) error { return nil })
	_, _ = g.Send([]byte("one"))
	_, _ = g.Send([]byte("two"))

	dropped := g.Reset()
	if len(dropped) != 2 {
		t.Fatalf("dropped = %d; want 2", len(dropped))
	}
	if string(dropped[0].Payload) != "one" || string(dropped[1].Payload) != "two" {
		t.Errorf("dropped order = %q,%q", dropped[0].Payload, dropped[1].Payload)
	}
	if dropped[0].EnqueuedAt.IsZero() {
		t.Error("EnqueuedAt not set")
	}
	if g.Ready() || g.Len() != 0 {
		t.Errorf("after Reset: ready=%v len=%d", g.Ready(), g.Len())
	}
}

func TestGate_FlushFailureKeepsRemainder(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	calls := 0
	g := NewGate(func([]byte) error {
		calls++
		if calls == 2 {
			return errBoom
		}
		return nil
	})
	for _, m := range []string{"a", "b", "c"} {
		_, _ = g.Send([]byte(m))
	}

	flushed, err := g.MarkReady(wire.SignalSettingsApplied)
	if !errors.Is(err, errBoom) {
		t.Fatalf("MarkReady err = %v; want %v", err, errBoom)
	}
	if flushed != 1 {
		t.Errorf("flushed = %d; want 1", flushed)
	}
	dropped := g.Reset()
	if len(dropped) != 2 || string(dropped[0].Payload) != "b" {
		t.Errorf("remaining = %v; want [b c]", dropped)
	}
}
