package session

import (
	"fmt"
	"time"

	"github.com/MrWong99/voxbridge/pkg/wire"
)

// PendingMessage is an outbound user message waiting for readiness.
type PendingMessage struct {
	Payload    []byte
	EnqueuedAt time.Time
}

// SendFunc transmits one encoded control message.
type SendFunc func(payload []byte) error

// Gate holds outbound conversational messages until the upstream signals
// readiness, then releases them in submission order.
type Gate struct {
	send   SendFunc
	now    func() time.Time
	ready  bool
	signal wire.ReadySignal
	queue  []PendingMessage
}

// NewGate returns a closed gate that transmits through send.
func NewGate(send SendFunc) *Gate {
	return &Gate{send: send, now: time.Now}
}

// Ready reports whether the gate has been opened.
func (g *Gate) Ready() bool { return g.ready }

// Signal returns the signal that opened the gate, or [wire.SignalNone].
func (g *Gate) Signal() wire.ReadySignal { return g.signal }

// Len returns the number of queued messages.
func (g *Gate) Len() int { return len(g.queue) }

// MarkReady opens the gate and flushes the queue in FIFO order. Only the
// first call has any effect; later signals are ignored and report zero
// flushed messages.
//
// If a send fails the flush stops. The failed message and everything after
// it stay queued so [Gate.Reset] can report them.
func (g *Gate) MarkReady(sig wire.ReadySignal) (flushed int, err error) {
	if g.ready {
		return 0, nil
	}
	g.ready = true
	g.signal = sig
	for len(g.queue) > 0 {
		if err := g.send(g.queue[0].Payload); err != nil {
			return flushed, fmt.Errorf("session: flush queued message: %w", err)
		}
		g.queue[0] = PendingMessage{}
		g.queue = g.queue[1:]
		flushed++
	}
	g.queue = nil
	return flushed, nil
}

// Send transmits payload if the gate is open and queues it otherwise.
// queued reports which of the two happened.
func (g *Gate) Send(payload []byte) (queued bool, err error) {
	if !g.ready {
		g.queue = append(g.queue, PendingMessage{Payload: payload, EnqueuedAt: g.now()})
		return true, nil
	}
	return false, g.send(payload)
}

// Reset closes the gate and returns every message that was still queued, in
// submission order. The caller reports one error per returned entry.
func (g *Gate) Reset() []PendingMessage {
	dropped := g.queue
	g.queue = nil
	g.ready = false
	g.signal = wire.SignalNone
	return dropped
}
