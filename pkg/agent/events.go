package agent

import (
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/pkg/wire"
)

// State is the connection lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingReadiness
	StateReady
	StateClosing
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingReadiness:
		return "awaiting_readiness"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is delivered on [Conn.Events]. The concrete types are
// [StateChanged], [ConversationText], [FunctionCallRequested], [AgentAudio],
// [Message] and [ErrorEvent].
type Event interface {
	event()
}

// StateChanged reports a lifecycle transition.
type StateChanged struct {
	From, To State
}

// ConversationText is one transcript line. It has already been appended to
// [Conn.History] when delivered.
type ConversationText struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// FunctionCallRequested asks the host to run a client-side function and
// answer with [Conn.RespondToFunctionCall] within Deadline.
type FunctionCallRequested struct {
	Call     wire.FunctionCall
	Deadline time.Time
}

// AgentAudio is one chunk of agent speech, PCM16 at the configured output
// rate.
type AgentAudio struct {
	PCM []byte
}

// Message is any other control message, passed through verbatim.
type Message struct {
	Type string
	Data []byte
}

// ErrorEvent reports a typed error. Fatal errors are followed by a
// [StateChanged] to [StateClosed].
type ErrorEvent struct {
	Err *Error
}

func (StateChanged) event()          {}
func (ConversationText) event()      {}
func (FunctionCallRequested) event() {}
func (AgentAudio) event()            {}
func (Message) event()               {}
func (ErrorEvent) event()            {}

// ── eventQueue ───────────────────────────────────────────────────────────────

// drainTimeout bounds how long a closed queue waits for the host to read
// each remaining event before discarding the rest.
const drainTimeout = time.Second

// eventQueue decouples the connection loop from the host's reader. push never
// blocks, so a host that calls back into the [Conn] from its event loop
// cannot deadlock it.
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	closed bool
	signal chan struct{}
	done   chan struct{}
	out    chan Event
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan Event),
	}
}

func (q *eventQueue) push(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, e)
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// close stops accepting events. Already queued events are still delivered
// as long as the host keeps reading.
func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

func (q *eventQueue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	e := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return e, true
}

// run delivers events in order until the queue is closed and drained, then
// closes out.
func (q *eventQueue) run() {
	defer close(q.out)
	for {
		e, ok := q.pop()
		if !ok {
			select {
			case <-q.signal:
				continue
			case <-q.done:
				if e, ok = q.pop(); !ok {
					return
				}
			}
		}
		select {
		case q.out <- e:
			continue
		case <-q.done:
		}
		select {
		case q.out <- e:
		case <-time.After(drainTimeout):
			return
		}
	}
}
