package session

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MrWong99/voxbridge/pkg/wire"
)

// CallStatus is the lifecycle state of a [Call].
type CallStatus int

const (
	CallPending CallStatus = iota
	CallResponded
	CallTimedOut
)

// String returns the status name used in logs and metric attributes.
func (s CallStatus) String() string {
	switch s {
	case CallPending:
		return "pending"
	case CallResponded:
		return "responded"
	case CallTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Call is one upstream function-call round trip.
type Call struct {
	ID          string
	Name        string
	Arguments   string
	Status      CallStatus
	RequestedAt time.Time

	timer Timer
}

// Correlation errors returned by [CallTracker.OnResponse]. All of them mean
// no response frame may be transmitted.
var (
	ErrUnknownCall   = errors.New("session: unknown function call id")
	ErrCallTimedOut  = errors.New("session: function call already timed out")
	ErrCallResponded = errors.New("session: function call already answered")
	ErrDuplicateCall = errors.New("session: duplicate function call id")
)

// finishedCallLimit bounds how many answered or timed-out calls are
// remembered for late-response diagnostics.
const finishedCallLimit = 128

// CallTracker correlates function-call requests with host responses. Each
// pending call holds an idle-timer reference and its own timeout.
type CallTracker struct {
	timeout   time.Duration
	idle      *IdleTimer
	afterFunc AfterFunc
	onTimeout func(callID string)
	now       func() time.Time

	calls    map[string]*Call
	finished []string
}

// CallOption configures a [CallTracker].
type CallOption func(*CallTracker)

// WithCallAfterFunc replaces the timer factory. Intended for tests.
func WithCallAfterFunc(f AfterFunc) CallOption {
	return func(t *CallTracker) { t.afterFunc = f }
}

// NewCallTracker creates a tracker. timeout is the upstream's response
// window. onTimeout runs on the timer goroutine and must hand the id back to
// the owning goroutine, which then calls [CallTracker.OnTimeout].
func NewCallTracker(timeout time.Duration, idle *IdleTimer, onTimeout func(callID string), opts ...CallOption) *CallTracker {
	t := &CallTracker{
		timeout:   timeout,
		idle:      idle,
		afterFunc: RealAfterFunc,
		onTimeout: onTimeout,
		now:       time.Now,
		calls:     make(map[string]*Call),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// OnRequest registers a new pending call.
func (t *CallTracker) OnRequest(fc wire.FunctionCall) (Call, error) {
	if existing, ok := t.calls[fc.ID]; ok && existing.Status == CallPending {
		return *existing, fmt.Errorf("%w: %q", ErrDuplicateCall, fc.ID)
	}
	c := &Call{
		ID:          fc.ID,
		Name:        fc.Name,
		Arguments:   fc.Arguments,
		Status:      CallPending,
		RequestedAt: t.now(),
	}
	t.calls[fc.ID] = c
	t.idle.Enter(CallReason(fc.ID))
	id := fc.ID
	c.timer = t.afterFunc(t.timeout, func() { t.onTimeout(id) })
	return *c, nil
}

// OnResponse marks a pending call answered and releases its idle reference.
// The caller transmits the response frame only when err is nil.
func (t *CallTracker) OnResponse(callID string) (Call, error) {
	c, ok := t.calls[callID]
	if !ok {
		return Call{ID: callID}, fmt.Errorf("%w: %q", ErrUnknownCall, callID)
	}
	switch c.Status {
	case CallTimedOut:
		return *c, fmt.Errorf("%w: %q", ErrCallTimedOut, callID)
	case CallResponded:
		return *c, fmt.Errorf("%w: %q", ErrCallResponded, callID)
	}
	t.finish(c, CallResponded)
	return *c, nil
}

// OnTimeout marks a pending call timed out. ok is false when the call was
// already answered, so a timer that raced a response is a no-op.
func (t *CallTracker) OnTimeout(callID string) (call Call, ok bool) {
	c, exists := t.calls[callID]
	if !exists || c.Status != CallPending {
		return Call{}, false
	}
	t.finish(c, CallTimedOut)
	return *c, true
}

// Pending returns the number of unanswered calls.
func (t *CallTracker) Pending() int {
	n := 0
	for _, c := range t.calls {
		if c.Status == CallPending {
			n++
		}
	}
	return n
}

// Oldest returns the pending call that has waited longest.
func (t *CallTracker) Oldest() (Call, bool) {
	var oldest *Call
	for _, c := range t.calls {
		if c.Status != CallPending {
			continue
		}
		if oldest == nil || c.RequestedAt.Before(oldest.RequestedAt) {
			oldest = c
		}
	}
	if oldest == nil {
		return Call{}, false
	}
	return *oldest, true
}

// Timeout returns the response window the tracker enforces.
func (t *CallTracker) Timeout() time.Duration { return t.timeout }

// Lookup returns the call with the given id.
func (t *CallTracker) Lookup(callID string) (Call, bool) {
	c, ok := t.calls[callID]
	if !ok {
		return Call{}, false
	}
	return *c, true
}

// Close stops every timer and returns the calls that were still pending.
// Their idle references are released.
func (t *CallTracker) Close() []Call {
	var pending []Call
	for id, c := range t.calls {
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		if c.Status == CallPending {
			t.idle.Exit(CallReason(id))
			pending = append(pending, *c)
		}
	}
	clear(t.calls)
	t.finished = nil
	slices.SortFunc(pending, func(a, b Call) int { return a.RequestedAt.Compare(b.RequestedAt) })
	return pending
}

func (t *CallTracker) finish(c *Call, status CallStatus) {
	c.Status = status
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	t.idle.Exit(CallReason(c.ID))

	t.finished = append(t.finished, c.ID)
	if len(t.finished) > finishedCallLimit {
		oldest := t.finished[0]
		t.finished = t.finished[1:]
		if old, ok := t.calls[oldest]; ok && old.Status != CallPending {
			delete(t.calls, oldest)
		}
	}
}
