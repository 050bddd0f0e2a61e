package session

import (
	"strings"
	"time"
)

// Reason names one holder of an idle-timer reference.
type Reason string

// Well-known reasons. Function calls use [CallReason].
const (
	ReasonAgentSpeaking Reason = "agent_speaking"
	ReasonUserSpeaking  Reason = "user_speaking"
)

const callReasonPrefix = "call:"

// CallReason is the reason held for the lifetime of one function call.
func CallReason(callID string) Reason { return Reason(callReasonPrefix + callID) }

// IsCall reports whether r was built by [CallReason].
func (r Reason) IsCall() bool { return strings.HasPrefix(string(r), callReasonPrefix) }

// IdleState is the lifecycle state of an [IdleTimer].
type IdleState int

const (
	// IdleDisarmed is the state before [IdleTimer.Arm].
	IdleDisarmed IdleState = iota

	// IdleArmed means a countdown is running.
	IdleArmed

	// IdleSuspended means at least one reason holds a reference.
	IdleSuspended

	// IdleFired is terminal: the countdown elapsed with no holders.
	IdleFired

	// IdleStopped is terminal: the owning connection was torn down.
	IdleStopped
)

// String returns the state name.
func (s IdleState) String() string {
	switch s {
	case IdleDisarmed:
		return "disarmed"
	case IdleArmed:
		return "armed"
	case IdleSuspended:
		return "suspended"
	case IdleFired:
		return "fired"
	case IdleStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IdleTimer closes a connection after a period with no meaningful activity.
//
// Independent reasons (agent speaking, user speaking, each in-flight function
// call) hold references. While any reference is held the countdown is
// suspended. When the last one is released the countdown restarts from the
// full configured duration.
//
// Expiry is delivered in two steps so the timer never mutates state off the
// owning goroutine: the underlying timer calls onExpire with a generation
// number, and the owner later calls [IdleTimer.HandleExpiry] with it. Stale
// generations are ignored.
type IdleTimer struct {
	timeout   time.Duration
	afterFunc AfterFunc
	onExpire  func(gen uint64)

	state   IdleState
	holders map[Reason]int
	refs    int
	gen     uint64
	timer   Timer
}

// IdleOption configures an [IdleTimer].
type IdleOption func(*IdleTimer)

// WithIdleAfterFunc replaces the timer factory. Intended for tests.
func WithIdleAfterFunc(f AfterFunc) IdleOption {
	return func(t *IdleTimer) { t.afterFunc = f }
}

// NewIdleTimer creates a disarmed idle timer. A non-positive timeout disables
// expiry entirely; references are still counted.
func NewIdleTimer(timeout time.Duration, onExpire func(gen uint64), opts ...IdleOption) *IdleTimer {
	t := &IdleTimer{
		timeout:   timeout,
		afterFunc: RealAfterFunc,
		onExpire:  onExpire,
		holders:   make(map[Reason]int),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// State returns the current state.
func (t *IdleTimer) State() IdleState { return t.state }

// Refs returns the number of held references.
func (t *IdleTimer) Refs() int { return t.refs }

// Holds reports whether reason currently holds at least one reference.
func (t *IdleTimer) Holds(reason Reason) bool { return t.holders[reason] > 0 }

// Generation identifies the currently running countdown.
func (t *IdleTimer) Generation() uint64 { return t.gen }

// Arm starts the countdown, or suspends immediately if references are
// already held. Arming an armed or suspended timer has no effect.
func (t *IdleTimer) Arm() {
	if t.state != IdleDisarmed {
		return
	}
	if t.refs > 0 {
		t.state = IdleSuspended
		return
	}
	t.restart()
}

// Enter takes a reference for reason. The first reference cancels any
// running countdown.
func (t *IdleTimer) Enter(reason Reason) {
	if t.terminal() {
		return
	}
	t.holders[reason]++
	t.refs++
	if t.refs == 1 && t.state == IdleArmed {
		t.cancel()
		t.state = IdleSuspended
	}
}

// Exit releases one reference for reason. Releasing a reason that holds
// nothing is ignored, so unmatched end events cannot drive the count below
// zero. When the count returns to zero an armed timer restarts with the full
// timeout.
func (t *IdleTimer) Exit(reason Reason) {
	if t.terminal() || t.holders[reason] == 0 {
		return
	}
	t.holders[reason]--
	if t.holders[reason] == 0 {
		delete(t.holders, reason)
	}
	t.refs--
	if t.refs == 0 && t.state == IdleSuspended {
		t.restart()
	}
}

// ExitAll releases every reference held for reason.
func (t *IdleTimer) ExitAll(reason Reason) {
	for t.holders[reason] > 0 {
		t.Exit(reason)
	}
}

// Touch records meaningful activity. A running countdown restarts from the
// full timeout; a suspended timer is unaffected.
func (t *IdleTimer) Touch() {
	if t.state == IdleArmed {
		t.restart()
	}
}

// HandleExpiry is called on the owning goroutine with the generation passed
// to onExpire. It reports whether the timer fired. Once fired the timer is
// terminal.
func (t *IdleTimer) HandleExpiry(gen uint64) bool {
	if t.state != IdleArmed || gen != t.gen || t.refs > 0 {
		return false
	}
	t.state = IdleFired
	t.timer = nil
	return true
}

// Stop cancels any countdown and makes the timer terminal.
func (t *IdleTimer) Stop() {
	if t.terminal() {
		return
	}
	t.cancel()
	t.state = IdleStopped
	clear(t.holders)
	t.refs = 0
}

func (t *IdleTimer) terminal() bool {
	return t.state == IdleFired || t.state == IdleStopped
}

func (t *IdleTimer) cancel() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *IdleTimer) restart() {
	t.cancel()
	t.state = IdleArmed
	if t.timeout <= 0 {
		return
	}
	gen := t.gen
	t.timer = t.afterFunc(t.timeout, func() { t.onExpire(gen) })
}
