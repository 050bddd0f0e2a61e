// Package session holds the per-connection state machines that decide when a
// frame may be sent: the readiness gate, the reference-counted idle timer and
// the function-call tracker.
//
// None of the types here are safe for concurrent use. Each connection owns
// one instance of each and drives them from a single goroutine. Timer
// callbacks never touch state directly; they run a caller-supplied function
// that is expected to post an event back onto that goroutine.
package session

import "time"

// Timer is the subset of [time.Timer] the state machines need.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run after d. [time.AfterFunc] satisfies it once
// wrapped by [RealAfterFunc].
type AfterFunc func(d time.Duration, f func()) Timer

// RealAfterFunc schedules f with [time.AfterFunc].
func RealAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
