package session

import "time"

// fakeTimer is a manually fired timer.
type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (ft *fakeTimer) Stop() bool {
	was := !ft.stopped
	ft.stopped = true
	return was
}

// fire runs the callback unless the timer was stopped.
func (ft *fakeTimer) fire() {
	if !ft.stopped {
		ft.stopped = true
		ft.f()
	}
}

// fakeClock records every scheduled timer.
type fakeClock struct {
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	ft := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, ft)
	return ft
}

func (c *fakeClock) last() *fakeTimer {
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

func (c *fakeClock) active() int {
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}
