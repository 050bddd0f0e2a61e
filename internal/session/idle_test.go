package session

import (
	"math/rand/v2"
	"testing"
	"time"
)

const testIdle = 10 * time.Second

func newTestIdle(t *testing.T) (*IdleTimer, *fakeClock, *[]uint64) {
	t.Helper()
	clock := &fakeClock{}
	var fired []uint64
	it := NewIdleTimer(testIdle, func(gen uint64) { fired = append(fired, gen) }, WithIdleAfterFunc(clock.AfterFunc))
	return it, clock, &fired
}

func TestIdleTimer_FiresWhenUnheld(t *testing.T) {
	t.Parallel()

	it, clock, fired := newTestIdle(t)
	if it.State() != IdleDisarmed {
		t.Fatalf("initial state = %v; want disarmed", it.State())
	}
	it.Arm()
	if it.State() != IdleArmed {
		t.Fatalf("state after Arm = %v; want armed", it.State())
	}
	if got := clock.last().d; got != testIdle {
		t.Errorf("countdown = %v; want %v", got, testIdle)
	}

	clock.last().fire()
	if len(*fired) != 1 {
		t.Fatalf("onExpire calls = %d; want 1", len(*fired))
	}
	if !it.HandleExpiry((*fired)[0]) {
		t.Fatal("HandleExpiry = false; want true")
	}
	if it.State() != IdleFired {
		t.Errorf("state = %v; want fired", it.State())
	}

	// Fired is terminal.
	it.Enter(ReasonUserSpeaking)
	it.Arm()
	if it.State() != IdleFired || it.Refs() != 0 {
		t.Errorf("terminal timer changed: state=%v refs=%d", it.State(), it.Refs())
	}
}

func TestIdleTimer_SuspendAndFullRearm(t *testing.T) {
	t.Parallel()

	it, clock, _ := newTestIdle(t)
	it.Arm()
	first := clock.last()

	it.Enter(CallReason("c1"))
	if it.State() != IdleSuspended {
		t.Fatalf("state = %v; want suspended", it.State())
	}
	if !first.stopped {
		t.Error("countdown not cancelled on first reference")
	}
	if clock.active() != 0 {
		t.Errorf("active timers while suspended = %d; want 0", clock.active())
	}

	it.Enter(ReasonAgentSpeaking)
	it.Exit(CallReason("c1"))
	if it.State() != IdleSuspended {
		t.Fatalf("state with one holder left = %v; want suspended", it.State())
	}

	it.Exit(ReasonAgentSpeaking)
	if it.State() != IdleArmed {
		t.Fatalf("state = %v; want armed", it.State())
	}
	if got := clock.last().d; got != testIdle {
		t.Errorf("re-armed countdown = %v; want full %v", got, testIdle)
	}
	if clock.last() == first {
		t.Error("re-arm reused the old countdown")
	}
}

func TestIdleTimer_StaleGenerationIgnored(t *testing.T) {
	t.Parallel()

	it, clock, fired := newTestIdle(t)
	it.Arm()
	stale := clock.last()

	// The stale timer's callback was already in flight when activity arrived.
	it.Touch()
	stale.f()

	if len(*fired) != 1 {
		t.Fatalf("onExpire calls = %d; want 1", len(*fired))
	}
	if it.HandleExpiry((*fired)[0]) {
		t.Error("stale generation fired the timer")
	}
	if it.State() != IdleArmed {
		t.Errorf("state = %v; want armed", it.State())
	}
}

func TestIdleTimer_UnmatchedExitIgnored(t *testing.T) {
	t.Parallel()

	it, _, _ := newTestIdle(t)
	it.Arm()
	it.Exit(ReasonUserSpeaking)
	if it.Refs() != 0 {
		t.Fatalf("refs = %d; want 0", it.Refs())
	}
	it.Enter(ReasonUserSpeaking)
	it.Exit(ReasonAgentSpeaking)
	if it.Refs() != 1 || it.State() != IdleSuspended {
		t.Errorf("refs=%d state=%v; want 1 suspended", it.Refs(), it.State())
	}
}

func TestIdleTimer_EnterBeforeArm(t *testing.T) {
	t.Parallel()

	it, clock, _ := newTestIdle(t)
	it.Enter(ReasonAgentSpeaking)
	it.Arm()
	if it.State() != IdleSuspended {
		t.Fatalf("state = %v; want suspended", it.State())
	}
	if len(clock.timers) != 0 {
		t.Errorf("timers scheduled while held: %d", len(clock.timers))
	}
	it.Exit(ReasonAgentSpeaking)
	if it.State() != IdleArmed || len(clock.timers) != 1 {
		t.Errorf("state=%v timers=%d; want armed 1", it.State(), len(clock.timers))
	}
}

func TestIdleTimer_TouchWhileSuspendedIsNoop(t *testing.T) {
	t.Parallel()

	it, clock, _ := newTestIdle(t)
	it.Arm()
	it.Enter(ReasonUserSpeaking)
	n := len(clock.timers)
	it.Touch()
	if len(clock.timers) != n {
		t.Error("Touch scheduled a countdown while suspended")
	}
}

func TestIdleTimer_StopCancels(t *testing.T) {
	t.Parallel()

	it, clock, fired := newTestIdle(t)
	it.Arm()
	it.Stop()
	if clock.active() != 0 {
		t.Error("Stop left a countdown running")
	}
	clock.last().fire()
	if len(*fired) != 0 {
		t.Error("stopped countdown invoked onExpire")
	}
	if it.State() != IdleStopped {
		t.Errorf("state = %v; want stopped", it.State())
	}
}

func TestIdleTimer_DisabledTimeout(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{}
	it := NewIdleTimer(0, func(uint64) {}, WithIdleAfterFunc(clock.AfterFunc))
	it.Arm()
	if len(clock.timers) != 0 {
		t.Errorf("zero timeout scheduled %d timers", len(clock.timers))
	}
}

// TestIdleTimer_RandomInterleavings checks that for any interleaving of
// reference holders the timer never has a live countdown while held, and
// always has exactly one full-length countdown when released.
func TestIdleTimer_RandomInterleavings(t *testing.T) {
	t.Parallel()

	reasons := []Reason{ReasonAgentSpeaking, ReasonUserSpeaking, CallReason("a"), CallReason("b"), CallReason("c")}
	for seed := uint64(1); seed <= 50; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed))
		it, clock, _ := newTestIdle(t)
		it.Arm()
		held := map[Reason]int{}

		for step := range 200 {
			r := reasons[rng.IntN(len(reasons))]
			if rng.IntN(2) == 0 {
				it.Enter(r)
				held[r]++
			} else {
				it.Exit(r)
				if held[r] > 0 {
					held[r]--
				}
			}
			total := 0
			for _, n := range held {
				total += n
			}
			if it.Refs() != total {
				t.Fatalf("seed %d step %d: refs = %d; want %d", seed, step, it.Refs(), total)
			}
			if total > 0 && clock.active() != 0 {
				t.Fatalf("seed %d step %d: countdown live with %d refs", seed, step, total)
			}
			if total == 0 {
				if clock.active() != 1 || clock.last().d != testIdle {
					t.Fatalf("seed %d step %d: want one full countdown when unheld", seed, step)
				}
			}
		}
	}
}
