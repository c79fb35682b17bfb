package backend

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	cb := NewCircuitBreaker(3, 2, 10*time.Second)
	cb.now = clock.now
	return cb
}

func TestCircuitBreaker_tripsAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clock)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess() // resets the run
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != BreakerClosed {
		t.Fatalf("State() = %v, want closed", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_halfOpenRecovery(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clock)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	clock.advance(10 * time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() after cool-down = %v", err)
	}
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("State() = %v, want half-open", cb.State())
	}

	cb.RecordSuccess()
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("one probe should not close the breaker")
	}
	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Fatalf("State() = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_halfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clock)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.advance(11 * time.Second)
	_ = cb.Allow()

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}
}

func TestCircuitBreaker_stateChangeCallback(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clock)
	var seen []BreakerState
	cb.OnStateChange(func(s BreakerState) { seen = append(seen, s) })

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.advance(10 * time.Second)
	cb.RecordSuccess() // still open until observed
	_ = cb.Allow()
	cb.RecordSuccess()
	cb.RecordSuccess()

	want := []BreakerState{BreakerOpen, BreakerHalfOpen, BreakerClosed}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition[%d] = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestBreakerState_String(t *testing.T) {
	if BreakerHalfOpen.String() != "half-open" || BreakerState(9).String() != "unknown" {
		t.Error("unexpected state names")
	}
}
