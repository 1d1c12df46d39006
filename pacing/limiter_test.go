package pacing

import (
	"testing"
	"time"
)

type fakeClock struct {
	now    time.Duration
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Duration { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.now += d
}

func TestLimiterSleepsRemainder(t *testing.T) {
	clock := &fakeClock{}
	l := newLimiter(50, clock.Now, clock.Sleep)

	clock.now += 5 * time.Millisecond
	l.Tick()

	if len(clock.sleeps) != 1 || clock.sleeps[0] != 15*time.Millisecond {
		t.Fatalf("expected one 15ms sleep, got %v", clock.sleeps)
	}
	if l.Delta() != 20*time.Millisecond {
		t.Errorf("expected a 20ms delta, got %v", l.Delta())
	}
}

func TestLimiterSkipsShortSleeps(t *testing.T) {
	clock := &fakeClock{}
	l := newLimiter(100, clock.Now, clock.Sleep)

	clock.now += 9*time.Millisecond + 500*time.Microsecond
	l.Tick()

	if len(clock.sleeps) != 0 {
		t.Errorf("expected no sleep for a sub-millisecond remainder, got %v", clock.sleeps)
	}
}

func TestLimiterOverBudgetFrame(t *testing.T) {
	clock := &fakeClock{}
	l := newLimiter(60, clock.Now, clock.Sleep)

	clock.now += 40 * time.Millisecond
	l.Tick()

	if len(clock.sleeps) != 0 {
		t.Errorf("expected no sleep for a late frame, got %v", clock.sleeps)
	}
	if l.Delta() != 40*time.Millisecond {
		t.Errorf("expected a 40ms delta, got %v", l.Delta())
	}
}

func TestLimiterUnlimited(t *testing.T) {
	clock := &fakeClock{}
	l := newLimiter(0, clock.Now, clock.Sleep)

	for i := 0; i < 3; i++ {
		clock.now += time.Millisecond
		l.Tick()
	}

	if len(clock.sleeps) != 0 {
		t.Errorf("expected no sleeps, got %v", clock.sleeps)
	}
	if l.Target() != 0 {
		t.Errorf("expected no target, got %v", l.Target())
	}
}
