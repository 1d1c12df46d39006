// Package pacing caps the frame rate of the render loop.
package pacing

import (
	"time"

	"github.com/loov/hrtime"
)

// sleepThreshold is the smallest remainder worth sleeping for; the scheduler
// cannot honor shorter sleeps reliably.
const sleepThreshold = time.Millisecond

type Limiter struct {
	target time.Duration
	last   time.Duration
	delta  time.Duration

	now   func() time.Duration
	sleep func(time.Duration)
}

// NewLimiter returns a limiter targeting fps frames per second. fps <= 0
// disables limiting; Tick then only measures.
func NewLimiter(fps float64) *Limiter {
	return newLimiter(fps, hrtime.Now, time.Sleep)
}

func newLimiter(fps float64, now func() time.Duration, sleep func(time.Duration)) *Limiter {
	var target time.Duration
	if fps > 0 {
		target = time.Duration(float64(time.Second) / fps)
	}

	return &Limiter{
		target: target,
		last:   now(),
		now:    now,
		sleep:  sleep,
	}
}

// Tick ends a frame, sleeping away whatever is left of its budget.
func (l *Limiter) Tick() {
	elapsed := l.now() - l.last
	if remaining := l.target - elapsed; remaining >= sleepThreshold {
		l.sleep(remaining)
	}

	// Measure again: the sleep may have overshot.
	current := l.now()
	l.delta = current - l.last
	l.last = current
}

// Delta is the duration of the last completed frame, sleep included.
func (l *Limiter) Delta() time.Duration {
	return l.delta
}

func (l *Limiter) Target() time.Duration {
	return l.target
}
