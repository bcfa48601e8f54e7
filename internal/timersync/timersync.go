// Package timersync keeps a locally ticking countdown aligned with the
// server's authoritative remaining time for a 1:1 call.
package timersync

import (
	"time"

	"github.com/aura-webinar/livehost/internal/models"
)

// DefaultTolerance is the drift, in seconds, tolerated before snapping.
const DefaultTolerance = 3

// Timer is loop-confined; Tick is driven by a one second interval.
type Timer struct {
	tolerance int
	now       func() time.Time

	remaining    int
	active       bool
	started      bool
	lastSyncedAt time.Time
}

// New returns an idle timer. tolerance <= 0 uses DefaultTolerance.
func New(tolerance int, now func() time.Time) *Timer {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if now == nil {
		now = time.Now
	}
	return &Timer{tolerance: tolerance, now: now}
}

// OnServerTick reconciles with the server value. Small drifts are left to
// the local tick; large ones snap. A server zero never clears a clock that
// is still above tolerance: only Stop ends the countdown.
// It reports whether the local value changed.
func (t *Timer) OnServerTick(remaining int) bool {
	if remaining < 0 {
		remaining = 0
	}
	t.lastSyncedAt = t.now()
	if !t.active {
		t.remaining = remaining
		t.active = true
		t.started = true
		return true
	}
	if remaining == 0 && t.remaining > t.tolerance {
		return false
	}
	if abs(t.remaining-remaining) <= t.tolerance {
		return false
	}
	t.remaining = remaining
	return true
}

// OnServerStart sets the ceiling and starts ticking. Only the first start counts.
func (t *Timer) OnServerStart(maxDuration int) bool {
	if t.started {
		return false
	}
	if maxDuration < 0 {
		maxDuration = 0
	}
	t.started = true
	t.active = true
	t.remaining = maxDuration
	t.lastSyncedAt = t.now()
	return true
}

// Tick decrements one second while active. Reaching zero keeps the timer
// active; ending the call is not the timer's decision.
func (t *Timer) Tick() {
	if !t.active || t.remaining == 0 {
		return
	}
	t.remaining--
}

// Stop is the explicit end signal.
func (t *Timer) Stop() {
	t.active = false
	t.started = false
	t.remaining = 0
}

// Active reports whether the countdown is ticking.
func (t *Timer) Active() bool {
	return t.active
}

// Remaining is the displayed number of seconds.
func (t *Timer) Remaining() int {
	return t.remaining
}

// State snapshots the timer.
func (t *Timer) State() models.TimerState {
	return models.TimerState{
		Remaining:    t.remaining,
		Active:       t.active,
		LastSyncedAt: t.lastSyncedAt,
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
