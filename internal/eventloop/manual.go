package eventloop

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic Scheduler for tests. Posted tasks run on Drain,
// timers fire on Advance, and Go runs its function inline.
type Manual struct {
	mu      sync.Mutex
	queue   []func()
	timers  []*manualTimer
	elapsed time.Duration
	seq     int
}

type manualTimer struct {
	at      time.Duration
	every   time.Duration
	fn      func()
	seq     int
	stopped bool
}

// NewManual returns an empty manual scheduler at time zero.
func NewManual() *Manual {
	return &Manual{}
}

// Post queues fn until the next Drain.
func (m *Manual) Post(fn func()) bool {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
	return true
}

// Call runs fn immediately.
func (m *Manual) Call(_ context.Context, fn func()) error {
	fn()
	return nil
}

// AfterFunc schedules fn at Elapsed()+d.
func (m *Manual) AfterFunc(d time.Duration, fn func()) func() {
	return m.add(d, 0, fn)
}

// Every schedules fn every d.
func (m *Manual) Every(d time.Duration, fn func()) func() {
	return m.add(d, d, fn)
}

func (m *Manual) add(d, every time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{at: m.elapsed + d, every: every, fn: fn, seq: m.seq}
	m.timers = append(m.timers, t)
	return func() {
		m.mu.Lock()
		t.stopped = true
		m.mu.Unlock()
	}
}

// Go runs fn inline.
func (m *Manual) Go(fn func()) {
	fn()
}

// Drain runs queued tasks, including ones they post, until none remain.
func (m *Manual) Drain() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		fn()
	}
}

// Advance moves the clock forward by d, firing due timers in order and
// draining after each one.
func (m *Manual) Advance(d time.Duration) {
	m.Drain()
	m.mu.Lock()
	target := m.elapsed + d
	m.mu.Unlock()
	for {
		m.mu.Lock()
		t := m.nextDue(target)
		if t == nil {
			m.elapsed = target
			m.mu.Unlock()
			break
		}
		m.elapsed = t.at
		if t.every > 0 {
			t.at += t.every
		} else {
			t.stopped = true
		}
		m.queue = append(m.queue, t.fn)
		m.mu.Unlock()
		m.Drain()
	}
	m.Drain()
}

func (m *Manual) nextDue(target time.Duration) *manualTimer {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	m.timers = live
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].at != m.timers[j].at {
			return m.timers[i].at < m.timers[j].at
		}
		return m.timers[i].seq < m.timers[j].seq
	})
	if len(m.timers) == 0 || m.timers[0].at > target {
		return nil
	}
	return m.timers[0]
}

// Elapsed is the manual clock.
func (m *Manual) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsed
}

// Pending reports queued tasks plus live timers.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.queue)
	for _, t := range m.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}
