// Package eventloop runs session work on a single goroutine.
//
// Everything that touches session state (signaling messages, media engine
// callbacks, REST completions, interval timers, lifecycle hooks) is posted
// onto the loop. Blocking work runs off-loop and hands its result back with
// Await, so the loop itself never waits on the network.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned when work is submitted to a closed loop.
var ErrClosed = errors.New("eventloop: closed")

// Scheduler is the surface session components depend on. Loop is the
// production implementation; Manual drives the same code deterministically.
type Scheduler interface {
	// Post queues fn to run on the loop. It never blocks.
	Post(fn func()) bool
	// Call runs fn on the loop and waits for it. Must not be called from the loop.
	Call(ctx context.Context, fn func()) error
	// AfterFunc posts fn once after d. The returned func cancels it.
	AfterFunc(d time.Duration, fn func()) (stop func())
	// Every posts fn every d until stopped.
	Every(d time.Duration, fn func()) (stop func())
	// Go runs fn off the loop.
	Go(fn func())
}

// Await runs work off-loop and resumes with then on the loop.
func Await[T any](s Scheduler, work func() (T, error), then func(T, error)) {
	s.Go(func() {
		v, err := work()
		s.Post(func() { then(v, err) })
	})
}

// Loop is a single-goroutine task queue with an unbounded backlog.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	workers   sync.WaitGroup
	logger    *zap.Logger
}

// New creates a loop. Call Run to start processing.
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run processes tasks until ctx is done or Close is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.Close()
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
			l.drain()
		}
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()
		if closed || len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event loop task panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// Post queues fn. It returns false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and blocks until it has run.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if !l.Post(func() {
		defer close(ran)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFunc posts fn after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, func() { l.Post(fn) })
	return func() { t.Stop() }
}

// Every posts fn on each tick of d until the returned stop func is called or
// the loop closes.
func (l *Loop) Every(d time.Duration, fn func()) func() {
	stop := make(chan struct{})
	var once sync.Once
	l.workers.Add(1)
	go func() {
		defer l.workers.Done()
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-l.done:
				return
			case <-ticker.C:
				l.Post(fn)
			}
		}
	}()
	return func() { once.Do(func() { close(stop) }) }
}

// Go runs fn on its own goroutine, tracked for CloseAndWait.
func (l *Loop) Go(fn func()) {
	l.workers.Add(1)
	go func() {
		defer l.workers.Done()
		fn()
	}()
}

// Close stops the loop and drops queued tasks. Safe to call repeatedly.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	})
}

// Done is closed when the loop stops.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// CloseAndWait closes the loop and waits for tickers and off-loop workers.
func (l *Loop) CloseAndWait(ctx context.Context) error {
	l.Close()
	finished := make(chan struct{})
	go func() {
		l.workers.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event loop drain timeout: %w", ctx.Err())
	}
}
