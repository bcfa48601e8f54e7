package eventloop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	return l, cancel
}

func TestLoopRunsTasksInOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	l, cancel := startLoop(t)
	defer cancel()

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, l.Call(context.Background(), func() {}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)

	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	require.NoError(t, l.CloseAndWait(ctx))
}

func TestLoopRecoversFromPanickingTask(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	l, cancel := startLoop(t)
	defer cancel()

	l.Post(func() { panic("boom") })
	ran := false
	require.NoError(t, l.Call(context.Background(), func() { ran = true }))
	assert.True(t, ran)
	l.Close()
}

func TestLoopRejectsWorkAfterClose(t *testing.T) {
	l := New(nil)
	l.Close()
	assert.False(t, l.Post(func() {}))
	err := l.Call(context.Background(), func() {})
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestAwaitResumesOnLoop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	l, cancel := startLoop(t)
	defer cancel()

	result := make(chan int, 1)
	Await(l, func() (int, error) { return 42, nil }, func(v int, err error) {
		require.NoError(t, err)
		result <- v
	})
	select {
	case v := <-result:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("await continuation did not run")
	}

	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	require.NoError(t, l.CloseAndWait(ctx))
}

func TestEveryStopsTicking(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	l, cancel := startLoop(t)
	defer cancel()

	var n atomic.Int32
	stop := l.Every(5*time.Millisecond, func() { n.Add(1) })
	require.Eventually(t, func() bool { return n.Load() >= 2 }, time.Second, time.Millisecond)
	stop()
	stop()

	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	require.NoError(t, l.CloseAndWait(ctx))
}

func TestManualAdvanceFiresTimersInOrder(t *testing.T) {
	m := NewManual()
	var got []string
	m.AfterFunc(2*time.Second, func() { got = append(got, "after") })
	stop := m.Every(time.Second, func() { got = append(got, "tick") })
	cancelled := m.AfterFunc(time.Second, func() { got = append(got, "cancelled") })
	cancelled()

	m.Advance(3 * time.Second)
	stop()
	m.Advance(5 * time.Second)

	assert.Equal(t, []string{"tick", "after", "tick", "tick"}, got)
	assert.Equal(t, 8*time.Second, m.Elapsed())
	assert.Zero(t, m.Pending())
}

func TestManualAwaitNeedsDrain(t *testing.T) {
	m := NewManual()
	var got int
	Await(m, func() (int, error) { return 7, nil }, func(v int, _ error) { got = v })
	assert.Zero(t, got)
	m.Drain()
	assert.Equal(t, 7, got)
}
