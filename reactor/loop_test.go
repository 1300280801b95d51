package reactor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_NewAndClose(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	assert.Equal(t, StateIdle, loop.State())
	assert.False(t, loop.Alive())
	assert.NotZero(t, loop.ID())

	require.NoError(t, loop.Close())
	assert.Equal(t, StateClosed, loop.State())
	assert.ErrorIs(t, loop.Close(), ErrLoopClosed)
	assert.ErrorIs(t, loop.Run(context.Background(), RunDefault), ErrLoopClosed)

	n, err := NewNotifier(loop)
	assert.ErrorIs(t, err, ErrLoopClosed)
	assert.Equal(t, HandleClosed, n.State())
}

func TestLoop_InvalidOptions(t *testing.T) {
	_, err := New(WithPollEventBuffer(0))
	assert.Error(t, err)

	_, err = New(WithLogger(NewJSONLogger(new(syncBuffer), logiface.LevelError)), WithLogRate(map[time.Duration]int{
		time.Second: 10,
		time.Minute: 5,
	}))
	assert.Error(t, err)

	loop, err := New(nil, WithPollEventBuffer(1), WithLogRate(nil))
	require.NoError(t, err)
	require.NoError(t, loop.Close())
}

// TestLoop_RunDefaultReturnsWhenNotAlive verifies that a loop without
// referenced, watching handles returns immediately.
func TestLoop_RunDefaultReturnsWhenNotAlive(t *testing.T) {
	loop := newTestLoop(t)
	require.NoError(t, loop.Run(context.Background(), RunDefault))

	n, err := NewNotifier(loop)
	require.NoError(t, err)
	assert.True(t, loop.Alive())
	n.Unref()
	assert.False(t, n.HasRef())
	assert.False(t, loop.Alive())
	require.NoError(t, loop.Run(context.Background(), RunDefault))

	n.Ref()
	assert.True(t, loop.Alive())
	require.NoError(t, n.Close(nil))
	assert.True(t, loop.Alive(), "pending close keeps the loop alive")
	require.NoError(t, loop.Run(context.Background(), RunDefault))
	assert.False(t, loop.Alive())
}

func TestLoop_RunNoWaitDoesNotBlock(t *testing.T) {
	loop := newTestLoop(t)
	n, err := NewNotifier(loop)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		// loop goroutine for the rest of this test
		err := loop.Run(context.Background(), RunNoWait)
		if err == nil {
			err = n.Close(nil)
		}
		if err == nil {
			err = loop.Run(context.Background(), RunDefault)
		}
		done <- err
	}()
	require.NoError(t, waitRun(t, done, 5*time.Second))
	assert.Equal(t, uint64(2), loop.Stats().Iterations)
}

// TestLoop_StopOffLoopGoroutine verifies that Stop is rejected anywhere but
// the loop goroutine.
func TestLoop_StopOffLoopGoroutine(t *testing.T) {
	loop := newTestLoop(t)
	assert.ErrorIs(t, loop.Stop(), ErrNotLoopThread, "before first Run")

	n, err := NewNotifier(loop)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// the same goroutine must drive both runs
	results := make(chan error)
	again := make(chan struct{})
	go func() {
		results <- loop.Run(ctx, RunDefault)
		<-again
		results <- loop.Run(ctx, RunDefault)
	}()
	waitLoopState(t, loop, StateRunning, 5*time.Second)

	assert.ErrorIs(t, loop.Stop(), ErrNotLoopThread)

	// cross-goroutine stop is routed through the notifier
	require.NoError(t, n.Notify(func() {
		if err := loop.Stop(); err != nil {
			t.Errorf("stop: %v", err)
		}
	}))
	require.NoError(t, waitRun(t, results, 5*time.Second))

	// Close must also happen on the loop goroutine from now on
	assert.ErrorIs(t, n.Close(nil), ErrNotLoopThread)
	assert.ErrorIs(t, loop.Run(context.Background(), RunNoWait), ErrNotLoopThread)
	assert.Equal(t, StateIdle, loop.State())

	closed := make(chan struct{})
	require.NoError(t, n.Notify(func() {
		_ = n.Close(func() { close(closed) })
	}))
	close(again)
	require.NoError(t, waitRun(t, results, 5*time.Second))
	<-closed
}

func TestLoop_ReentrantRun(t *testing.T) {
	loop := newTestLoop(t)
	n, err := NewNotifier(loop)
	require.NoError(t, err)

	var inner error
	require.NoError(t, n.Notify(func() {
		inner = loop.Run(context.Background(), RunNoWait)
		require.NoError(t, n.Close(nil))
	}))
	require.NoError(t, loop.Run(context.Background(), RunDefault))
	assert.ErrorIs(t, inner, ErrReentrantRun)
}

func TestLoop_ConcurrentRun(t *testing.T) {
	loop := newTestLoop(t)
	n, err := NewNotifier(loop)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := runLoop(t, loop, ctx)
	waitLoopState(t, loop, StateRunning, 5*time.Second)

	assert.ErrorIs(t, loop.Run(ctx, RunDefault), ErrLoopRunning)
	assert.ErrorIs(t, loop.Close(), ErrLoopRunning)

	require.NoError(t, n.Notify(func() { _ = n.Close(nil) }))
	require.NoError(t, waitRun(t, done, 5*time.Second))
}

// TestLoop_ContextCancel verifies that cancellation wakes a blocked poll,
// and that undrained tasks are discarded.
func TestLoop_ContextCancel(t *testing.T) {
	loop := newTestLoop(t)
	n, err := NewNotifier(loop)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(20*time.Millisecond, cancel)
	defer timer.Stop()

	err = loop.Run(ctx, RunDefault)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateIdle, loop.State())

	var ran bool
	require.NoError(t, n.Notify(func() { ran = true }))
	assert.ErrorIs(t, loop.Run(ctx, RunDefault), context.Canceled)
	assert.False(t, ran)
	assert.Equal(t, uint64(1), loop.Stats().TasksDiscarded)

	require.NoError(t, n.Close(nil))
	require.NoError(t, loop.Run(context.Background(), RunDefault))
}

// TestLoop_CloseBusy verifies that a loop cannot be closed while any handle
// has yet to complete its close.
func TestLoop_CloseBusy(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	n, err := NewNotifier(loop)
	require.NoError(t, err)

	assert.ErrorIs(t, loop.Close(), ErrLoopBusy)

	require.NoError(t, n.Close(nil))
	assert.ErrorIs(t, loop.Close(), ErrLoopBusy, "close completion still pending")
	assert.Equal(t, 1, loop.Stats().Handles)

	require.NoError(t, loop.Run(context.Background(), RunDefault))
	assert.Equal(t, 0, loop.Stats().Handles)
	require.NoError(t, loop.Close())
}

func TestLoop_Walk(t *testing.T) {
	loop := newTestLoop(t)
	a, err := NewNotifier(loop)
	require.NoError(t, err)
	b, err := NewNotifier(loop)
	require.NoError(t, err)
	var h Handle
	require.NoError(t, h.Open(loop, "custom"))

	var seen []Resource
	loop.Walk(func(r Resource) { seen = append(seen, r) })
	require.Len(t, seen, 3)
	assert.Same(t, a, seen[0])
	assert.Same(t, b, seen[1])
	assert.Same(t, &h, seen[2])
	assert.Equal(t, "custom", seen[2].Kind())

	loop.Walk(func(r Resource) { require.NoError(t, r.Close(nil)) })
	require.NoError(t, loop.Run(context.Background(), RunDefault))

	seen = nil
	loop.Walk(func(r Resource) { seen = append(seen, r) })
	assert.Empty(t, seen)
}

func TestLoop_PollFailure(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	n, err := NewNotifier(loop)
	require.NoError(t, err)

	// simulate a broken poller
	require.NoError(t, loop.poller.close())

	err = loop.Run(context.Background(), RunNoWait)
	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "poll", opErr.Op)
	assert.True(t, errors.Is(err, ErrPollerClosed))
	assert.Equal(t, StateIdle, loop.State())

	require.NoError(t, n.Close(nil))
}

func TestRunMode_String(t *testing.T) {
	assert.Equal(t, "Default", RunDefault.String())
	assert.Equal(t, "Once", RunOnce.String())
	assert.Equal(t, "NoWait", RunNoWait.String())
	assert.Equal(t, "Unknown", RunMode(42).String())
}

func TestLoopState_String(t *testing.T) {
	for state, want := range map[LoopState]string{
		StateIdle:      "Idle",
		StateRunning:   "Running",
		StateSleeping:  "Sleeping",
		StateStopping:  "Stopping",
		StateClosed:    "Closed",
		LoopState(100): "Unknown",
	} {
		assert.Equal(t, want, state.String())
	}
}
