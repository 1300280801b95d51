package reactor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestLoop creates a loop that is closed at the end of the test, failing
// the test if any handle was left open.
func newTestLoop(t *testing.T, opts ...LoopOption) *Loop {
	t.Helper()
	loop, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		if loop.State() == StateClosed {
			return
		}
		if err := loop.Close(); err != nil {
			t.Errorf("loop close: %v", err)
		}
	})
	return loop
}

// runLoop runs loop with RunDefault on a new goroutine, returning a channel
// that receives the result of Run.
func runLoop(t *testing.T, loop *Loop, ctx context.Context) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- loop.Run(ctx, RunDefault)
	}()
	return done
}

// waitRun waits for a runLoop result.
func waitRun(t *testing.T, done <-chan error, timeout time.Duration) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		t.Fatal("timeout waiting for Run to return")
		return nil
	}
}

// waitLoopState waits for a loop to reach a specific state within a timeout.
func waitLoopState(t *testing.T, loop *Loop, expected LoopState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for loop.State() != expected && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if loop.State() != expected {
		// Accept either Running or Sleeping as "running"
		state := loop.State()
		if expected == StateRunning && (state == StateRunning || state == StateSleeping) {
			return
		}
		t.Fatalf("Loop failed to reach %v state (got %v)", expected, state)
	}
}
