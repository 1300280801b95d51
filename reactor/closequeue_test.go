package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCloseQueue_ChunkTransition verifies FIFO order across chunk
// boundaries, and reuse of the queue once drained.
func TestCloseQueue_ChunkTransition(t *testing.T) {
	var q closeQueue
	_, ok := q.pop()
	require.False(t, ok)

	const total = closeChunkSize*3 + 7
	handles := make([]Handle, total)
	for cycle := range 2 {
		for i := range handles {
			q.push(&handles[i])
		}
		require.Equal(t, total, q.len(), "cycle %d", cycle)
		for i := range handles {
			h, ok := q.pop()
			require.True(t, ok, "premature exhaustion at %d", i)
			require.Same(t, &handles[i], h)
		}
		_, ok = q.pop()
		assert.False(t, ok)
		assert.Zero(t, q.len())
	}
}

func TestCloseQueue_Interleaved(t *testing.T) {
	var q closeQueue
	var a, b, c Handle
	q.push(&a)
	q.push(&b)
	h, _ := q.pop()
	assert.Same(t, &a, h)
	q.push(&c)
	h, _ = q.pop()
	assert.Same(t, &b, h)
	h, _ = q.pop()
	assert.Same(t, &c, h)
	assert.Zero(t, q.len())
}
