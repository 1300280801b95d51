package reactor

import (
	"sync"
)

// closeChunkSize is the number of handles per node in a closeQueue.
const closeChunkSize = 64

// closeQueue is a chunked linked-list FIFO of handles whose close completion
// is pending.
//
// Thread Safety: NOT thread-safe. Only the loop goroutine pushes (from
// Handle.Close) and pops (from the close phase).
type closeQueue struct {
	head   *closeChunk
	tail   *closeChunk
	length int
}

var closeChunkPool = sync.Pool{
	New: func() any {
		return &closeChunk{}
	},
}

// closeChunk is a fixed-size node, with readPos/pos cursors for O(1)
// push/pop without shifting.
type closeChunk struct {
	handles [closeChunkSize]*Handle
	next    *closeChunk
	readPos int
	pos     int
}

func newCloseChunk() *closeChunk {
	c := closeChunkPool.Get().(*closeChunk)
	c.pos = 0
	c.readPos = 0
	c.next = nil
	return c
}

// returnCloseChunk clears the slots, so the pool retains no handles.
func returnCloseChunk(c *closeChunk) {
	clear(c.handles[:c.pos])
	c.pos = 0
	c.readPos = 0
	c.next = nil
	closeChunkPool.Put(c)
}

func (q *closeQueue) push(h *Handle) {
	if q.tail == nil {
		q.tail = newCloseChunk()
		q.head = q.tail
	}
	if q.tail.pos == len(q.tail.handles) {
		newTail := newCloseChunk()
		q.tail.next = newTail
		q.tail = newTail
	}
	q.tail.handles[q.tail.pos] = h
	q.tail.pos++
	q.length++
}

func (q *closeQueue) pop() (*Handle, bool) {
	if q.head == nil || q.head.readPos >= q.head.pos {
		return nil, false
	}
	h := q.head.handles[q.head.readPos]
	q.head.handles[q.head.readPos] = nil
	q.head.readPos++
	q.length--
	if q.head.readPos >= q.head.pos {
		if q.head == q.tail {
			q.head.pos = 0
			q.head.readPos = 0
		} else {
			old := q.head
			q.head = q.head.next
			returnCloseChunk(old)
		}
	}
	return h, true
}

func (q *closeQueue) len() int {
	return q.length
}
