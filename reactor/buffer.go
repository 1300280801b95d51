package reactor

import (
	"sync"
)

// bufferClasses are the pooled capacities, ascending.
var bufferClasses = [...]int{512, 4 << 10, 16 << 10, 64 << 10}

var bufferPools [len(bufferClasses)]sync.Pool

// Buffer is a pooled byte slice with a single owner. The owner must either
// Release it or take the bytes with Detach; read completions release their
// buffer automatically once the callback returns.
type Buffer struct {
	b     []byte
	class int
	done  bool
}

// GetBuffer returns a buffer of length size. Sizes above the largest class
// are allocated directly and never pooled.
func GetBuffer(size int) *Buffer {
	if size < 0 {
		size = 0
	}
	for i, c := range bufferClasses {
		if size <= c {
			if p, ok := bufferPools[i].Get().(*[]byte); ok {
				return &Buffer{b: (*p)[:size], class: i}
			}
			return &Buffer{b: make([]byte, size, c), class: i}
		}
	}
	return &Buffer{b: make([]byte, size), class: -1}
}

// Bytes returns the buffer contents, or nil once released or detached. The
// slice must not be retained past Release.
func (x *Buffer) Bytes() []byte {
	if x == nil || x.done {
		return nil
	}
	return x.b
}

// Len returns the length of the buffer contents.
func (x *Buffer) Len() int {
	return len(x.Bytes())
}

// Truncate shortens the contents to n bytes. It is a no-op if n is out of
// range.
func (x *Buffer) Truncate(n int) {
	if x == nil || x.done || n < 0 || n > len(x.b) {
		return
	}
	x.b = x.b[:n]
}

// Detach transfers ownership of the bytes to the caller. The buffer will not
// return them to the pool, and subsequent calls return nil.
func (x *Buffer) Detach() []byte {
	if x == nil || x.done {
		return nil
	}
	b := x.b
	x.b = nil
	x.done = true
	return b
}

// Release returns the bytes to the pool. It is idempotent.
func (x *Buffer) Release() {
	if x == nil || x.done {
		return
	}
	x.done = true
	if x.class >= 0 {
		b := x.b[:0]
		bufferPools[x.class].Put(&b)
	}
	x.b = nil
}
