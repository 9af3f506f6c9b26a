// Package ecbuf queues process data frames between the application and
// the cycle thread.
package ecbuf

import (
	"errors"
	"fmt"
	"sync"
)

var ErrClosed = errors.New("ecbuf: buffer is closed")

// ErrFrameSize is returned for frames that are empty or do not fit a
// single datagram.
var ErrFrameSize = errors.New("ecbuf: invalid frame size")

type Stats struct {
	Submitted uint64
	Dropped   uint64
	Popped    uint64
}

// Buffer is a bounded FIFO. When full, Submit drops the oldest frame so the
// newest actuation data always survives. No method blocks beyond a short
// critical section.
type Buffer struct {
	mu     sync.Mutex
	frames [][]byte
	head   int
	n      int
	maxLen int
	closed bool
	stats  Stats
}

// New returns a buffer holding up to capacity frames of at most maxLen
// bytes each.
func New(capacity, maxLen int) *Buffer {
	if capacity <= 0 {
		panic(fmt.Sprintf("ecbuf: capacity must be positive, is %d", capacity))
	}
	return &Buffer{frames: make([][]byte, capacity), maxLen: maxLen}
}

// Submit copies frame into the buffer.
func (b *Buffer) Submit(frame []byte) error {
	if len(frame) == 0 || len(frame) > b.maxLen {
		return fmt.Errorf("%w: %d bytes, want 1..%d", ErrFrameSize, len(frame), b.maxLen)
	}
	c := make([]byte, len(frame))
	copy(c, frame)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	b.stats.Submitted++
	if b.n == len(b.frames) {
		b.frames[b.head] = nil
		b.head = (b.head + 1) % len(b.frames)
		b.n--
		b.stats.Dropped++
	}
	b.frames[(b.head+b.n)%len(b.frames)] = c
	b.n++
	return nil
}

// Pop returns the oldest pending frame.
func (b *Buffer) Pop() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.n == 0 {
		return nil, false
	}
	f := b.frames[b.head]
	b.frames[b.head] = nil
	b.head = (b.head + 1) % len(b.frames)
	b.n--
	b.stats.Popped++
	return f, true
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

func (b *Buffer) Cap() int { return len(b.frames) }

// Drain discards all pending frames and returns how many there were.
func (b *Buffer) Drain() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.n
	for i := range b.frames {
		b.frames[i] = nil
	}
	b.head, b.n = 0, 0
	return n
}

// Close rejects further submissions. Pending frames stay poppable.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
