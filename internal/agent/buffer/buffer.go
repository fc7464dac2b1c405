// Package buffer provides a fixed-capacity FIFO buffer for agent output.
package buffer

import "sync"

// DefaultCapacity is the number of output chunks retained per session.
const DefaultCapacity = 1000

// OutputBuffer is a bounded FIFO of text chunks. Once capacity is reached,
// the oldest chunk is evicted on each push.
type OutputBuffer struct {
	mu       sync.RWMutex
	capacity int
	entries  []string
}

// New creates an output buffer with the given capacity. A non-positive
// capacity falls back to DefaultCapacity.
func New(capacity int) *OutputBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &OutputBuffer{
		capacity: capacity,
		entries:  make([]string, 0, capacity),
	}
}

// Push appends a chunk, evicting the oldest entry if the buffer is full.
func (b *OutputBuffer) Push(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) >= b.capacity {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:len(b.entries)-1]
	}
	b.entries = append(b.entries, text)
}

// GetAll returns a snapshot copy of the buffered chunks in insertion order.
func (b *OutputBuffer) GetAll() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, len(b.entries))
	copy(out, b.entries)
	return out
}

// GetRecent returns a snapshot of the most recent n chunks. If n exceeds the
// buffered count, all chunks are returned.
func (b *OutputBuffer) GetRecent(n int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 {
		return []string{}
	}
	if n > len(b.entries) {
		n = len(b.entries)
	}
	out := make([]string, n)
	copy(out, b.entries[len(b.entries)-n:])
	return out
}

// Len returns the number of buffered chunks.
func (b *OutputBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Clear removes all buffered chunks.
func (b *OutputBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = b.entries[:0]
}
