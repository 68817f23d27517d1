// Package ringbuf provides a fixed-capacity FIFO window that evicts the
// oldest item when a new one is appended to a full buffer.
package ringbuf

// Bounded is a fixed-capacity ring buffer.
//
// Not safe for concurrent use.
type Bounded[T any] struct {
	buf   []T
	start int // index of the oldest item
	count int
}

// New creates a buffer holding at most capacity items (minimum 1)
func New[T any](capacity int) *Bounded[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bounded[T]{buf: make([]T, capacity)}
}

// Append adds item at the tail, evicting the oldest item if the buffer is full
func (b *Bounded[T]) Append(item T) {
	if b.count < len(b.buf) {
		b.buf[(b.start+b.count)%len(b.buf)] = item
		b.count++
		return
	}
	b.buf[b.start] = item
	b.start = (b.start + 1) % len(b.buf)
}

// Clear removes all items
func (b *Bounded[T]) Clear() {
	var zero T
	for i := range b.buf {
		b.buf[i] = zero
	}
	b.start = 0
	b.count = 0
}

// Len returns the number of buffered items
func (b *Bounded[T]) Len() int { return b.count }

// Cap returns the buffer capacity
func (b *Bounded[T]) Cap() int { return len(b.buf) }

// Full reports whether the next Append will evict an item
func (b *Bounded[T]) Full() bool { return b.count == len(b.buf) }

// At returns the i-th item, 0 being the oldest. It panics when i is out of range,
// like a slice index would.
func (b *Bounded[T]) At(i int) T {
	if i < 0 || i >= b.count {
		panic("ringbuf: index out of range")
	}
	return b.buf[(b.start+i)%len(b.buf)]
}

// Values returns a copy of the buffered items ordered oldest to newest
func (b *Bounded[T]) Values() []T {
	out := make([]T, b.count)
	for i := range out {
		out[i] = b.buf[(b.start+i)%len(b.buf)]
	}
	return out
}
