// Package ringbuf provides a fixed-capacity rolling window backed by a
// preallocated circular buffer. Pushing into a full window overwrites the
// oldest element. Not safe for concurrent use.
package ringbuf

// Window keeps the last Cap() values pushed.
type Window[T any] struct {
	buf   []T
	head  int // next write position
	count int
}

// New creates a window holding up to capacity values. Minimum capacity is 1.
func New[T any](capacity int) *Window[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Window[T]{buf: make([]T, capacity)}
}

// Push appends v. When the window is full the oldest value is evicted and
// returned with evicted=true.
func (w *Window[T]) Push(v T) (old T, evicted bool) {
	if w.count == len(w.buf) {
		old, evicted = w.buf[w.head], true
	} else {
		w.count++
	}
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
	return old, evicted
}

// Len returns the number of values held.
func (w *Window[T]) Len() int { return w.count }

// Cap returns the window capacity.
func (w *Window[T]) Cap() int { return len(w.buf) }

// Full reports whether Len() == Cap().
func (w *Window[T]) Full() bool { return w.count == len(w.buf) }

// At returns the i-th value, oldest first.
func (w *Window[T]) At(i int) T {
	start := w.head - w.count
	if start < 0 {
		start += len(w.buf)
	}
	return w.buf[(start+i)%len(w.buf)]
}

// Newest returns the most recently pushed value.
func (w *Window[T]) Newest() (T, bool) {
	var zero T
	if w.count == 0 {
		return zero, false
	}
	return w.buf[(w.head-1+len(w.buf))%len(w.buf)], true
}

// AppendTo appends the values to dst, oldest first.
func (w *Window[T]) AppendTo(dst []T) []T {
	for i := 0; i < w.count; i++ {
		dst = append(dst, w.At(i))
	}
	return dst
}

// Reset empties the window without releasing its buffer.
func (w *Window[T]) Reset() {
	var zero T
	for i := range w.buf {
		w.buf[i] = zero
	}
	w.head = 0
	w.count = 0
}
