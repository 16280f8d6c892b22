package errlog

// ring is a fixed-capacity circular buffer. When full, a push overwrites the
// oldest element. It is not safe for concurrent use; Logger guards it.
type ring[T any] struct {
	buffer   []T
	size     int
	writePos int
	full     bool
}

func newRing[T any](size int) *ring[T] {
	if size < 1 {
		size = 1
	}
	return &ring[T]{
		buffer: make([]T, size),
		size:   size,
	}
}

func (r *ring[T]) push(v T) {
	r.buffer[r.writePos] = v
	r.writePos = (r.writePos + 1) % r.size
	if r.writePos == 0 {
		r.full = true
	}
}

// items returns a copy of the contents, oldest first.
func (r *ring[T]) items() []T {
	if !r.full {
		out := make([]T, r.writePos)
		copy(out, r.buffer[:r.writePos])
		return out
	}

	out := make([]T, 0, r.size)
	out = append(out, r.buffer[r.writePos:]...)
	out = append(out, r.buffer[:r.writePos]...)
	return out
}

func (r *ring[T]) len() int {
	if r.full {
		return r.size
	}
	return r.writePos
}

func (r *ring[T]) reset() {
	var zero T
	for i := range r.buffer {
		r.buffer[i] = zero
	}
	r.writePos = 0
	r.full = false
}
