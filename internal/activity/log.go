package activity

// Log is a fixed-capacity buffer that keeps the most recent items.
// Pushing into a full log silently evicts the oldest item.
//
// Log is not safe for concurrent use; the owner serializes access.
type Log[T any] struct {
	buf  []T
	head int // index of the newest item
	size int
}

// NewLog creates a log holding at most capacity items. A non-positive
// capacity is treated as 1.
func NewLog[T any](capacity int) *Log[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Log[T]{buf: make([]T, capacity), head: -1}
}

// Push adds item as the newest entry.
func (l *Log[T]) Push(item T) {
	l.head = (l.head + 1) % len(l.buf)
	l.buf[l.head] = item
	if l.size < len(l.buf) {
		l.size++
	}
}

// Snapshot returns a newest-first copy of the log.
func (l *Log[T]) Snapshot() []T {
	out := make([]T, 0, l.size)
	for i := 0; i < l.size; i++ {
		idx := (l.head - i + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx])
	}
	return out
}

func (l *Log[T]) Len() int { return l.size }

func (l *Log[T]) Cap() int { return len(l.buf) }
