package journal

import "sync"

// queue is an unbounded FIFO ring that doubles its capacity at 70% fill.
type queue[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   int
	tail   int
	count  int
	closed bool

	pushed  int64
	popped  int64
	resizes int
}

// QueueStats describes the pending transitions.
type QueueStats struct {
	Pending  int
	Capacity int
	Pushed   int64
	Popped   int64
	Resizes  int
}

func newQueue[T any](capacity int) *queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &queue[T]{buf: make([]T, capacity)}
}

// push appends item. It returns false once the queue is closed.
func (q *queue[T]) push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.count+1 >= max(len(q.buf)*70/100, 1) {
		q.grow()
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
	q.pushed++
	return true
}

// drain removes up to n items, all of them when n <= 0.
func (q *queue[T]) drain(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	if n <= 0 || n > q.count {
		n = q.count
	}

	out := make([]T, n)
	var zero T
	for i := range n {
		out[i] = q.buf[q.head]
		q.buf[q.head] = zero
		q.head = (q.head + 1) % len(q.buf)
	}
	q.count -= n
	q.popped += int64(n)
	return out
}

func (q *queue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *queue[T]) stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Pending:  q.count,
		Capacity: len(q.buf),
		Pushed:   q.pushed,
		Popped:   q.popped,
		Resizes:  q.resizes,
	}
}

// grow doubles the capacity. Must be called with the lock held.
func (q *queue[T]) grow() {
	next := make([]T, len(q.buf)*2)
	if q.count > 0 {
		if q.head < q.tail {
			copy(next, q.buf[q.head:q.tail])
		} else {
			n := copy(next, q.buf[q.head:])
			copy(next[n:], q.buf[:q.tail])
		}
	}
	q.buf = next
	q.head = 0
	q.tail = q.count
	q.resizes++
}
