package queue

import "sync"

// Queue is an unbounded FIFO. Push never blocks, so a slow consumer grows
// the backlog instead of stalling the producer.
//
// Consumers wait on Ready and then call Pop until it returns nothing.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	// One pending wakeup at most. Signalled whenever items are added, the
	// queue is closed, or Pop leaves items behind.
	ready chan struct{}
}

func New[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{}, 1)}
}

// Push appends v. It reports false if the queue was already closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	q.signal()
	return true
}

// Close marks the end of the stream. Items already queued are still
// delivered by Pop.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.signal()
}

func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Pop removes up to max items. ok is false once the queue is closed and
// fully drained.
func (q *Queue[T]) Pop(max int) (batch []T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, !q.closed
	}

	n := min(max, len(q.items))
	batch = make([]T, n)
	copy(batch, q.items[:n])

	var zero T
	for i := range n {
		q.items[i] = zero
	}
	q.items = q.items[n:]
	if len(q.items) == 0 {
		q.items = nil
	}

	if len(q.items) > 0 || q.closed {
		q.signal()
	}
	return batch, true
}

// Len is the current backlog.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
