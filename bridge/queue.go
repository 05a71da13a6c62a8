package bridge

import "sync"

// queue is an unbounded, thread-safe FIFO.
//
// Producers are the IO worker (event frames) and GC cleanup callbacks
// (release notifications); neither may block, so the queue never applies
// backpressure. A single consumer goroutine drains it with Dequeue.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{} // buffered, size 1; closed on Close
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{
		items:  make([]T, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an item to the back of the queue.
// Returns false if the queue is closed.
func (q *queue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, item)

	// Non-blocking: the size-1 buffer coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Dequeue removes and returns the front item, blocking until one is
// available. After Close it keeps returning queued items and reports false
// once the queue is drained.
func (q *queue[T]) Dequeue() (T, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			var zero T
			q.items[0] = zero // release the reference for GC
			if len(q.items) == 1 {
				q.items = q.items[:0]
			} else {
				q.items = q.items[1:]
			}
			q.mu.Unlock()
			return item, true
		}
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero, false
		}
		q.mu.Unlock()

		<-q.signal
	}
}

// Len returns the current queue length.
func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting items and wakes the consumer.
func (q *queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
