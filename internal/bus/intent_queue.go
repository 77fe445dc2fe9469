package bus

import (
	"errors"
	"sync"

	"main/internal/schema"
)

var ErrQueueClosed = errors.New("intent queue closed")

// IntentQueue is an unbounded FIFO buffer of pending order intents. The
// evaluator appends, the execution scheduler drains fixed-size batches from
// the front. Arrival order is never changed and every intent is yielded at
// most once.
type IntentQueue struct {
	mu     sync.Mutex
	items  []schema.OrderIntent
	closed bool
}

// NewIntentQueue allocates an empty queue.
func NewIntentQueue() *IntentQueue {
	return &IntentQueue{}
}

// Push appends an intent to the back of the queue.
func (q *IntentQueue) Push(intent schema.OrderIntent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, intent)
	return nil
}

// DrainBatch removes and returns up to n intents from the front. The
// remainder stays queued for the next tick.
func (q *IntentQueue) DrainBatch(n int) []schema.OrderIntent {
	if n <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := make([]schema.OrderIntent, n)
	copy(batch, q.items[:n])
	remaining := make([]schema.OrderIntent, len(q.items)-n)
	copy(remaining, q.items[n:])
	q.items = remaining
	return batch
}

// Len returns the number of queued intents.
func (q *IntentQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue from accepting new intents. Queued intents may still
// be drained.
func (q *IntentQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
