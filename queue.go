package amb

import "sync"

// Queue is the FIFO of transactions waiting for the worker.
//
// A depth of zero leaves the queue unbounded; a positive depth makes Enqueue
// fail with StatusNoMemory once that many transactions are pending.
type Queue struct {
	mu     sync.Mutex
	items  []*Transaction
	depth  int
	ready  chan struct{}
	closed bool
}

// NewQueue returns an empty queue with the given depth limit.
func NewQueue(depth int) *Queue {
	if depth < 0 {
		depth = 0
	}
	return &Queue{
		depth: depth,
		ready: make(chan struct{}, 1),
	}
}

// Enqueue appends tx to the tail. After DrainAndFail it fails with
// StatusFlushed.
func (q *Queue) Enqueue(tx *Transaction) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return StatusFlushed
	}
	if q.depth > 0 && len(q.items) >= q.depth {
		q.mu.Unlock()
		return StatusNoMemory
	}
	q.items = append(q.items, tx)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue pops the head, or returns nil when the queue is empty. It never
// blocks.
func (q *Queue) Dequeue() *Transaction {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	tx := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return tx
}

// Ready receives a value after an Enqueue. A single value may stand for
// several transactions, so receivers dequeue until empty.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of pending transactions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DrainAndFail empties and closes the queue and completes every pending
// transaction with st. It returns the number of transactions released.
func (q *Queue) DrainAndFail(st Status) int {
	items := q.drain()
	for _, tx := range items {
		tx.complete(st, nil, nil)
	}
	return len(items)
}

func (q *Queue) drain() []*Transaction {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	q.closed = true
	return items
}
