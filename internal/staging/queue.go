package staging

import "sync"

// batchQueue is a FIFO of metadata batches between the control loop and
// the flusher.
//
// It is unbounded so that handing off a batch never blocks the control
// loop. Batches hold rows only (payload bytes travel through the bounded
// payload queue), so growth is a few kilobytes per batch even when the
// disk is slow.
//
// The signal channel enables select-based waiting in the flusher.
type batchQueue struct {
	mu      sync.Mutex
	batches [][]*pendingRow
	closed  bool
	signal  chan struct{} // buffered, size 1
}

func newBatchQueue() *batchQueue {
	return &batchQueue{
		batches: make([][]*pendingRow, 0, 8),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds a batch. Returns false if the queue is closed.
func (q *batchQueue) Enqueue(b []*pendingRow) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.batches = append(q.batches, b)

	// Non-blocking: the size-1 buffer coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the oldest batch without blocking.
func (q *batchQueue) TryDequeue() ([]*pendingRow, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.batches) == 0 {
		return nil, false
	}
	b := q.batches[0]
	q.batches[0] = nil
	if len(q.batches) == 1 {
		q.batches = q.batches[:0]
	} else {
		q.batches = q.batches[1:]
	}
	return b, true
}

// Wait returns a channel that signals when batches may be available. It
// is closed once the queue is closed.
func (q *batchQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued batches.
func (q *batchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.batches)
}

// Close stops intake and wakes the flusher.
func (q *batchQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
