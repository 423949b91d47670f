package playback

import (
	"errors"
	"sync"

	"github.com/zsiec/cadence/media"
)

// ErrQueueClosed is returned by Push once the queue has been shut down,
// instead of blocking a producer forever.
var ErrQueueClosed = errors.New("playback: frame queue closed")

// FrameQueue is the bounded FIFO crossing the thread boundary between the
// decode worker (producer) and the presentation loop (consumer). Push blocks
// while the queue is full, which is the pipeline's only backpressure
// mechanism; Poll never blocks and is called only from the owning goroutine.
//
// A condition variable rather than a channel: Clear must atomically drain
// the queue and release a producer blocked mid-Push, which a raw channel
// cannot express.
type FrameQueue struct {
	mu      sync.Mutex
	notFull *sync.Cond
	items   []media.QueueItem
	cap     int
	closed  bool
}

// NewFrameQueue creates a queue holding at most capacity items.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 1 {
		capacity = 1
	}
	q := &FrameQueue{cap: capacity}
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push appends an item, blocking the caller until a slot frees.
func (q *FrameQueue) Push(item media.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) >= q.cap && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, item)
	return nil
}

// Poll removes and returns the oldest item without blocking. The second
// return value is false when the queue is empty.
func (q *FrameQueue) Poll() (media.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return media.QueueItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	q.notFull.Signal()
	return item, true
}

// Len returns the number of queued items.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drains all items, releasing any producer blocked in Push. Used on
// seek and stop to discard stale frames.
func (q *FrameQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
	q.notFull.Broadcast()
}

// Close shuts the queue down; subsequent and blocked Push calls return
// ErrQueueClosed. Queued items remain pollable.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notFull.Broadcast()
}
