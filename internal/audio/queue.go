package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrQueueStopped is returned by Dequeue once the queue has been stopped and
// fully drained, after the stop item has been delivered.
var ErrQueueStopped = errors.New("audio: transmission queue stopped")

// QueueItem is either a frame payload or the stop sentinel.
type QueueItem struct {
	Frame []byte
	Stop  bool
}

// TransmissionQueue is the bounded hand-off between the capture goroutine and
// the network sender. Enqueue never blocks: when the queue is full the frame
// is dropped. After Stop, queued frames are still delivered in order and then
// a single stop item ends the consumer loop.
type TransmissionQueue struct {
	items chan []byte

	mu       sync.Mutex
	stopped  bool
	stopCh   chan struct{}
	sentStop bool

	dropped atomic.Int64
}

func NewTransmissionQueue(capacity int) *TransmissionQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &TransmissionQueue{
		items:  make(chan []byte, capacity),
		stopCh: make(chan struct{}),
	}
}

// Enqueue offers frame to the queue. It returns false when the frame was
// dropped because the queue is full or already stopped.
func (q *TransmissionQueue) Enqueue(frame []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		q.dropped.Add(1)
		return false
	}
	select {
	case q.items <- frame:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Stop places the stop sentinel behind every frame already queued. Later
// Enqueue calls are rejected. Stop is idempotent and never blocks.
func (q *TransmissionQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return
	}
	q.stopped = true
	close(q.stopCh)
}

// Dequeue blocks until a frame is available, the queue is stopped and
// drained, or ctx is done. The stop item is returned exactly once; further
// calls return ErrQueueStopped.
func (q *TransmissionQueue) Dequeue(ctx context.Context) (QueueItem, error) {
	select {
	case frame := <-q.items:
		return QueueItem{Frame: frame}, nil
	default:
	}

	select {
	case frame := <-q.items:
		return QueueItem{Frame: frame}, nil
	case <-q.stopCh:
		// Nothing is enqueued after stop, so whatever is left is the tail.
		select {
		case frame := <-q.items:
			return QueueItem{Frame: frame}, nil
		default:
		}
		return q.stopItem()
	case <-ctx.Done():
		return QueueItem{}, ctx.Err()
	}
}

func (q *TransmissionQueue) stopItem() (QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sentStop {
		return QueueItem{}, ErrQueueStopped
	}
	q.sentStop = true
	return QueueItem{Stop: true}, nil
}

// Len returns the number of queued frames.
func (q *TransmissionQueue) Len() int {
	return len(q.items)
}

func (q *TransmissionQueue) Cap() int {
	return cap(q.items)
}

// Dropped returns how many frames were rejected so far.
func (q *TransmissionQueue) Dropped() int64 {
	return q.dropped.Load()
}

func (q *TransmissionQueue) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}
