package realtime

import "sync"

// outQueue is the bounded per-connection outbound buffer. On overflow the
// oldest control frame (presence updates, pongs) is dropped first; if the
// queue is all chat messages the push fails with ErrBackpressure and the
// session closes rather than grow without bound.
type outQueue struct {
	mu     sync.Mutex
	items  []outboundFrame
	max    int
	notify chan struct{}
	closed bool
}

func newOutQueue(max int) *outQueue {
	if max <= 0 {
		max = 256
	}
	return &outQueue{
		max:    max,
		notify: make(chan struct{}, 1),
	}
}

func (q *outQueue) push(f outboundFrame) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClientDisconnected
	}
	if len(q.items) >= q.max {
		if !q.dropOldestControlLocked() {
			return ErrBackpressure
		}
	}
	q.items = append(q.items, f)
	q.signalLocked()
	return nil
}

func (q *outQueue) dropOldestControlLocked() bool {
	for i, it := range q.items {
		if it.class == classControl {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

func (q *outQueue) signalLocked() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// drain returns all queued frames in FIFO order and whether the queue is
// still open. The caller owns the returned slice.
func (q *outQueue) drain() ([]outboundFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items, !q.closed
}

func (q *outQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	q.signalLocked()
}

func (q *outQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
