package msgmgr

import (
	"container/heap"
	"sync"
)

// defaultQueueDepth is the high-water mark applied when a mailbox config
// leaves it unset.
const defaultQueueDepth = 1024

// queueItem pairs a message with its arrival sequence so equal-priority
// messages dequeue in post order.
type queueItem struct {
	msg Message
	seq uint64
}

type itemHeap []queueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	pi, pj := h[i].msg.Priority(), h[j].msg.Priority()
	if pi != pj {
		return pi > pj
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(queueItem)) }

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = queueItem{}
	*h = old[:n-1]
	return item
}

// messageQueue is the priority-ordered mailbox queue. Enqueue never
// blocks: past the high-water mark it fails with ErrQueueFull. Dequeue
// blocks while the queue is empty and returns nil once the queue is
// closed and drained of nothing (close wakes all waiters immediately).
type messageQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  itemHeap
	seq    uint64
	limit  int
	closed bool
}

func newMessageQueue(limit int) *messageQueue {
	if limit <= 0 {
		limit = defaultQueueDepth
	}
	q := &messageQueue{limit: limit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *messageQueue) enqueue(msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrInactiveMailbox
	}
	if len(q.items) >= q.limit {
		return ErrQueueFull
	}
	q.seq++
	heap.Push(&q.items, queueItem{msg: msg, seq: q.seq})
	q.cond.Signal()
	return nil
}

// dequeue blocks until a message is available or the queue is closed.
// A nil return means the queue was closed.
func (q *messageQueue) dequeue() Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil
	}
	item := heap.Pop(&q.items).(queueItem)
	return item.msg
}

// tryDequeue returns the head without blocking.
func (q *messageQueue) tryDequeue() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.items) == 0 {
		return nil, false
	}
	item := heap.Pop(&q.items).(queueItem)
	return item.msg, true
}

func (q *messageQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// closedOnce reports whether the queue has been closed.
func (q *messageQueue) closedOnce() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// close discards pending messages and wakes every blocked dequeuer.
func (q *messageQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
	q.cond.Broadcast()
}
