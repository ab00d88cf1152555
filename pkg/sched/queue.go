package sched

import "sync"

// messageQueue is a bounded FIFO of pending messages. It is the only piece
// of engine state guarded by a lock: Publish may be called from a second
// goroutine (an I/O callback such as an MQTT receive handler), while the
// registries and counters remain single-owner.
type messageQueue struct {
	mu    sync.Mutex
	buf   []Message
	head  int
	count int
}

func newMessageQueue(capacity int) *messageQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &messageQueue{buf: make([]Message, capacity)}
}

// push appends a message, refusing when the queue is full. On refusal the
// caller retains ownership and may drop or retry.
func (q *messageQueue) push(m Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == len(q.buf) {
		return false
	}
	q.buf[(q.head+q.count)%len(q.buf)] = m
	q.count++
	return true
}

// pop removes and returns the oldest message.
func (q *messageQueue) pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return Message{}, false
	}
	m := q.buf[q.head]
	q.buf[q.head] = Message{}
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return m, true
}

func (q *messageQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}
