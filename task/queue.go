package task

import (
	"sync/atomic"
	"time"
)

// putPollInterval bounds how long a blocked Put goes without re-checking
// the cancellation flag.
const putPollInterval = 200 * time.Millisecond

// CancelFlag is a level-triggered cancellation signal shared by every stage
// of one task. Setting it is idempotent.
type CancelFlag struct {
	set atomic.Bool
}

// Set requests cancellation.
func (f *CancelFlag) Set() {
	f.set.Store(true)
}

// IsSet reports whether cancellation has been requested. Never blocks.
func (f *CancelFlag) IsSet() bool {
	return f.set.Load()
}

// Queue is a bounded FIFO hand-off between pipeline stages. Once a message
// is put, the producer must not touch it again.
type Queue struct {
	ch chan Message
}

// NewQueue creates a queue with the given fixed capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Queue{ch: make(chan Message, capacity)}
}

// Put blocks until the queue accepts the message, re-checking cancel on
// every poll tick. Returns false if cancellation was observed first; the
// message is dropped in that case.
func (q *Queue) Put(m Message, cancel *CancelFlag) bool {
	for {
		select {
		case q.ch <- m:
			return true
		case <-time.After(putPollInterval):
			if cancel != nil && cancel.IsSet() {
				return false
			}
		}
	}
}

// TryPut enqueues without blocking. Returns false when the queue is full.
func (q *Queue) TryPut(m Message) bool {
	select {
	case q.ch <- m:
		return true
	default:
		return false
	}
}

// Get waits up to timeout for the next message. ok is false on timeout.
func (q *Queue) Get(timeout time.Duration) (Message, bool) {
	select {
	case m := <-q.ch:
		return m, true
	case <-time.After(timeout):
		return Message{}, false
	}
}

// Len returns the number of buffered messages.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
