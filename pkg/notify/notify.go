// Package notify carries human-readable error messages from the vault core
// to the presentation layer.
//
// Producers Push from any goroutine; the presentation layer Pops messages
// oldest first whenever it is ready to show them. Messages never contain
// secret material.
package notify

import "sync"

// Queue is a FIFO of notification messages. The zero value is ready to use.
type Queue struct {
	mu    sync.Mutex
	items []string
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends msg to the tail.
func (q *Queue) Push(msg string) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()
}

// Pop removes and returns the oldest message. ok is false when the queue is
// empty.
func (q *Queue) Pop() (msg string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	msg = q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return msg, true
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns every queued message, oldest first.
func (q *Queue) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
