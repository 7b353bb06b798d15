package client

import (
	"sync"

	"github.com/DoyleJ11/lockbreak/internal/protocol"
)

// Inbox holds received messages until the interactive loop asks for them.
// Taking a message by type leaves everything else queued in arrival order.
type Inbox struct {
	mu      sync.Mutex
	pending []protocol.Message
	notify  chan struct{}
}

func NewInbox() *Inbox {
	return &Inbox{notify: make(chan struct{}, 1)}
}

func (q *Inbox) Push(m protocol.Message) {
	q.mu.Lock()
	q.pending = append(q.pending, m)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Next removes and returns the oldest pending message of type t.
func (q *Inbox) Next(t protocol.Type) (protocol.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, m := range q.pending {
		if m.Kind() == t {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return m, true
		}
	}
	return nil, false
}

// Pop removes and returns the oldest pending message of any type.
func (q *Inbox) Pop() (protocol.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	m := q.pending[0]
	q.pending = q.pending[1:]
	return m, true
}

// Drain removes everything pending, oldest first.
func (q *Inbox) Drain() []protocol.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

func (q *Inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Ready is signalled after a push; it does not count messages.
func (q *Inbox) Ready() <-chan struct{} { return q.notify }
