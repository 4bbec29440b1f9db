package swarm

import "sync"

// Inbox is an unbounded FIFO queue of messages for one agent. Enqueue
// order from a single sender is preserved; nothing is guaranteed across
// senders.
type Inbox struct {
	agentID string
	pending []Message
	mu      sync.Mutex
}

func newInbox(agentID string) *Inbox {
	return &Inbox{agentID: agentID}
}

func (q *Inbox) Enqueue(msg Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, msg)
}

func (q *Inbox) Dequeue() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Message{}, false
	}

	msg := q.pending[0]
	q.pending = q.pending[1:]
	return msg, true
}

func (q *Inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
