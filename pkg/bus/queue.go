package bus

import (
	"context"
	"sync"
)

// Queue holds undelivered outbound messages per recipient and hands messages
// directly to a waiting synchronous request when one is registered.
//
// The queue is the delivery path of last resort: the gateway offers every
// outbound message here first (to resolve held sync requests), then falls back
// to enqueueing only when no other transport is configured.
type Queue struct {
	mu      sync.Mutex
	pending map[string][]OutboundMessage
	waiters map[string][]chan OutboundMessage
}

func NewQueue() *Queue {
	return &Queue{
		pending: make(map[string][]OutboundMessage),
		waiters: make(map[string][]chan OutboundMessage),
	}
}

// Offer hands the message to the oldest waiter for the recipient, if any.
// Returns true when a waiter consumed the message.
func (q *Queue) Offer(recipient string, msg OutboundMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	waiters := q.waiters[recipient]
	if len(waiters) == 0 {
		return false
	}

	ch := waiters[0]
	if len(waiters) == 1 {
		delete(q.waiters, recipient)
	} else {
		q.waiters[recipient] = waiters[1:]
	}

	ch <- msg
	close(ch)
	return true
}

// Enqueue appends the message to the recipient's pending list for polling.
func (q *Queue) Enqueue(recipient string, msg OutboundMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending[recipient] = append(q.pending[recipient], msg)
}

// Drain returns and clears the recipient's pending messages.
func (q *Queue) Drain(recipient string) []OutboundMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.pending[recipient]
	delete(q.pending, recipient)
	if msgs == nil {
		msgs = []OutboundMessage{}
	}

	return msgs
}

// Register installs a waiter for the recipient before any work that could
// deliver to it starts, closing the register-then-dispatch race. The returned
// cancel must be called when the caller stops listening.
func (q *Queue) Register(recipient string) (<-chan OutboundMessage, func()) {
	ch := make(chan OutboundMessage, 1)

	q.mu.Lock()
	q.waiters[recipient] = append(q.waiters[recipient], ch)
	q.mu.Unlock()

	return ch, func() { q.removeWaiter(recipient, ch) }
}

// Wait blocks until a message is offered for the recipient or the context
// ends.
func (q *Queue) Wait(ctx context.Context, recipient string) (OutboundMessage, error) {
	ch, cancel := q.Register(recipient)
	defer cancel()

	select {
	case msg := <-ch:
		return msg, nil
	case <-ctx.Done():
		return OutboundMessage{}, ctx.Err()
	}
}

func (q *Queue) removeWaiter(recipient string, ch chan OutboundMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()

	waiters := q.waiters[recipient]
	for i, candidate := range waiters {
		if candidate == ch {
			q.waiters[recipient] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(q.waiters[recipient]) == 0 {
		delete(q.waiters, recipient)
	}
}
