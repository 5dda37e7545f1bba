package protocol

import (
	"context"
	"errors"
	"sync"

	"github.com/josephquek/janusgo/pkg/models"
)

// ErrQueueClosed is returned by Pop once a drained queue has been closed.
var ErrQueueClosed = errors.New("event queue closed")

// EventQueue is an unbounded FIFO of inbound event frames. Push never
// blocks, so a slow or absent consumer cannot stall the dispatch path.
// Relative arrival order is preserved. Items pushed before Close remain
// readable until drained.
type EventQueue struct {
	mu     sync.Mutex
	items  []*models.Message
	closed bool
	err    error

	ready chan struct{}
	done  chan struct{}
}

func NewEventQueue() *EventQueue {
	return &EventQueue{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends an event. Returns false after Close.
func (q *EventQueue) Push(msg *models.Message) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// PushFront returns an already-popped event to the head of the queue,
// keeping order for the next consumer. Returns false after Close.
func (q *EventQueue) PushFront(msg *models.Message) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append([]*models.Message{msg}, q.items...)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Pop removes and returns the oldest pending event, blocking until one is
// available, the queue is closed and drained, or ctx expires.
func (q *EventQueue) Pop(ctx context.Context) (*models.Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, nil
		}
		if q.closed {
			err := q.err
			q.mu.Unlock()
			return nil, err
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close marks the queue closed. Consumers drain remaining items, then
// receive err (ErrQueueClosed when err is nil).
func (q *EventQueue) Close(err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	if err == nil {
		err = ErrQueueClosed
	}
	q.err = err
	q.mu.Unlock()

	close(q.done)
}

// Len returns the number of undelivered events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
