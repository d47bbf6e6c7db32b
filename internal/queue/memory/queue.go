// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan crawler.QueueItem
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan crawler.QueueItem, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes an item into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	select {
	case <-q.done:
		return crawler.ErrQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return crawler.ErrQueueClosed
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item, respecting context cancellation. Items already
// buffered when Close is called are still handed out.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case item := <-q.ch:
		return item, nil
	default:
	}
	select {
	case <-ctx.Done():
		return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item := <-q.ch:
		return item, nil
	case <-q.done:
		select {
		case item := <-q.ch:
			return item, nil
		default:
			return crawler.QueueItem{}, crawler.ErrQueueClosed
		}
	}
}

// Len reports how many items are buffered.
func (q *Queue) Len() int { return len(q.ch) }

// Close stops the queue. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.done)
	q.closed = true
}
