// Package dispatcher manages worker fan-out over the run queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
	"github.com/JakeFAU/careers-crawler/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers and accepts new runs.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
	ids     crawler.IDGenerator
	clock   crawler.Clock
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []*worker.Worker, ids crawler.IDGenerator, clock crawler.Clock) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		ids:     ids,
		clock:   clock,
	}
}

// Run starts all workers and blocks until the context finishes and every
// in-flight run has completed.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit validates req and enqueues it as a fresh first attempt.
func (d *Dispatcher) Submit(ctx context.Context, req crawler.RunRequest) (crawler.QueueItem, error) {
	if err := req.Validate(); err != nil {
		return crawler.QueueItem{}, fmt.Errorf("invalid run request: %w", err)
	}
	id, err := d.ids.NewID()
	if err != nil {
		return crawler.QueueItem{}, fmt.Errorf("generate run id: %w", err)
	}
	item := crawler.QueueItem{
		ID:        id,
		Request:   req,
		Submitted: d.clock.Now().Unix(),
	}
	if err := d.Enqueue(ctx, item); err != nil {
		return crawler.QueueItem{}, err
	}
	return item, nil
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
