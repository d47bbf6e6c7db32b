// Package worker implements the queue consumption loop that executes runs.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
	"github.com/JakeFAU/careers-crawler/internal/logging"
	"github.com/JakeFAU/careers-crawler/internal/metrics"
)

// Executor runs one unit of work.
type Executor interface {
	Execute(ctx context.Context, runID string, req crawler.RunRequest) (crawler.RunResult, error)
}

// Config controls Worker behavior.
type Config struct {
	// MaxRetries is how many times a failed unit is re-enqueued.
	MaxRetries int
	// RunTimeout bounds a single unit. Zero means no limit.
	RunTimeout time.Duration
	// DequeueBackoff is the first pause after a failed dequeue. It doubles on
	// each consecutive failure up to maxDequeueBackoff.
	DequeueBackoff time.Duration
}

const (
	defaultDequeueBackoff = 500 * time.Millisecond
	maxDequeueBackoff     = 30 * time.Second
)

// Worker consumes queue items and executes them.
type Worker struct {
	id       int
	queue    crawler.Queue
	executor Executor
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(id int, queue crawler.Queue, executor Executor, cfg Config, logger *zap.Logger) *Worker {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.DequeueBackoff <= 0 {
		cfg.DequeueBackoff = defaultDequeueBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:       id,
		queue:    queue,
		executor: executor,
		cfg:      cfg,
		logger:   logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// closes. A unit already started runs to completion after ctx is canceled.
// Dequeue failures (a broker outage) back off before the next attempt.
func (w *Worker) Run(ctx context.Context) {
	backoff := time.Duration(0)
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			backoff = nextBackoff(backoff, w.cfg.DequeueBackoff)
			w.logger.Error("queue dequeue failed", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0
		w.process(ctx, item)
	}
}

func nextBackoff(cur, base time.Duration) time.Duration {
	if cur <= 0 {
		return base
	}
	cur *= 2
	if cur > maxDequeueBackoff {
		return maxDequeueBackoff
	}
	return cur
}

func (w *Worker) process(ctx context.Context, item crawler.QueueItem) {
	logger := logging.ForRun(w.logger, item)
	logger.Debug("dequeued run")

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	runCtx := context.WithoutCancel(ctx)
	if w.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, w.cfg.RunTimeout)
		defer cancel()
	}

	res, err := w.executor.Execute(runCtx, item.ID, item.Request)
	if err == nil {
		logger.Debug("run finished", zap.String("crawl_log_id", res.LogID))
		return
	}
	if errors.Is(err, crawler.ErrPermanent) {
		logger.Error("run failed permanently, not retried", zap.Error(err))
		return
	}
	if item.Attempt >= w.cfg.MaxRetries {
		logger.Error("run failed, giving up", zap.Error(err))
		return
	}
	if ctx.Err() != nil {
		logger.Warn("run failed during shutdown, not retried", zap.Error(err))
		return
	}
	retry := item
	retry.Attempt++
	if qErr := w.queue.Enqueue(ctx, retry); qErr != nil {
		logger.Error("re-enqueue failed", zap.Error(qErr), zap.NamedError("run_error", err))
		return
	}
	logger.Warn("run failed, re-enqueued", zap.Int("next_attempt", retry.Attempt), zap.Error(err))
}
