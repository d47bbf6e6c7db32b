package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
)

func TestWorker_ExecutesQueuedRuns(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{items: []crawler.QueueItem{
		{ID: "run-1", Request: crawler.RunRequest{CompanyID: "c-1", Mode: crawler.ModeExtract}},
		{ID: "run-2", Request: crawler.RunRequest{CompanyName: "Acme", Mode: crawler.ModeDiscover}},
	}}
	exec := &fakeExecutor{}
	w := New(1, queue, exec, Config{MaxRetries: 3}, zap.NewNop())

	go w.Run(ctx)

	require.Eventually(t, func() bool { return len(exec.calls()) == 2 }, time.Second, 10*time.Millisecond)
	calls := exec.calls()
	assert.Equal(t, "run-1", calls[0].runID)
	assert.Equal(t, crawler.ModeDiscover, calls[1].req.Mode)
	assert.Empty(t, queue.pending())
}

func TestWorker_RetriesUpToMaxRetries(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{items: []crawler.QueueItem{
		{ID: "run-retry", Request: crawler.RunRequest{CompanyID: "c-1", Mode: crawler.ModeVerify}},
	}}
	exec := &fakeExecutor{err: errors.New("database unavailable")}
	w := New(1, queue, exec, Config{MaxRetries: 2}, zap.NewNop())

	go w.Run(ctx)

	require.Eventually(t, func() bool { return len(exec.calls()) == 3 }, time.Second, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	calls := exec.calls()
	require.Len(t, calls, 3)
	for _, c := range calls {
		assert.Equal(t, "run-retry", c.runID)
	}
	retried := queue.enqueuedAttempts()
	assert.Equal(t, []int{1, 2}, retried)
	assert.Empty(t, queue.pending())
}

func TestWorker_SucceedsAfterTransientFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{items: []crawler.QueueItem{{ID: "run-1", Request: crawler.RunRequest{CompanyID: "c", Mode: crawler.ModeExtract}}}}
	exec := &fakeExecutor{failures: 1, err: errors.New("transient error")}
	w := New(1, queue, exec, Config{MaxRetries: 3}, zap.NewNop())

	go w.Run(ctx)

	require.Eventually(t, func() bool { return len(exec.calls()) == 2 }, time.Second, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, exec.calls(), 2)
}

func TestWorker_DoesNotRetryPermanentFailures(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{items: []crawler.QueueItem{{ID: "run-1", Request: crawler.RunRequest{CompanyID: "gone", Mode: crawler.ModeVerify}}}}
	exec := &fakeExecutor{err: crawler.Permanent(fmt.Errorf("load company gone: %w", crawler.ErrNotFound))}
	w := New(1, queue, exec, Config{MaxRetries: 3}, zap.NewNop())

	go w.Run(ctx)

	require.Eventually(t, func() bool { return len(exec.calls()) == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, exec.calls(), 1)
	assert.Empty(t, queue.enqueuedAttempts())
}

func TestWorker_RetriesWrappedTransientFailures(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{items: []crawler.QueueItem{{ID: "run-1", Request: crawler.RunRequest{CompanyID: "c", Mode: crawler.ModeVerify}}}}
	exec := &fakeExecutor{failures: 1, err: fmt.Errorf("commit: %w", context.DeadlineExceeded)}
	w := New(1, queue, exec, Config{MaxRetries: 3}, zap.NewNop())

	go w.Run(ctx)

	require.Eventually(t, func() bool { return len(exec.calls()) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{1}, queue.enqueuedAttempts())
}

func TestWorker_BacksOffOnDequeueErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	queue := &brokenQueue{}
	w := New(1, queue, &fakeExecutor{}, Config{DequeueBackoff: 40 * time.Millisecond}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop while backing off")
	}
	// 40ms then 80ms: at most three dequeues fit in 100ms.
	assert.LessOrEqual(t, queue.count(), 3)
	assert.GreaterOrEqual(t, queue.count(), 1)
}

func TestNextBackoff(t *testing.T) {
	t.Parallel()

	base := 500 * time.Millisecond
	assert.Equal(t, base, nextBackoff(0, base))
	assert.Equal(t, time.Second, nextBackoff(base, base))
	assert.Equal(t, maxDequeueBackoff, nextBackoff(20*time.Second, base))
	assert.Equal(t, maxDequeueBackoff, nextBackoff(maxDequeueBackoff, base))
}

func TestWorker_StopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	w := New(1, closedQueue{}, &fakeExecutor{}, Config{}, nil)
	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on closed queue")
	}
}

func TestWorker_RunOutlivesCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	queue := &fakeQueue{items: []crawler.QueueItem{{ID: "run-1", Request: crawler.RunRequest{CompanyID: "c", Mode: crawler.ModeExtract}}}}
	started := make(chan struct{})
	exec := &fakeExecutor{block: started, release: make(chan struct{})}
	w := New(1, queue, exec, Config{}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	<-started
	cancel()
	close(exec.release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	calls := exec.calls()
	require.Len(t, calls, 1)
	assert.NoError(t, calls[0].ctxErr, "in-flight run must keep a live context")
}

type execCall struct {
	runID  string
	req    crawler.RunRequest
	ctxErr error
}

type fakeExecutor struct {
	mu       sync.Mutex
	log      []execCall
	err      error
	failures int
	block    chan struct{}
	release  chan struct{}
}

func (e *fakeExecutor) Execute(ctx context.Context, runID string, req crawler.RunRequest) (crawler.RunResult, error) {
	if e.block != nil {
		close(e.block)
		<-e.release
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, execCall{runID: runID, req: req, ctxErr: ctx.Err()})
	if e.err != nil && (e.failures == 0 || len(e.log) <= e.failures) {
		return crawler.RunResult{}, e.err
	}
	return crawler.RunResult{CompanyID: req.CompanyID, LogID: "log-" + runID}, nil
}

func (e *fakeExecutor) calls() []execCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]execCall, len(e.log))
	copy(out, e.log)
	return out
}

type fakeQueue struct {
	mu       sync.Mutex
	items    []crawler.QueueItem
	enqueued []crawler.QueueItem
}

func (q *fakeQueue) Enqueue(_ context.Context, item crawler.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	q.enqueued = append(q.enqueued, item)
	return nil
}

func (q *fakeQueue) enqueuedAttempts() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]int, 0, len(q.enqueued))
	for _, item := range q.enqueued {
		out = append(out, item.Attempt)
	}
	return out
}

func (q *fakeQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return crawler.QueueItem{}, fmt.Errorf("queue dequeue context done: %w", ctx.Err())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func (q *fakeQueue) pending() []crawler.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]crawler.QueueItem(nil), q.items...)
}

type closedQueue struct{}

func (closedQueue) Enqueue(context.Context, crawler.QueueItem) error { return crawler.ErrQueueClosed }

func (closedQueue) Dequeue(context.Context) (crawler.QueueItem, error) {
	return crawler.QueueItem{}, crawler.ErrQueueClosed
}

// brokenQueue fails every dequeue the way an unreachable broker does.
type brokenQueue struct {
	mu    sync.Mutex
	calls int
}

func (q *brokenQueue) Enqueue(context.Context, crawler.QueueItem) error { return nil }

func (q *brokenQueue) Dequeue(context.Context) (crawler.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	return crawler.QueueItem{}, errors.New("dial tcp 127.0.0.1:6379: connection refused")
}

func (q *brokenQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}
