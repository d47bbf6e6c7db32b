package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Config holds the cron specs (standard five-field). An empty spec disables that task.
type Config struct {
	Discover string
	CrawlAll string
	Verify   string
	Cleanup  string
}

// Scheduler wraps robfig/cron and triggers Tasks.
type Scheduler struct {
	cron   *cron.Cron
	tasks  *Tasks
	cfg    Config
	logger *zap.Logger
}

// New creates a Scheduler. Overlapping executions of one task are skipped.
func New(cfg Config, tasks *Tasks, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		tasks:  tasks,
		cfg:    cfg,
		logger: logger,
	}
}

// Start registers every configured task and starts the cron loop. ctx is
// passed to each task execution.
func (s *Scheduler) Start(ctx context.Context) error {
	entries := []struct {
		task string
		spec string
	}{
		{TaskDiscoverAll, s.cfg.Discover},
		{TaskCrawlAll, s.cfg.CrawlAll},
		{TaskVerifyStale, s.cfg.Verify},
		{TaskCleanup, s.cfg.Cleanup},
	}
	for _, e := range entries {
		if e.spec == "" {
			continue
		}
		task := e.task
		if _, err := s.cron.AddFunc(e.spec, func() { s.trigger(ctx, task) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", task, e.spec, err)
		}
		s.logger.Info("task scheduled", zap.String("task", task), zap.String("spec", e.spec))
	}
	s.cron.Start()
	return nil
}

// Entries reports how many tasks are registered.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

// Stop halts the scheduler. The returned context is done once running tasks finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) trigger(ctx context.Context, task string) {
	rep, err := s.tasks.Run(ctx, task)
	if err != nil {
		s.logger.Error("scheduled task failed", zap.String("task", task), zap.Error(err))
		return
	}
	s.logger.Info("scheduled task done",
		zap.String("task", task),
		zap.Int("queued", rep.Queued),
		zap.Int("deleted", rep.Deleted))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
