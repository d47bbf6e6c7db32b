// Package scheduler runs the periodic maintenance tasks (batch discovery,
// crawl-all, verify-stale and rule cleanup) on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
	"github.com/JakeFAU/careers-crawler/internal/lifecycle"
)

// Task names accepted by Tasks.Run.
const (
	TaskDiscoverAll = "discover-all"
	TaskCrawlAll    = "crawl-all"
	TaskVerifyStale = "verify-stale"
	TaskCleanup     = "cleanup"
)

// ErrUnknownTask is returned by Run for unrecognized task names.
var ErrUnknownTask = errors.New("unknown task")

// Submitter enqueues runs.
type Submitter interface {
	Submit(ctx context.Context, req crawler.RunRequest) (crawler.QueueItem, error)
}

// Seed is a company discovered by the batch discovery task.
type Seed struct {
	Name   string
	Domain string
}

// Report summarizes one task execution.
type Report struct {
	Task    string `json:"task"`
	Queued  int    `json:"queued"`
	Failed  int    `json:"failed,omitempty"`
	Deleted int    `json:"deleted,omitempty"`
}

// Tasks holds the maintenance operations shared by the cron scheduler and the API.
type Tasks struct {
	repo      crawler.Repository
	submitter Submitter
	lifecycle *lifecycle.Manager
	seeds     []Seed
	logger    *zap.Logger
}

// NewTasks constructs Tasks.
func NewTasks(repo crawler.Repository, submitter Submitter, lc *lifecycle.Manager, seeds []Seed, logger *zap.Logger) *Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tasks{repo: repo, submitter: submitter, lifecycle: lc, seeds: seeds, logger: logger}
}

// Run executes the named task.
func (t *Tasks) Run(ctx context.Context, task string) (Report, error) {
	switch task {
	case TaskDiscoverAll:
		return t.DiscoverAll(ctx)
	case TaskCrawlAll:
		return t.CrawlAll(ctx)
	case TaskVerifyStale:
		return t.VerifyStale(ctx)
	case TaskCleanup:
		return t.Cleanup(ctx)
	default:
		return Report{Task: task}, fmt.Errorf("%w: %q", ErrUnknownTask, task)
	}
}

// DiscoverAll queues a discover run for every configured seed company.
func (t *Tasks) DiscoverAll(ctx context.Context) (Report, error) {
	reqs := make([]crawler.RunRequest, 0, len(t.seeds))
	for _, s := range t.seeds {
		reqs = append(reqs, crawler.RunRequest{CompanyName: s.Name, Domain: s.Domain, Mode: crawler.ModeDiscover})
	}
	return t.submitAll(ctx, TaskDiscoverAll, reqs)
}

// CrawlAll queues an extract run for every active company with a careers URL.
func (t *Tasks) CrawlAll(ctx context.Context) (Report, error) {
	companies, err := t.repo.ListActiveCompaniesWithCareersURL(ctx)
	if err != nil {
		return Report{Task: TaskCrawlAll}, fmt.Errorf("list companies: %w", err)
	}
	return t.submitAll(ctx, TaskCrawlAll, modeRequests(companies, crawler.ModeExtract))
}

// VerifyStale queues a verify run for the companies whose last crawl is
// missing or older than the staleness window.
func (t *Tasks) VerifyStale(ctx context.Context) (Report, error) {
	companies, err := t.lifecycle.StaleCompanies(ctx, t.repo)
	if err != nil {
		return Report{Task: TaskVerifyStale}, err
	}
	return t.submitAll(ctx, TaskVerifyStale, modeRequests(companies, crawler.ModeVerify))
}

// Cleanup deletes expired inactive rules in one transaction.
func (t *Tasks) Cleanup(ctx context.Context) (Report, error) {
	rep := Report{Task: TaskCleanup}
	err := t.repo.InTx(ctx, func(tx crawler.Repository) error {
		n, err := t.lifecycle.Cleanup(ctx, tx)
		rep.Deleted = n
		return err
	})
	if err != nil {
		rep.Deleted = 0
		return rep, fmt.Errorf("cleanup rules: %w", err)
	}
	return rep, nil
}

func (t *Tasks) submitAll(ctx context.Context, task string, reqs []crawler.RunRequest) (Report, error) {
	rep := Report{Task: task}
	var firstErr error
	for _, req := range reqs {
		if _, err := t.submitter.Submit(ctx, req); err != nil {
			rep.Failed++
			if firstErr == nil {
				firstErr = err
			}
			t.logger.Error("submit run failed",
				zap.String("task", task),
				zap.String("company_id", req.CompanyID),
				zap.String("company", req.CompanyName),
				zap.Error(err))
			continue
		}
		rep.Queued++
	}
	t.logger.Info("maintenance task queued runs",
		zap.String("task", task), zap.Int("queued", rep.Queued), zap.Int("failed", rep.Failed))
	if firstErr != nil && rep.Queued == 0 {
		return rep, fmt.Errorf("%s: %w", task, firstErr)
	}
	return rep, nil
}

func modeRequests(companies []crawler.Company, mode crawler.Mode) []crawler.RunRequest {
	out := make([]crawler.RunRequest, 0, len(companies))
	for _, c := range companies {
		out = append(out, crawler.RunRequest{CompanyID: c.ID, CompanyName: c.Name, Mode: mode})
	}
	return out
}
