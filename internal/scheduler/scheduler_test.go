package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/careers-crawler/internal/clock/system"
	"github.com/JakeFAU/careers-crawler/internal/crawler"
	"github.com/JakeFAU/careers-crawler/internal/id/uuid"
	"github.com/JakeFAU/careers-crawler/internal/lifecycle"
	"github.com/JakeFAU/careers-crawler/internal/storage/memory"
)

var now = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

type recordingSubmitter struct {
	mu   sync.Mutex
	reqs []crawler.RunRequest
	err  error
}

func (s *recordingSubmitter) Submit(_ context.Context, req crawler.RunRequest) (crawler.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return crawler.QueueItem{}, s.err
	}
	s.reqs = append(s.reqs, req)
	return crawler.QueueItem{ID: "run", Request: req}, nil
}

func (s *recordingSubmitter) requests() []crawler.RunRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crawler.RunRequest(nil), s.reqs...)
}

func newTasks(t *testing.T, seeds []Seed) (*Tasks, *memory.Repository, *recordingSubmitter) {
	t.Helper()
	clock := system.NewManual(now)
	repo := memory.NewRepository(uuid.NewUUIDGenerator(), clock)
	sub := &recordingSubmitter{}
	lc := lifecycle.New(lifecycle.Config{StaleAfter: 7 * 24 * time.Hour, Retention: 90 * 24 * time.Hour, VerifyBatch: 10}, clock, zap.NewNop())
	return NewTasks(repo, sub, lc, seeds, zap.NewNop()), repo, sub
}

func addCompany(t *testing.T, repo *memory.Repository, name, careersURL string, lastCrawled *time.Time) crawler.Company {
	t.Helper()
	ctx := context.Background()
	c, err := repo.GetOrCreateCompany(ctx, name, "")
	require.NoError(t, err)
	upd := crawler.CompanyUpdate{LastCrawled: lastCrawled}
	if careersURL != "" {
		upd.CareersURL = &careersURL
	}
	require.NoError(t, repo.UpdateCompany(ctx, c.ID, upd))
	return c
}

func TestDiscoverAllQueuesSeeds(t *testing.T) {
	t.Parallel()

	tasks, _, sub := newTasks(t, []Seed{{Name: "Acme", Domain: "acme.com"}, {Name: "Globex"}})
	rep, err := tasks.Run(context.Background(), TaskDiscoverAll)
	require.NoError(t, err)
	assert.Equal(t, Report{Task: TaskDiscoverAll, Queued: 2}, rep)

	reqs := sub.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, crawler.RunRequest{CompanyName: "Acme", Domain: "acme.com", Mode: crawler.ModeDiscover}, reqs[0])
	assert.Equal(t, "Globex", reqs[1].CompanyName)
}

func TestCrawlAllQueuesCompaniesWithCareersURL(t *testing.T) {
	t.Parallel()

	tasks, repo, sub := newTasks(t, nil)
	a := addCompany(t, repo, "Acme", "https://acme.com/careers", nil)
	addCompany(t, repo, "NoSite", "", nil)
	b := addCompany(t, repo, "Globex", "https://globex.com/jobs", nil)

	rep, err := tasks.CrawlAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Queued)

	ids := map[string]crawler.Mode{}
	for _, r := range sub.requests() {
		ids[r.CompanyID] = r.Mode
	}
	assert.Equal(t, map[string]crawler.Mode{a.ID: crawler.ModeExtract, b.ID: crawler.ModeExtract}, ids)
}

func TestVerifyStaleSkipsFreshCompanies(t *testing.T) {
	t.Parallel()

	tasks, repo, sub := newTasks(t, nil)
	old := now.Add(-10 * 24 * time.Hour)
	fresh := now.Add(-24 * time.Hour)
	never := addCompany(t, repo, "Never", "https://never.com/careers", nil)
	stale := addCompany(t, repo, "Stale", "https://stale.com/careers", &old)
	addCompany(t, repo, "Fresh", "https://fresh.com/careers", &fresh)

	rep, err := tasks.VerifyStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Queued)

	reqs := sub.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, never.ID, reqs[0].CompanyID)
	assert.Equal(t, stale.ID, reqs[1].CompanyID)
	assert.Equal(t, crawler.ModeVerify, reqs[0].Mode)
}

func TestCleanupDeletesOnlyExpiredInactiveRules(t *testing.T) {
	t.Parallel()

	tasks, repo, _ := newTasks(t, nil)
	ctx := context.Background()
	c := addCompany(t, repo, "Acme", "https://acme.com/careers", nil)
	ancient := now.Add(-100 * 24 * time.Hour)
	recent := now.Add(-10 * 24 * time.Hour)
	for _, r := range []crawler.ExtractionRule{
		{ID: "expired", CompanyID: c.ID, Type: crawler.RuleTypeJobList, LastVerified: &ancient},
		{ID: "active-old", CompanyID: c.ID, Type: crawler.RuleTypeJobList, LastVerified: &ancient, IsActive: true},
		{ID: "inactive-recent", CompanyID: c.ID, Type: crawler.RuleTypeJobList, LastVerified: &recent},
	} {
		require.NoError(t, repo.SaveRule(ctx, r))
	}

	rep, err := tasks.Run(ctx, TaskCleanup)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Deleted)

	rules, err := repo.ListRules(ctx, c.ID)
	require.NoError(t, err)
	var ids []string
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"active-old", "inactive-recent"}, ids)
}

func TestRunUnknownTask(t *testing.T) {
	t.Parallel()

	tasks, _, _ := newTasks(t, nil)
	_, err := tasks.Run(context.Background(), "defrag")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestSubmitFailuresAreCounted(t *testing.T) {
	t.Parallel()

	tasks, _, sub := newTasks(t, []Seed{{Name: "Acme"}, {Name: "Globex"}})
	sub.err = errors.New("queue full")

	rep, err := tasks.DiscoverAll(context.Background())
	require.ErrorContains(t, err, "queue full")
	assert.Equal(t, 2, rep.Failed)
	assert.Zero(t, rep.Queued)
}

func TestSchedulerRegistersConfiguredTasks(t *testing.T) {
	t.Parallel()

	tasks, _, _ := newTasks(t, nil)
	s := New(Config{Discover: "0 2 * * *", CrawlAll: "0 6 * * *", Verify: "0 22 * * *"}, tasks, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 3, s.Entries())

	select {
	case <-s.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	t.Parallel()

	tasks, _, _ := newTasks(t, nil)
	s := New(Config{Cleanup: "every sunday"}, tasks, nil)
	err := s.Start(context.Background())
	assert.ErrorContains(t, err, TaskCleanup)
}

func TestTriggerRunsTask(t *testing.T) {
	t.Parallel()

	tasks, _, sub := newTasks(t, []Seed{{Name: "Acme"}})
	s := New(Config{}, tasks, zap.NewNop())
	s.trigger(context.Background(), TaskDiscoverAll)
	assert.Len(t, sub.requests(), 1)
}
