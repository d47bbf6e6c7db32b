package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/careers-crawler/internal/clock/system"
	"github.com/JakeFAU/careers-crawler/internal/crawler"
	"github.com/JakeFAU/careers-crawler/internal/id/uuid"
)

// ErrLogCompleted is returned when a completed crawl log is updated again.
var ErrLogCompleted = errors.New("crawl log already completed")

// Repository implements crawler.Repository in memory.
type Repository struct {
	mu    sync.RWMutex
	st    *state
	ids   crawler.IDGenerator
	clock crawler.Clock
}

type state struct {
	companies map[string]crawler.Company
	byName    map[string]string
	jobs      map[string]crawler.Job
	jobKeys   map[string]string
	rules     map[string]crawler.ExtractionRule
	logs      map[string]crawler.CrawlLog
}

func newState() *state {
	return &state{
		companies: make(map[string]crawler.Company),
		byName:    make(map[string]string),
		jobs:      make(map[string]crawler.Job),
		jobKeys:   make(map[string]string),
		rules:     make(map[string]crawler.ExtractionRule),
		logs:      make(map[string]crawler.CrawlLog),
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.companies {
		out.companies[k] = v
	}
	for k, v := range s.byName {
		out.byName[k] = v
	}
	for k, v := range s.jobs {
		out.jobs[k] = v
	}
	for k, v := range s.jobKeys {
		out.jobKeys[k] = v
	}
	for k, v := range s.rules {
		out.rules[k] = v
	}
	for k, v := range s.logs {
		out.logs[k] = v
	}
	return out
}

// NewRepository constructs an empty Repository. ids and clock may be nil.
func NewRepository(ids crawler.IDGenerator, clock crawler.Clock) *Repository {
	if ids == nil {
		ids = uuid.NewUUIDGenerator()
	}
	if clock == nil {
		clock = system.New()
	}
	return &Repository{st: newState(), ids: ids, clock: clock}
}

// InTx runs fn against a private copy of the data and publishes the copy
// only when fn succeeds. Transactions are serialized with all other access.
func (r *Repository) InTx(ctx context.Context, fn func(crawler.Repository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &Repository{st: r.st.clone(), ids: r.ids, clock: r.clock}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	r.st = tx.st
	return nil
}

func (r *Repository) newID() (string, error) {
	id, err := r.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id, nil
}

// GetOrCreateCompany returns the company named name, creating an active one if needed.
func (r *Repository) GetOrCreateCompany(_ context.Context, name, domain string) (crawler.Company, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return crawler.Company{}, errors.New("company name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.st.byName[name]; ok {
		return r.st.companies[id], nil
	}
	if domain != "" {
		for _, c := range r.st.companies {
			if strings.EqualFold(c.Domain, domain) {
				return crawler.Company{}, fmt.Errorf("domain %q already belongs to %q", domain, c.Name)
			}
		}
	}
	id, err := r.newID()
	if err != nil {
		return crawler.Company{}, err
	}
	now := r.clock.Now()
	c := crawler.Company{ID: id, Name: name, Domain: domain, IsActive: true, CreatedAt: now, UpdatedAt: now}
	r.st.companies[id] = c
	r.st.byName[name] = id
	return c, nil
}

// GetCompany returns crawler.ErrNotFound for unknown ids.
func (r *Repository) GetCompany(_ context.Context, id string) (crawler.Company, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.st.companies[id]
	if !ok {
		return crawler.Company{}, crawler.ErrNotFound
	}
	return c, nil
}

// UpdateCompany applies the non-nil fields of upd.
func (r *Repository) UpdateCompany(_ context.Context, id string, upd crawler.CompanyUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.st.companies[id]
	if !ok {
		return crawler.ErrNotFound
	}
	if upd.CareersURL != nil {
		c.CareersURL = *upd.CareersURL
	}
	if upd.RuleCache != nil {
		snap := *upd.RuleCache
		c.RuleCache = &snap
	}
	if upd.LastCrawled != nil {
		ts := *upd.LastCrawled
		c.LastCrawled = &ts
	}
	c.UpdatedAt = r.clock.Now()
	r.st.companies[id] = c
	return nil
}

// ListActiveCompaniesWithCareersURL returns active companies with a known careers page, by name.
func (r *Repository) ListActiveCompaniesWithCareersURL(_ context.Context) ([]crawler.Company, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []crawler.Company
	for _, c := range r.st.companies {
		if c.IsActive && c.CareersURL != "" {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListStaleCompanies returns never-crawled companies first, then the oldest crawls.
func (r *Repository) ListStaleCompanies(_ context.Context, cutoff time.Time, limit int) ([]crawler.Company, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []crawler.Company
	for _, c := range r.st.companies {
		if !c.IsActive || c.CareersURL == "" {
			continue
		}
		if c.LastCrawled == nil || c.LastCrawled.Before(cutoff) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastCrawled, out[j].LastCrawled
		switch {
		case a == nil && b == nil:
			return out[i].Name < out[j].Name
		case a == nil:
			return true
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func jobKey(companyID, fingerprint string) string {
	return companyID + "\x00" + fingerprint
}

// UpsertJob inserts or overwrites the job keyed by (companyID, fingerprint).
func (r *Repository) UpsertJob(
	_ context.Context,
	companyID, fingerprint string,
	rec crawler.JobRecord,
) (crawler.Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.st.companies[companyID]; !ok {
		return crawler.Job{}, false, crawler.ErrNotFound
	}
	now := r.clock.Now()
	key := jobKey(companyID, fingerprint)
	if id, ok := r.st.jobKeys[key]; ok {
		job := r.st.jobs[id]
		job.Title = rec.Title
		job.Location = rec.Location
		job.Department = rec.Department
		job.URL = rec.URL
		job.RawData = rec
		job.IsActive = true
		job.UpdatedAt = now
		r.st.jobs[id] = job
		return job, false, nil
	}
	id, err := r.newID()
	if err != nil {
		return crawler.Job{}, false, err
	}
	posted := now
	job := crawler.Job{
		ID:         id,
		CompanyID:  companyID,
		ExternalID: fingerprint,
		Title:      rec.Title,
		Department: rec.Department,
		Location:   rec.Location,
		URL:        rec.URL,
		PostedDate: &posted,
		IsActive:   true,
		RawData:    rec,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.st.jobs[id] = job
	r.st.jobKeys[key] = id
	return job, true, nil
}

// ListJobs returns a company's jobs in insertion order.
func (r *Repository) ListJobs(_ context.Context, companyID string) ([]crawler.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []crawler.Job
	for _, j := range r.st.jobs {
		if j.CompanyID == companyID {
			out = append(out, j)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func newestFirst(rules []crawler.ExtractionRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].ID > rules[j].ID
		}
		return rules[i].CreatedAt.After(rules[j].CreatedAt)
	})
}

func (r *Repository) rulesWhere(keep func(crawler.ExtractionRule) bool) []crawler.ExtractionRule {
	var out []crawler.ExtractionRule
	for _, rule := range r.st.rules {
		if keep(rule) {
			out = append(out, rule)
		}
	}
	newestFirst(out)
	return out
}

// GetActiveRule returns the newest active rule of ruleType for the company.
func (r *Repository) GetActiveRule(
	_ context.Context,
	companyID string,
	ruleType crawler.RuleType,
) (crawler.ExtractionRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rules := r.rulesWhere(func(rule crawler.ExtractionRule) bool {
		return rule.CompanyID == companyID && rule.Type == ruleType && rule.IsActive
	})
	if len(rules) == 0 {
		return crawler.ExtractionRule{}, crawler.ErrNotFound
	}
	return rules[0], nil
}

// ListActiveRules returns the company's active rules, newest first.
func (r *Repository) ListActiveRules(_ context.Context, companyID string) ([]crawler.ExtractionRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rulesWhere(func(rule crawler.ExtractionRule) bool {
		return rule.CompanyID == companyID && rule.IsActive
	}), nil
}

// ListRules returns every rule of the company, newest first.
func (r *Repository) ListRules(_ context.Context, companyID string) ([]crawler.ExtractionRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rulesWhere(func(rule crawler.ExtractionRule) bool {
		return rule.CompanyID == companyID
	}), nil
}

// ListExpiredRules returns inactive rules last verified before cutoff.
func (r *Repository) ListExpiredRules(_ context.Context, cutoff time.Time) ([]crawler.ExtractionRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rulesWhere(func(rule crawler.ExtractionRule) bool {
		return !rule.IsActive && rule.LastVerified != nil && rule.LastVerified.Before(cutoff)
	}), nil
}

// SaveRule inserts rule, or updates it in place when its id exists.
func (r *Repository) SaveRule(_ context.Context, rule crawler.ExtractionRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	rule.ConfidenceScore = crawler.Clamp01(rule.ConfidenceScore)
	rule.SuccessRate = crawler.Clamp01(rule.SuccessRate)
	if rule.ID == "" {
		id, err := r.newID()
		if err != nil {
			return err
		}
		rule.ID = id
	}
	if existing, ok := r.st.rules[rule.ID]; ok {
		rule.CreatedAt = existing.CreatedAt
	} else if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	r.st.rules[rule.ID] = rule
	return nil
}

// DeactivateRules clears is_active on the given rules. Unknown ids are ignored.
func (r *Repository) DeactivateRules(_ context.Context, ruleIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	for _, id := range ruleIDs {
		rule, ok := r.st.rules[id]
		if !ok {
			continue
		}
		rule.IsActive = false
		rule.UpdatedAt = now
		r.st.rules[id] = rule
	}
	return nil
}

// DeleteRule removes a rule permanently.
func (r *Repository) DeleteRule(_ context.Context, ruleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.st.rules[ruleID]; !ok {
		return crawler.ErrNotFound
	}
	delete(r.st.rules, ruleID)
	return nil
}

// AppendCrawlLog stores a new crawl log row.
func (r *Repository) AppendCrawlLog(_ context.Context, log crawler.CrawlLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if log.ID == "" {
		id, err := r.newID()
		if err != nil {
			return err
		}
		log.ID = id
	}
	if _, ok := r.st.logs[log.ID]; ok {
		return fmt.Errorf("crawl log %s already exists", log.ID)
	}
	if log.StartedAt.IsZero() {
		log.StartedAt = r.clock.Now()
	}
	r.st.logs[log.ID] = log
	return nil
}

// UpdateCrawlLog completes a crawl log. A completed log cannot be updated again.
func (r *Repository) UpdateCrawlLog(_ context.Context, id string, upd crawler.CrawlLogUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	log, ok := r.st.logs[id]
	if !ok {
		return crawler.ErrNotFound
	}
	if log.CompletedAt != nil {
		return ErrLogCompleted
	}
	completed := upd.CompletedAt
	if completed.Before(log.StartedAt) {
		completed = log.StartedAt
	}
	log.Status = upd.Status
	log.CompletedAt = &completed
	log.JobsFound = upd.JobsFound
	log.JobsNew = upd.JobsNew
	log.JobsUpdated = upd.JobsUpdated
	log.ErrorMessage = upd.ErrorMessage
	if upd.Status == crawler.RunStatusSuccess {
		log.ErrorMessage = ""
	}
	if upd.Metadata != nil {
		log.Metadata = upd.Metadata
	}
	r.st.logs[id] = log
	return nil
}

// GetCrawlLog returns a crawl log by id.
func (r *Repository) GetCrawlLog(_ context.Context, id string) (crawler.CrawlLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	log, ok := r.st.logs[id]
	if !ok {
		return crawler.CrawlLog{}, crawler.ErrNotFound
	}
	return log, nil
}

// ListCrawlLogs returns the company's most recent logs first.
func (r *Repository) ListCrawlLogs(_ context.Context, companyID string, limit int) ([]crawler.CrawlLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []crawler.CrawlLog
	for _, log := range r.st.logs {
		if companyID == "" || log.CompanyID == companyID {
			out = append(out, log)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ crawler.Repository = (*Repository)(nil)
