package crawler

import (
	"context"
	"time"
)

// Repository persists companies, jobs, rules and crawl logs.
type Repository interface {
	// GetOrCreateCompany returns the company with the given name, creating it if needed.
	GetOrCreateCompany(ctx context.Context, name, domain string) (Company, error)
	// GetCompany returns ErrNotFound for unknown ids.
	GetCompany(ctx context.Context, id string) (Company, error)
	UpdateCompany(ctx context.Context, id string, upd CompanyUpdate) error
	ListActiveCompaniesWithCareersURL(ctx context.Context) ([]Company, error)
	// ListStaleCompanies returns active companies with a careers URL whose
	// last crawl is unset or older than cutoff.
	ListStaleCompanies(ctx context.Context, cutoff time.Time, limit int) ([]Company, error)

	// UpsertJob inserts a job keyed by (companyID, fingerprint) or overwrites
	// the existing one. wasNew reports which happened.
	UpsertJob(ctx context.Context, companyID, fingerprint string, rec JobRecord) (job Job, wasNew bool, err error)
	ListJobs(ctx context.Context, companyID string) ([]Job, error)

	GetActiveRule(ctx context.Context, companyID string, ruleType RuleType) (ExtractionRule, error)
	ListActiveRules(ctx context.Context, companyID string) ([]ExtractionRule, error)
	ListRules(ctx context.Context, companyID string) ([]ExtractionRule, error)
	// ListExpiredRules returns inactive rules last verified before cutoff.
	ListExpiredRules(ctx context.Context, cutoff time.Time) ([]ExtractionRule, error)
	// SaveRule inserts the rule, or updates it in place when the id exists.
	SaveRule(ctx context.Context, rule ExtractionRule) error
	DeactivateRules(ctx context.Context, ruleIDs []string) error
	DeleteRule(ctx context.Context, ruleID string) error

	AppendCrawlLog(ctx context.Context, log CrawlLog) error
	UpdateCrawlLog(ctx context.Context, id string, upd CrawlLogUpdate) error
	GetCrawlLog(ctx context.Context, id string) (CrawlLog, error)
	ListCrawlLogs(ctx context.Context, companyID string, limit int) ([]CrawlLog, error)

	// InTx runs fn against a transactional view. Either every write made
	// through the view lands or none do.
	InTx(ctx context.Context, fn func(Repository) error) error
}

// Fetcher retrieves page bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// Prober performs cheap existence checks and reports the status code.
type Prober interface {
	Probe(ctx context.Context, method, url string, timeout time.Duration) (int, error)
}

// RuleRequest is sent to the rule oracle.
type RuleRequest struct {
	CompanyName string `json:"company_name"`
	URL         string `json:"url"`
	HTMLSample  string `json:"html_sample"`
}

// RuleOracle turns an HTML sample into a rule guess.
type RuleOracle interface {
	GenerateRule(ctx context.Context, req RuleRequest) (Rule, error)
	SuggestCareersURLs(ctx context.Context, companyName, domain string) ([]string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for run requests.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces row IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
