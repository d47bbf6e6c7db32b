package crawler

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RuleType identifies what an extraction rule extracts.
type RuleType string

// Rule types stored with each extraction rule.
const (
	RuleTypeJobList    RuleType = "job_list"
	RuleTypeJobDetail  RuleType = "job_detail"
	RuleTypePagination RuleType = "pagination"
)

// CrawlType is recorded on every crawl log row.
type CrawlType string

// Crawl log types.
const (
	CrawlTypeDiscovery    CrawlType = "discovery"
	CrawlTypeExtraction   CrawlType = "extraction"
	CrawlTypeVerification CrawlType = "verification"
)

// RunStatus represents the lifecycle state of a crawl log.
type RunStatus string

// Crawl log status values.
const (
	RunStatusPending RunStatus = "pending"
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// Mode selects what a submitted run does.
type Mode string

// Run modes accepted by the job submission interface.
const (
	ModeDiscover Mode = "discover"
	ModeExtract  Mode = "extract"
	ModeVerify   Mode = "verify"
	ModeImprove  Mode = "improve"
)

// ParseMode converts user input into a Mode.
func ParseMode(raw string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(raw)))
	switch m {
	case ModeDiscover, ModeExtract, ModeVerify, ModeImprove:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q", raw)
	}
}

// CrawlType maps a run mode to the crawl log type it records.
func (m Mode) CrawlType() CrawlType {
	switch m {
	case ModeDiscover:
		return CrawlTypeDiscovery
	case ModeExtract:
		return CrawlTypeExtraction
	default:
		return CrawlTypeVerification
	}
}

// Company is a crawl target.
type Company struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Domain      string        `json:"domain,omitempty"`
	CareersURL  string        `json:"careers_url,omitempty"`
	RuleCache   *RuleSnapshot `json:"extraction_rules,omitempty"`
	LastCrawled *time.Time    `json:"last_crawled,omitempty"`
	IsActive    bool          `json:"is_active"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// CompanyUpdate carries the pipeline-owned company fields. Nil fields are left untouched.
type CompanyUpdate struct {
	CareersURL  *string
	RuleCache   *RuleSnapshot
	LastCrawled *time.Time
}

// Selectors maps selector roles to CSS selector strings.
type Selectors struct {
	JobItem    string `json:"job_item_selector"`
	Title      string `json:"title_selector"`
	Location   string `json:"location_selector,omitempty"`
	Department string `json:"department_selector,omitempty"`
	Link       string `json:"link_selector,omitempty"`
}

// Rule is a typed rule guess produced by the oracle.
type Rule struct {
	Selectors
	Confidence float64        `json:"confidence_score"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// StructureSignals are the coarse page signals computed before any rule exists.
type StructureSignals struct {
	PotentialJobContainers int  `json:"potential_job_containers"`
	HasPagination          bool `json:"has_pagination"`
	HasFilters             bool `json:"has_filters"`
	TotalLinks             int  `json:"total_links"`
	LikelyDynamic          bool `json:"likely_dynamic"`
}

// RuleSnapshot is the cached view of the last rule (or, failing that, the
// last analysis) kept on the company row.
type RuleSnapshot struct {
	Rule     *Rule             `json:"rule,omitempty"`
	Analysis *StructureSignals `json:"analysis,omitempty"`
}

// ExtractionRule is a persisted, versioned rule.
type ExtractionRule struct {
	ID              string     `json:"id"`
	CompanyID       string     `json:"company_id,omitempty"`
	SitePattern     string     `json:"site_pattern,omitempty"`
	Type            RuleType   `json:"rule_type"`
	Selectors       Selectors  `json:"selectors"`
	ConfidenceScore float64    `json:"confidence_score"`
	SuccessRate     float64    `json:"success_rate"`
	LastVerified    *time.Time `json:"last_verified,omitempty"`
	IsActive        bool       `json:"is_active"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// JobRecord is a raw record produced by the extractor.
type JobRecord struct {
	Title      string `json:"title"`
	Location   string `json:"location,omitempty"`
	Department string `json:"department,omitempty"`
	URL        string `json:"url,omitempty"`
}

// Job is a stored posting.
type Job struct {
	ID              string     `json:"id"`
	CompanyID       string     `json:"company_id"`
	ExternalID      string     `json:"external_id"`
	Title           string     `json:"title"`
	Department      string     `json:"department,omitempty"`
	Location        string     `json:"location,omitempty"`
	RemoteType      string     `json:"remote_type,omitempty"`
	EmploymentType  string     `json:"employment_type,omitempty"`
	ExperienceLevel string     `json:"experience_level,omitempty"`
	Description     string     `json:"description,omitempty"`
	Requirements    string     `json:"requirements,omitempty"`
	Benefits        string     `json:"benefits,omitempty"`
	SalaryMin       *float64   `json:"salary_min,omitempty"`
	SalaryMax       *float64   `json:"salary_max,omitempty"`
	Currency        string     `json:"currency,omitempty"`
	URL             string     `json:"url,omitempty"`
	PostedDate      *time.Time `json:"posted_date,omitempty"`
	IsActive        bool       `json:"is_active"`
	RawData         JobRecord  `json:"raw_data"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CrawlLog records one run.
type CrawlLog struct {
	ID           string         `json:"id"`
	CompanyID    string         `json:"company_id"`
	Type         CrawlType      `json:"crawl_type"`
	Status       RunStatus      `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	JobsFound    int            `json:"jobs_found"`
	JobsNew      int            `json:"jobs_new"`
	JobsUpdated  int            `json:"jobs_updated"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// CrawlLogUpdate completes a crawl log.
type CrawlLogUpdate struct {
	Status       RunStatus
	CompletedAt  time.Time
	JobsFound    int
	JobsNew      int
	JobsUpdated  int
	ErrorMessage string
	Metadata     map[string]any
}

// RunRequest is the unit of work submitted to the queue.
type RunRequest struct {
	CompanyID   string `json:"company_id,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	Domain      string `json:"domain,omitempty"`
	Mode        Mode   `json:"mode"`
}

// Validate checks that the request identifies a company in a way the mode accepts.
func (r RunRequest) Validate() error {
	switch r.Mode {
	case ModeDiscover:
		if strings.TrimSpace(r.CompanyName) == "" && r.CompanyID == "" {
			return fmt.Errorf("discover requires company_name or company_id")
		}
	case ModeExtract, ModeVerify, ModeImprove:
		if r.CompanyID == "" {
			return fmt.Errorf("%s requires company_id", r.Mode)
		}
	default:
		return fmt.Errorf("unknown mode %q", r.Mode)
	}
	return nil
}

// RunResult is returned to callers and published on completion.
type RunResult struct {
	CompanyID       string  `json:"company_id"`
	CompanyName     string  `json:"company_name,omitempty"`
	Mode            Mode    `json:"mode"`
	CareersURL      string  `json:"careers_url,omitempty"`
	JobsFound       int     `json:"jobs_found"`
	JobsNew         int     `json:"jobs_new"`
	JobsUpdated     int     `json:"jobs_updated"`
	ConfidenceScore float64 `json:"confidence_score"`
	ErrorMessage    string  `json:"error_message,omitempty"`
	Outcome         string  `json:"outcome,omitempty"`
	LogID           string  `json:"crawl_log_id,omitempty"`
	ArchiveURI      string  `json:"archive_uri,omitempty"`
}

// QueueItem wraps a run request waiting for a worker.
type QueueItem struct {
	ID        string     `json:"id"`
	Request   RunRequest `json:"request"`
	Attempt   int        `json:"attempt"`
	Submitted int64      `json:"submitted"`
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
