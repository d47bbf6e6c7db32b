// Package locator finds a company's careers page: conventional paths first,
// then oracle-suggested candidates, each confirmed by a cheap probe.
package locator

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
)

// DefaultPaths are the conventional careers paths, tried in order.
var DefaultPaths = []string{"/careers", "/jobs", "/work-with-us", "/join-us", "/opportunities"}

// Where a careers URL came from.
const (
	SourceConventional = "conventional"
	SourceOracle       = "oracle"
)

const (
	defaultProbeTimeout      = 10 * time.Second
	defaultSuggestionTimeout = 5 * time.Second
	defaultMaxSuggestions    = 3
)

// Config tunes probing.
type Config struct {
	Paths             []string
	ProbeTimeout      time.Duration
	SuggestionTimeout time.Duration
	MaxSuggestions    int
}

// ProbeAttempt records one existence check.
type ProbeAttempt struct {
	URL    string `json:"url"`
	Method string `json:"method"`
	Status int    `json:"status,omitempty"`
	Err    string `json:"error,omitempty"`
}

// Result is the outcome of Locate. URL is empty when nothing was found.
type Result struct {
	URL    string         `json:"url,omitempty"`
	Source string         `json:"source,omitempty"`
	Probes []ProbeAttempt `json:"probes,omitempty"`
}

// Found reports whether a careers URL was resolved.
func (r Result) Found() bool { return r.URL != "" }

// Locator resolves careers URLs.
type Locator struct {
	cfg    Config
	prober crawler.Prober
	oracle crawler.RuleOracle
	logger *zap.Logger
}

// New builds a Locator. oracle may be nil, which disables the fallback.
func New(cfg Config, prober crawler.Prober, oracle crawler.RuleOracle, logger *zap.Logger) *Locator {
	if len(cfg.Paths) == 0 {
		cfg.Paths = DefaultPaths
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.SuggestionTimeout <= 0 {
		cfg.SuggestionTimeout = defaultSuggestionTimeout
	}
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = defaultMaxSuggestions
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{cfg: cfg, prober: prober, oracle: oracle, logger: logger}
}

// Locate never fails: an unresolved page is reported as an empty Result.
func (l *Locator) Locate(ctx context.Context, companyName, domain string) Result {
	var res Result
	host := NormalizeDomain(domain)
	if host != "" {
		for _, path := range l.cfg.Paths {
			candidate := "https://" + host + path
			if l.probe(ctx, &res, http.MethodGet, candidate, l.cfg.ProbeTimeout) {
				res.URL, res.Source = candidate, SourceConventional
				return res
			}
		}
	}

	if l.oracle == nil {
		return res
	}
	suggestions, err := l.oracle.SuggestCareersURLs(ctx, companyName, host)
	if err != nil {
		l.logger.Warn("careers url suggestion failed",
			zap.String("company", companyName), zap.Error(err))
		return res
	}
	if len(suggestions) > l.cfg.MaxSuggestions {
		suggestions = suggestions[:l.cfg.MaxSuggestions]
	}
	for _, candidate := range suggestions {
		if l.probe(ctx, &res, http.MethodHead, candidate, l.cfg.SuggestionTimeout) {
			res.URL, res.Source = candidate, SourceOracle
			return res
		}
	}
	return res
}

func (l *Locator) probe(ctx context.Context, res *Result, method, url string, timeout time.Duration) bool {
	attempt := ProbeAttempt{URL: url, Method: method}
	status, err := l.prober.Probe(ctx, method, url, timeout)
	attempt.Status = status
	if err != nil {
		attempt.Err = err.Error()
		l.logger.Debug("careers probe failed", zap.String("url", url), zap.Error(err))
	}
	res.Probes = append(res.Probes, attempt)
	return err == nil && status == http.StatusOK
}

// NormalizeDomain strips scheme, path and surrounding noise from a domain.
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	if i := strings.IndexByte(d, '/'); i >= 0 {
		d = d[:i]
	}
	return d
}
