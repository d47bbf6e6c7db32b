// Package pipeline runs the per-company crawl state machine:
// discover, fetch, analyze, generate rule, extract, validate.
package pipeline

import (
	"github.com/JakeFAU/careers-crawler/internal/crawler"
	"github.com/JakeFAU/careers-crawler/internal/locator"
)

// Step names a pipeline state.
type Step string

// Steps in execution order, followed by the terminal state.
const (
	StepDiscover Step = "discover_careers_page"
	StepFetch    Step = "fetch_content"
	StepAnalyze  Step = "analyze_structure"
	StepGenerate Step = "generate_extraction_rules"
	StepExtract  Step = "extract_jobs"
	StepValidate Step = "validate_extraction"
	StepDone     Step = "done"
)

// Input seeds a run.
type Input struct {
	RunID       string
	CompanyID   string
	CompanyName string
	Domain      string
	// KnownURL skips discovery when set.
	KnownURL string
	Mode     crawler.Mode
}

// State is the working memory of one run. Each step receives a copy and
// returns the next one; a State is never shared between runs.
type State struct {
	RunID       string
	CompanyID   string
	CompanyName string
	Domain      string
	Mode        crawler.Mode

	CareersURL      string
	DiscoverySource string
	Probes          []locator.ProbeAttempt

	// FinalURL is the URL after redirects and the base for relative links.
	FinalURL   string
	StatusCode int
	HTML       []byte

	Analysis   *crawler.StructureSignals
	Rule       *crawler.Rule
	Records    []crawler.JobRecord
	Quality    float64
	Confidence float64

	Step Step
	// Err holds the first step failure; later steps never replace it.
	Err error
}

// ErrorMessage returns the recorded error text, or "".
func (s State) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// Failed reports whether any step failed.
func (s State) Failed() bool { return s.Err != nil }

// RuleSnapshot returns the cached view stored on the company row: the rule
// when one was generated, plus whatever analysis produced.
func (s State) RuleSnapshot() *crawler.RuleSnapshot {
	if s.Rule == nil && s.Analysis == nil {
		return nil
	}
	snap := &crawler.RuleSnapshot{Analysis: s.Analysis}
	if s.Rule != nil {
		r := *s.Rule
		snap.Rule = &r
	}
	return snap
}

// Metadata summarizes the run for crawl log rows.
func (s State) Metadata() map[string]any {
	md := map[string]any{
		"confidence": s.Confidence,
		"step":       string(s.Step),
		"jobs_found": len(s.Records),
	}
	if s.CareersURL != "" {
		md["careers_url"] = s.CareersURL
	}
	if s.DiscoverySource != "" {
		md["discovery_source"] = s.DiscoverySource
	}
	if s.Rule != nil {
		md["rule"] = s.Rule.Selectors
		md["oracle_confidence"] = s.Rule.Confidence
	}
	if s.Analysis != nil {
		md["analysis"] = *s.Analysis
	}
	if kind := crawler.KindOf(s.Err); kind != "" {
		md["error_kind"] = string(kind)
	}
	return md
}
