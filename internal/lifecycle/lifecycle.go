// Package lifecycle turns pipeline outcomes into rule store mutations:
// verify (EMA success rate), improve (gated replacement) and cleanup.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/careers-crawler/internal/clock/system"
	"github.com/JakeFAU/careers-crawler/internal/crawler"
	"github.com/JakeFAU/careers-crawler/internal/id/uuid"
	"github.com/JakeFAU/careers-crawler/internal/metrics"
)

// Decision outcomes recorded on crawl logs.
const (
	OutcomeUpdated          = "updated"
	OutcomeCreated          = "created"
	OutcomeUnchanged        = "unchanged"
	OutcomeImproved         = "improved"
	OutcomeNoImprovement    = "no_improvement"
	OutcomeNoRulesToImprove = "no_rules_to_improve"
)

const (
	defaultSmoothing         = 0.3
	defaultImprovementFactor = 1.1
	defaultStaleAfter        = 7 * 24 * time.Hour
	defaultRetention         = 90 * 24 * time.Hour
	defaultVerifyBatch       = 10
)

// Config holds the lifecycle constants.
type Config struct {
	Smoothing         float64
	ImprovementFactor float64
	StaleAfter        time.Duration
	Retention         time.Duration
	VerifyBatch       int
	// RuleType is the rule kind the pipeline produces.
	RuleType crawler.RuleType
	// IDs assigns rule ids before they are stored, so decisions carry them.
	IDs crawler.IDGenerator
}

// RunOutcome is the slice of a pipeline result the lifecycle needs.
type RunOutcome struct {
	CareersURL    string
	Rule          *crawler.Rule
	Confidence    float64
	JobsExtracted int
}

// Decision describes what a lifecycle operation did.
type Decision struct {
	Outcome     string                  `json:"outcome"`
	Rule        *crawler.ExtractionRule `json:"rule,omitempty"`
	Deactivated []string                `json:"deactivated,omitempty"`
	Best        float64                 `json:"best_existing_confidence,omitempty"`
}

// Manager applies lifecycle policy through a repository.
type Manager struct {
	cfg    Config
	clock  crawler.Clock
	logger *zap.Logger
}

// New constructs a Manager. Zero config values fall back to defaults; clock may be nil.
func New(cfg Config, clock crawler.Clock, logger *zap.Logger) *Manager {
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		cfg.Smoothing = defaultSmoothing
	}
	if cfg.ImprovementFactor < 1 {
		cfg.ImprovementFactor = defaultImprovementFactor
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.VerifyBatch <= 0 {
		cfg.VerifyBatch = defaultVerifyBatch
	}
	if cfg.RuleType == "" {
		cfg.RuleType = crawler.RuleTypeJobList
	}
	if cfg.IDs == nil {
		cfg.IDs = uuid.NewUUIDGenerator()
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, clock: clock, logger: logger}
}

// UpdateSuccessRate is the exponential moving average
// old*(1-smoothing) + min(confidence,1)*smoothing.
func UpdateSuccessRate(old, confidence, smoothing float64) float64 {
	return crawler.Clamp01(old*(1-smoothing) + crawler.Clamp01(confidence)*smoothing)
}

// ShouldReplace reports whether candidate beats best by more than factor.
func ShouldReplace(candidate, best, factor float64) bool {
	return candidate > best*factor
}

// Verify folds a run into the company's active rule: update it in place, or
// create one when none exists. The success rate moves only when the run
// extracted at least one job.
func (m *Manager) Verify(ctx context.Context, repo crawler.Repository, companyID string, run RunOutcome) (Decision, error) {
	if run.Rule == nil {
		m.decided(companyID, OutcomeUnchanged)
		return Decision{Outcome: OutcomeUnchanged}, nil
	}
	now := m.clock.Now()
	conf := crawler.Clamp01(run.Confidence)

	existing, err := repo.GetActiveRule(ctx, companyID, m.cfg.RuleType)
	switch {
	case err == nil:
		existing.Selectors = run.Rule.Selectors
		existing.ConfidenceScore = conf
		existing.LastVerified = &now
		if run.JobsExtracted > 0 {
			existing.SuccessRate = UpdateSuccessRate(existing.SuccessRate, conf, m.cfg.Smoothing)
		}
		if err := repo.SaveRule(ctx, existing); err != nil {
			return Decision{}, fmt.Errorf("update rule %s: %w", existing.ID, err)
		}
		m.decided(companyID, OutcomeUpdated)
		return Decision{Outcome: OutcomeUpdated, Rule: &existing}, nil
	case errors.Is(err, crawler.ErrNotFound):
		rule, err := m.newRule(companyID, run, now)
		if err != nil {
			return Decision{}, err
		}
		if err := repo.SaveRule(ctx, rule); err != nil {
			return Decision{}, fmt.Errorf("create rule: %w", err)
		}
		m.decided(companyID, OutcomeCreated)
		return Decision{Outcome: OutcomeCreated, Rule: &rule}, nil
	default:
		return Decision{}, fmt.Errorf("load active rule: %w", err)
	}
}

// Improve replaces the active rules of the configured type only when the run
// beats the best of them by the improvement factor.
func (m *Manager) Improve(ctx context.Context, repo crawler.Repository, companyID string, run RunOutcome) (Decision, error) {
	active, err := repo.ListActiveRules(ctx, companyID)
	if err != nil {
		return Decision{}, fmt.Errorf("list active rules: %w", err)
	}
	var ids []string
	best := 0.0
	for _, r := range active {
		if r.Type != m.cfg.RuleType {
			continue
		}
		ids = append(ids, r.ID)
		if r.ConfidenceScore > best {
			best = r.ConfidenceScore
		}
	}
	if len(ids) == 0 {
		m.decided(companyID, OutcomeNoRulesToImprove)
		return Decision{Outcome: OutcomeNoRulesToImprove}, nil
	}
	conf := crawler.Clamp01(run.Confidence)
	if run.Rule == nil || !ShouldReplace(conf, best, m.cfg.ImprovementFactor) {
		m.decided(companyID, OutcomeNoImprovement, zap.Float64("best", best), zap.Float64("candidate", conf))
		return Decision{Outcome: OutcomeNoImprovement, Best: best}, nil
	}

	if err := repo.DeactivateRules(ctx, ids); err != nil {
		return Decision{}, fmt.Errorf("deactivate rules: %w", err)
	}
	rule, err := m.newRule(companyID, run, m.clock.Now())
	if err != nil {
		return Decision{}, err
	}
	if err := repo.SaveRule(ctx, rule); err != nil {
		return Decision{}, fmt.Errorf("insert improved rule: %w", err)
	}
	m.decided(companyID, OutcomeImproved, zap.Float64("best", best), zap.Float64("candidate", conf))
	return Decision{Outcome: OutcomeImproved, Rule: &rule, Deactivated: ids, Best: best}, nil
}

// StaleCompanies selects up to VerifyBatch companies due for verification.
func (m *Manager) StaleCompanies(ctx context.Context, repo crawler.Repository) ([]crawler.Company, error) {
	cutoff := m.clock.Now().Add(-m.cfg.StaleAfter)
	companies, err := repo.ListStaleCompanies(ctx, cutoff, m.cfg.VerifyBatch)
	if err != nil {
		return nil, fmt.Errorf("list stale companies: %w", err)
	}
	return companies, nil
}

// Cleanup permanently deletes inactive rules whose last verification is
// older than the retention window. Active rules are never deleted.
func (m *Manager) Cleanup(ctx context.Context, repo crawler.Repository) (int, error) {
	cutoff := m.clock.Now().Add(-m.cfg.Retention)
	expired, err := repo.ListExpiredRules(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list expired rules: %w", err)
	}
	deleted := 0
	for _, r := range expired {
		if r.IsActive || r.LastVerified == nil || !r.LastVerified.Before(cutoff) {
			continue
		}
		if err := repo.DeleteRule(ctx, r.ID); err != nil {
			return deleted, fmt.Errorf("delete rule %s: %w", r.ID, err)
		}
		deleted++
	}
	m.logger.Info("expired rules cleaned up", zap.Int("deleted", deleted), zap.Time("cutoff", cutoff))
	return deleted, nil
}

func (m *Manager) newRule(companyID string, run RunOutcome, now time.Time) (crawler.ExtractionRule, error) {
	id, err := m.cfg.IDs.NewID()
	if err != nil {
		return crawler.ExtractionRule{}, fmt.Errorf("new rule id: %w", err)
	}
	conf := crawler.Clamp01(run.Confidence)
	return crawler.ExtractionRule{
		ID:              id,
		CompanyID:       companyID,
		SitePattern:     run.CareersURL,
		Type:            m.cfg.RuleType,
		Selectors:       run.Rule.Selectors,
		ConfidenceScore: conf,
		SuccessRate:     conf,
		LastVerified:    &now,
		IsActive:        true,
	}, nil
}

func (m *Manager) decided(companyID, outcome string, fields ...zap.Field) {
	metrics.ObserveRuleDecision(outcome)
	m.logger.Info("rule lifecycle decision",
		append([]zap.Field{zap.String("company_id", companyID), zap.String("outcome", outcome)}, fields...)...)
}
