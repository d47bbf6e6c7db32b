package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
)

// UpsertJob inserts or overwrites the job keyed by (companyID, fingerprint).
// xmax = 0 only for freshly inserted tuples, which tells the two cases apart.
func (r *Repository) UpsertJob(
	ctx context.Context,
	companyID, fingerprint string,
	rec crawler.JobRecord,
) (crawler.Job, bool, error) {
	id, err := r.newID()
	if err != nil {
		return crawler.Job{}, false, err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return crawler.Job{}, false, fmt.Errorf("encode raw_data: %w", err)
	}
	now := r.clock.Now()
	query := `
INSERT INTO jobs (id, company_id, external_id, title, department, location, url, raw_data,
                  posted_date, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $9, $9)
ON CONFLICT (company_id, external_id) DO UPDATE SET
    title = EXCLUDED.title,
    department = EXCLUDED.department,
    location = EXCLUDED.location,
    url = EXCLUDED.url,
    raw_data = EXCLUDED.raw_data,
    is_active = TRUE,
    updated_at = EXCLUDED.updated_at
RETURNING id, posted_date, created_at, updated_at, (xmax = 0) AS inserted`
	job := crawler.Job{
		CompanyID:  companyID,
		ExternalID: fingerprint,
		Title:      rec.Title,
		Department: rec.Department,
		Location:   rec.Location,
		URL:        rec.URL,
		IsActive:   true,
		RawData:    rec,
	}
	var inserted bool
	err = r.db.QueryRow(ctx, query,
		id, companyID, fingerprint, rec.Title,
		nullable(rec.Department), nullable(rec.Location), nullable(rec.URL), raw, now,
	).Scan(&job.ID, &job.PostedDate, &job.CreatedAt, &job.UpdatedAt, &inserted)
	if err != nil {
		return crawler.Job{}, false, fmt.Errorf("upsert job: %w", err)
	}
	return job, inserted, nil
}

const jobColumns = `id, company_id, external_id, title, department, location, remote_type, employment_type,
experience_level, description, requirements, benefits, salary_min, salary_max, currency, url,
posted_date, is_active, raw_data, created_at, updated_at`

func scanJob(row pgx.Row) (crawler.Job, error) {
	var (
		j                                      crawler.Job
		dept, loc, remote, employment, level   *string
		desc, reqs, benefits, currency, jobURL *string
		raw                                    []byte
	)
	err := row.Scan(&j.ID, &j.CompanyID, &j.ExternalID, &j.Title, &dept, &loc, &remote, &employment,
		&level, &desc, &reqs, &benefits, &j.SalaryMin, &j.SalaryMax, &currency, &jobURL,
		&j.PostedDate, &j.IsActive, &raw, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return crawler.Job{}, err
	}
	j.Department, j.Location = deref(dept), deref(loc)
	j.RemoteType, j.EmploymentType, j.ExperienceLevel = deref(remote), deref(employment), deref(level)
	j.Description, j.Requirements, j.Benefits = deref(desc), deref(reqs), deref(benefits)
	j.Currency, j.URL = deref(currency), deref(jobURL)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &j.RawData); err != nil {
			return crawler.Job{}, fmt.Errorf("decode raw_data: %w", err)
		}
	}
	return j, nil
}

// ListJobs returns a company's jobs in insertion order.
func (r *Repository) ListJobs(ctx context.Context, companyID string) ([]crawler.Job, error) {
	rows, err := r.db.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE company_id = $1 ORDER BY created_at, id`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []crawler.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

const ruleColumns = `id, company_id, site_pattern, rule_type, selectors, confidence_score, success_rate,
last_verified, is_active, created_at, updated_at`

func scanRule(row pgx.Row) (crawler.ExtractionRule, error) {
	var (
		rule        crawler.ExtractionRule
		companyID   *string
		sitePattern *string
		ruleType    string
		selectors   []byte
	)
	err := row.Scan(&rule.ID, &companyID, &sitePattern, &ruleType, &selectors, &rule.ConfidenceScore,
		&rule.SuccessRate, &rule.LastVerified, &rule.IsActive, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return crawler.ExtractionRule{}, err
	}
	rule.CompanyID = deref(companyID)
	rule.SitePattern = deref(sitePattern)
	rule.Type = crawler.RuleType(ruleType)
	if err := json.Unmarshal(selectors, &rule.Selectors); err != nil {
		return crawler.ExtractionRule{}, fmt.Errorf("decode selectors: %w", err)
	}
	return rule, nil
}

func (r *Repository) queryRules(ctx context.Context, where string, args ...any) ([]crawler.ExtractionRule, error) {
	rows, err := r.db.Query(ctx, `SELECT `+ruleColumns+` FROM extraction_rules WHERE `+where+
		` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()
	var out []crawler.ExtractionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return out, nil
}

// GetActiveRule returns the newest active rule of ruleType for the company.
func (r *Repository) GetActiveRule(
	ctx context.Context,
	companyID string,
	ruleType crawler.RuleType,
) (crawler.ExtractionRule, error) {
	rule, err := scanRule(r.db.QueryRow(ctx, `SELECT `+ruleColumns+` FROM extraction_rules
WHERE company_id = $1 AND rule_type = $2 AND is_active
ORDER BY created_at DESC, id DESC LIMIT 1`, companyID, string(ruleType)))
	if err != nil {
		return crawler.ExtractionRule{}, fmt.Errorf("get active rule: %w", notFound(err))
	}
	return rule, nil
}

// ListActiveRules returns the company's active rules, newest first.
func (r *Repository) ListActiveRules(ctx context.Context, companyID string) ([]crawler.ExtractionRule, error) {
	return r.queryRules(ctx, `company_id = $1 AND is_active`, companyID)
}

// ListRules returns every rule of the company, newest first.
func (r *Repository) ListRules(ctx context.Context, companyID string) ([]crawler.ExtractionRule, error) {
	return r.queryRules(ctx, `company_id = $1`, companyID)
}

// ListExpiredRules returns inactive rules last verified before cutoff.
func (r *Repository) ListExpiredRules(ctx context.Context, cutoff time.Time) ([]crawler.ExtractionRule, error) {
	return r.queryRules(ctx, `NOT is_active AND last_verified < $1`, cutoff)
}

// SaveRule inserts rule, or updates it in place when its id exists.
func (r *Repository) SaveRule(ctx context.Context, rule crawler.ExtractionRule) error {
	if rule.ID == "" {
		id, err := r.newID()
		if err != nil {
			return err
		}
		rule.ID = id
	}
	selectors, err := json.Marshal(rule.Selectors)
	if err != nil {
		return fmt.Errorf("encode selectors: %w", err)
	}
	query := `
INSERT INTO extraction_rules (id, company_id, site_pattern, rule_type, selectors, confidence_score,
                              success_rate, last_verified, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
ON CONFLICT (id) DO UPDATE SET
    site_pattern = EXCLUDED.site_pattern,
    rule_type = EXCLUDED.rule_type,
    selectors = EXCLUDED.selectors,
    confidence_score = EXCLUDED.confidence_score,
    success_rate = EXCLUDED.success_rate,
    last_verified = EXCLUDED.last_verified,
    is_active = EXCLUDED.is_active,
    updated_at = EXCLUDED.updated_at`
	_, err = r.db.Exec(ctx, query,
		rule.ID, nullable(rule.CompanyID), nullable(rule.SitePattern), string(rule.Type), selectors,
		crawler.Clamp01(rule.ConfidenceScore), crawler.Clamp01(rule.SuccessRate), rule.LastVerified,
		rule.IsActive, r.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("save rule %s: %w", rule.ID, err)
	}
	return nil
}

// DeactivateRules clears is_active on the given rules.
func (r *Repository) DeactivateRules(ctx context.Context, ruleIDs []string) error {
	if len(ruleIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `UPDATE extraction_rules SET is_active = FALSE, updated_at = $2 WHERE id = ANY($1)`,
		ruleIDs, r.clock.Now())
	if err != nil {
		return fmt.Errorf("deactivate rules: %w", err)
	}
	return nil
}

// DeleteRule removes a rule permanently.
func (r *Repository) DeleteRule(ctx context.Context, ruleID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM extraction_rules WHERE id = $1`, ruleID)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", ruleID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete rule %s: %w", ruleID, crawler.ErrNotFound)
	}
	return nil
}
