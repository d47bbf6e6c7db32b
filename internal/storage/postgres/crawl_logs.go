package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
)

func encodeMetadata(md map[string]any) ([]byte, error) {
	if md == nil {
		return nil, nil
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return raw, nil
}

// AppendCrawlLog stores a new crawl log row.
func (r *Repository) AppendCrawlLog(ctx context.Context, log crawler.CrawlLog) error {
	if log.ID == "" {
		id, err := r.newID()
		if err != nil {
			return err
		}
		log.ID = id
	}
	if log.StartedAt.IsZero() {
		log.StartedAt = r.clock.Now()
	}
	md, err := encodeMetadata(log.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
INSERT INTO crawl_logs (id, company_id, crawl_type, status, started_at, metadata)
VALUES ($1, $2, $3, $4, $5, $6)`,
		log.ID, nullable(log.CompanyID), string(log.Type), string(log.Status), log.StartedAt, md)
	if err != nil {
		return fmt.Errorf("append crawl log: %w", err)
	}
	return nil
}

// UpdateCrawlLog completes a running crawl log. Completed logs are never
// rewritten; updating one reports crawler.ErrNotFound.
func (r *Repository) UpdateCrawlLog(ctx context.Context, id string, upd crawler.CrawlLogUpdate) error {
	md, err := encodeMetadata(upd.Metadata)
	if err != nil {
		return err
	}
	errMsg := nullable(upd.ErrorMessage)
	if upd.Status == crawler.RunStatusSuccess {
		errMsg = nil
	}
	tag, err := r.db.Exec(ctx, `
UPDATE crawl_logs SET
    status = $2,
    completed_at = GREATEST($3, started_at),
    jobs_found = $4,
    jobs_new = $5,
    jobs_updated = $6,
    error_message = $7,
    metadata = COALESCE($8, metadata)
WHERE id = $1 AND completed_at IS NULL`,
		id, string(upd.Status), upd.CompletedAt, upd.JobsFound, upd.JobsNew, upd.JobsUpdated, errMsg, md)
	if err != nil {
		return fmt.Errorf("update crawl log %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update crawl log %s: %w", id, crawler.ErrNotFound)
	}
	return nil
}

const logColumns = `id, company_id, crawl_type, status, started_at, completed_at, jobs_found, jobs_new,
jobs_updated, error_message, metadata`

func scanLog(row pgx.Row) (crawler.CrawlLog, error) {
	var (
		log       crawler.CrawlLog
		companyID *string
		crawlType string
		status    string
		errMsg    *string
		md        []byte
	)
	err := row.Scan(&log.ID, &companyID, &crawlType, &status, &log.StartedAt, &log.CompletedAt,
		&log.JobsFound, &log.JobsNew, &log.JobsUpdated, &errMsg, &md)
	if err != nil {
		return crawler.CrawlLog{}, err
	}
	log.CompanyID = deref(companyID)
	log.Type = crawler.CrawlType(crawlType)
	log.Status = crawler.RunStatus(status)
	log.ErrorMessage = deref(errMsg)
	if len(md) > 0 {
		if err := json.Unmarshal(md, &log.Metadata); err != nil {
			return crawler.CrawlLog{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return log, nil
}

// GetCrawlLog returns a crawl log by id.
func (r *Repository) GetCrawlLog(ctx context.Context, id string) (crawler.CrawlLog, error) {
	log, err := scanLog(r.db.QueryRow(ctx, `SELECT `+logColumns+` FROM crawl_logs WHERE id = $1`, id))
	if err != nil {
		return crawler.CrawlLog{}, fmt.Errorf("get crawl log %s: %w", id, notFound(err))
	}
	return log, nil
}

// ListCrawlLogs returns the company's most recent logs first.
func (r *Repository) ListCrawlLogs(ctx context.Context, companyID string, limit int) ([]crawler.CrawlLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `SELECT `+logColumns+` FROM crawl_logs
WHERE company_id = $1 ORDER BY started_at DESC, id DESC LIMIT $2`, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list crawl logs: %w", err)
	}
	defer rows.Close()
	var out []crawler.CrawlLog
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crawl log: %w", err)
		}
		out = append(out, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawl logs: %w", err)
	}
	return out, nil
}

var _ crawler.Repository = (*Repository)(nil)
