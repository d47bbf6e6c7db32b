// Package postgres implements the crawler repository on Postgres via pgx.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/careers-crawler/internal/clock/system"
	"github.com/JakeFAU/careers-crawler/internal/crawler"
	"github.com/JakeFAU/careers-crawler/internal/id/uuid"
)

//go:embed schema.sql
var schemaSQL string

// Schema returns the DDL applied by Migrate.
func Schema() string { return schemaSQL }

// DB is the subset of pgxpool.Pool and pgx.Tx the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Repository implements crawler.Repository.
type Repository struct {
	db    DB
	close func()
	ids   crawler.IDGenerator
	clock crawler.Clock
}

// New connects a pool and returns a Repository that owns it.
func New(ctx context.Context, cfg Config, ids crawler.IDGenerator, clock crawler.Clock) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	repo := NewWithDB(pool, ids, clock)
	repo.close = pool.Close
	return repo, nil
}

// NewWithDB wraps an existing pool or transaction (primarily for testing).
func NewWithDB(db DB, ids crawler.IDGenerator, clock crawler.Clock) *Repository {
	if ids == nil {
		ids = uuid.NewUUIDGenerator()
	}
	if clock == nil {
		clock = system.New()
	}
	return &Repository{db: db, ids: ids, clock: clock}
}

// Close releases the pool when the repository owns one.
func (r *Repository) Close() {
	if r != nil && r.close != nil {
		r.close()
	}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	var one int
	if err := r.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// InTx runs fn inside a database transaction, committing only when fn succeeds.
func (r *Repository) InTx(ctx context.Context, fn func(crawler.Repository) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&Repository{db: tx, ids: r.ids, clock: r.clock}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *Repository) newID() (string, error) {
	id, err := r.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.ErrNotFound
	}
	return err
}

const companyColumns = `id, name, domain, careers_url, extraction_rules, last_crawled, is_active, created_at, updated_at`

func scanCompany(row pgx.Row) (crawler.Company, error) {
	var (
		c          crawler.Company
		domain     *string
		careersURL *string
		rules      []byte
	)
	if err := row.Scan(&c.ID, &c.Name, &domain, &careersURL, &rules, &c.LastCrawled, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return crawler.Company{}, err
	}
	c.Domain = deref(domain)
	c.CareersURL = deref(careersURL)
	if len(rules) > 0 {
		var snap crawler.RuleSnapshot
		if err := json.Unmarshal(rules, &snap); err != nil {
			return crawler.Company{}, fmt.Errorf("decode extraction_rules: %w", err)
		}
		c.RuleCache = &snap
	}
	return c, nil
}

func collectCompanies(rows pgx.Rows) ([]crawler.Company, error) {
	defer rows.Close()
	var out []crawler.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate companies: %w", err)
	}
	return out, nil
}

// GetOrCreateCompany inserts the company or returns the existing row with that name.
func (r *Repository) GetOrCreateCompany(ctx context.Context, name, domain string) (crawler.Company, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return crawler.Company{}, fmt.Errorf("company name is required")
	}
	id, err := r.newID()
	if err != nil {
		return crawler.Company{}, err
	}
	now := r.clock.Now()
	query := `
INSERT INTO companies (id, name, domain, is_active, created_at, updated_at)
VALUES ($1, $2, $3, TRUE, $4, $4)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING ` + companyColumns
	c, err := scanCompany(r.db.QueryRow(ctx, query, id, name, nullable(domain), now))
	if err != nil {
		return crawler.Company{}, fmt.Errorf("get or create company: %w", err)
	}
	return c, nil
}

// GetCompany returns crawler.ErrNotFound for unknown ids.
func (r *Repository) GetCompany(ctx context.Context, id string) (crawler.Company, error) {
	c, err := scanCompany(r.db.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id))
	if err != nil {
		return crawler.Company{}, fmt.Errorf("get company %s: %w", id, notFound(err))
	}
	return c, nil
}

// UpdateCompany writes the non-nil fields of upd.
func (r *Repository) UpdateCompany(ctx context.Context, id string, upd crawler.CompanyUpdate) error {
	args := []any{id}
	var sets []string
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.CareersURL != nil {
		add("careers_url", nullable(*upd.CareersURL))
	}
	if upd.RuleCache != nil {
		raw, err := json.Marshal(upd.RuleCache)
		if err != nil {
			return fmt.Errorf("encode extraction_rules: %w", err)
		}
		add("extraction_rules", raw)
	}
	if upd.LastCrawled != nil {
		add("last_crawled", *upd.LastCrawled)
	}
	add("updated_at", r.clock.Now())
	query := fmt.Sprintf("UPDATE companies SET %s WHERE id = $1", strings.Join(sets, ", "))
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update company %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update company %s: %w", id, crawler.ErrNotFound)
	}
	return nil
}

// ListActiveCompaniesWithCareersURL returns active companies with a careers page, by name.
func (r *Repository) ListActiveCompaniesWithCareersURL(ctx context.Context) ([]crawler.Company, error) {
	rows, err := r.db.Query(ctx, `SELECT `+companyColumns+` FROM companies
WHERE is_active AND careers_url IS NOT NULL AND careers_url <> ''
ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	return collectCompanies(rows)
}

// ListStaleCompanies returns never-crawled companies first, then the oldest crawls.
func (r *Repository) ListStaleCompanies(ctx context.Context, cutoff time.Time, limit int) ([]crawler.Company, error) {
	rows, err := r.db.Query(ctx, `SELECT `+companyColumns+` FROM companies
WHERE is_active AND careers_url IS NOT NULL AND careers_url <> ''
  AND (last_crawled IS NULL OR last_crawled < $1)
ORDER BY last_crawled ASC NULLS FIRST, name
LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale companies: %w", err)
	}
	return collectCompanies(rows)
}
