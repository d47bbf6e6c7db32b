package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
	"github.com/JakeFAU/careers-crawler/internal/id/uuid"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
	readTimeout     = 3 * time.Second
)

// CompanyHandler exposes read-only company, job, rule and crawl log endpoints.
type CompanyHandler struct {
	repo    crawler.Repository
	timeout time.Duration
	logger  *zap.Logger
}

// NewCompanyHandler wires the repository and logger.
func NewCompanyHandler(repo crawler.Repository, logger *zap.Logger) *CompanyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompanyHandler{repo: repo, timeout: readTimeout, logger: logger}
}

// GetCompany handles GET /v1/companies/{company_id}. It returns
// {"company": {...}}, 400 for malformed ids, 404 for unknown companies, 503
// without a repository, or 500 otherwise.
func (h *CompanyHandler) GetCompany(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, id, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	company, err := h.repo.GetCompany(ctx, id)
	if err != nil {
		h.fail(w, "get company", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"company": company})
}

// ListJobs handles GET /v1/companies/{company_id}/jobs.
func (h *CompanyHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, id, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	if _, err := h.repo.GetCompany(ctx, id); err != nil {
		h.fail(w, "get company", err)
		return
	}
	jobs, err := h.repo.ListJobs(ctx, id)
	if err != nil {
		h.fail(w, "list jobs", err)
		return
	}
	if jobs == nil {
		jobs = []crawler.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// ListRules handles GET /v1/companies/{company_id}/rules. Inactive rule
// versions are included; pass ?active=true to restrict to active ones.
func (h *CompanyHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, id, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	activeOnly := false
	if raw := r.URL.Query().Get("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid active flag")
			return
		}
		activeOnly = v
	}
	var (
		rules []crawler.ExtractionRule
		err   error
	)
	if activeOnly {
		rules, err = h.repo.ListActiveRules(ctx, id)
	} else {
		rules, err = h.repo.ListRules(ctx, id)
	}
	if err != nil {
		h.fail(w, "list rules", err)
		return
	}
	if rules == nil {
		rules = []crawler.ExtractionRule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// ListLogs handles GET /v1/companies/{company_id}/logs?limit=.
func (h *CompanyHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultLogLimit, maxLogLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel, id, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	logs, err := h.repo.ListCrawlLogs(ctx, id, limit)
	if err != nil {
		h.fail(w, "list crawl logs", err)
		return
	}
	if logs == nil {
		logs = []crawler.CrawlLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (h *CompanyHandler) begin(w http.ResponseWriter, r *http.Request) (context.Context, context.CancelFunc, string, bool) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository unavailable")
		return nil, nil, "", false
	}
	id := chi.URLParam(r, "company_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "company_id is required")
		return nil, nil, "", false
	}
	if !uuid.Valid(id) {
		writeError(w, http.StatusBadRequest, "invalid company_id")
		return nil, nil, "", false
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	return ctx, cancel, id, true
}

func (h *CompanyHandler) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, crawler.ErrNotFound) {
		writeError(w, http.StatusNotFound, "company not found")
		return
	}
	h.logger.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limit := def
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	return limit, nil
}
