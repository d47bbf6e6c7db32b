// Package runner executes one (company, mode) unit of work: it resolves the
// company, runs the crawl pipeline, commits the mode's mutations in a single
// transaction and completes the unit's crawl log.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
	"github.com/JakeFAU/careers-crawler/internal/jobs"
	"github.com/JakeFAU/careers-crawler/internal/lifecycle"
	"github.com/JakeFAU/careers-crawler/internal/metrics"
	"github.com/JakeFAU/careers-crawler/internal/pipeline"
	"github.com/JakeFAU/careers-crawler/internal/progress"
)

// Pipeline runs one crawl.
type Pipeline interface {
	Run(ctx context.Context, in pipeline.Input) pipeline.State
}

// Config controls what happens around a run.
type Config struct {
	// Topic receives every RunResult. Empty disables publishing.
	Topic string
	// ArchivePrefix is prepended to archived page paths.
	ArchivePrefix string
	ContentType   string
	// FinalizeTimeout bounds the writes that close a run once the caller's
	// context is gone: the transaction, the crawl log update, archive and publish.
	FinalizeTimeout time.Duration
}

const defaultFinalizeTimeout = 10 * time.Second

// Deps are the collaborators a Runner needs. Blobs, Publisher, Progress and
// Hasher are optional.
type Deps struct {
	Repo      crawler.Repository
	Pipeline  Pipeline
	Lifecycle *lifecycle.Manager
	Blobs     crawler.BlobStore
	Publisher crawler.Publisher
	Hasher    crawler.Hasher
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
	Progress  progress.Emitter
}

// Runner implements the job submission interface.
type Runner struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New constructs a Runner.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Runner, error) {
	if deps.Repo == nil || deps.Pipeline == nil || deps.Lifecycle == nil {
		return nil, errors.New("runner requires repository, pipeline and lifecycle manager")
	}
	if deps.IDs == nil || deps.Clock == nil {
		return nil, errors.New("runner requires id generator and clock")
	}
	if deps.Progress == nil {
		deps.Progress = progress.Nop{}
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = defaultFinalizeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, deps: deps, logger: logger}, nil
}

// Execute runs req to completion. Pipeline step failures are reported in the
// result's ErrorMessage and complete the crawl log as failed; persistence
// failures are returned as errors after the log is marked failed. Errors that
// a retry cannot fix satisfy errors.Is(err, crawler.ErrPermanent).
//
// Once a crawl log is open it is always completed, even when ctx is cancelled
// mid-run: the closing writes use a detached context bounded by FinalizeTimeout.
func (r *Runner) Execute(ctx context.Context, runID string, req crawler.RunRequest) (crawler.RunResult, error) {
	res := crawler.RunResult{CompanyID: req.CompanyID, CompanyName: req.CompanyName, Mode: req.Mode}
	if err := req.Validate(); err != nil {
		return res, crawler.Permanent(fmt.Errorf("invalid run request: %w", err))
	}
	if runID == "" {
		id, err := r.deps.IDs.NewID()
		if err != nil {
			return res, fmt.Errorf("generate run id: %w", err)
		}
		runID = id
	}

	company, err := r.resolveCompany(ctx, req)
	if err != nil {
		return res, err
	}
	res.CompanyID = company.ID
	res.CompanyName = company.Name
	logger := r.logger.With(
		zap.String("run_id", runID),
		zap.String("company_id", company.ID),
		zap.String("mode", string(req.Mode)),
	)

	logID, err := r.deps.IDs.NewID()
	if err != nil {
		return res, fmt.Errorf("generate crawl log id: %w", err)
	}
	started := r.deps.Clock.Now()
	if err := r.deps.Repo.AppendCrawlLog(ctx, crawler.CrawlLog{
		ID:        logID,
		CompanyID: company.ID,
		Type:      req.Mode.CrawlType(),
		Status:    crawler.RunStatusRunning,
		StartedAt: started,
	}); err != nil {
		return res, fmt.Errorf("create crawl log: %w", err)
	}
	res.LogID = logID
	r.emit(runID, company, req.Mode, progress.StageRunStart, "", "")

	if req.Mode != crawler.ModeDiscover && company.CareersURL == "" {
		err := crawler.Permanent(fmt.Errorf("no careers URL for company %s", company.Name))
		return r.fail(ctx, logger, runID, company, req.Mode, res, nil, err)
	}

	st := r.deps.Pipeline.Run(ctx, pipeline.Input{
		RunID:       runID,
		CompanyID:   company.ID,
		CompanyName: company.Name,
		Domain:      firstNonEmpty(company.Domain, req.Domain),
		KnownURL:    company.CareersURL,
		Mode:        req.Mode,
	})
	st.Mode = req.Mode
	res.CareersURL = st.CareersURL
	res.ConfidenceScore = st.Confidence
	res.ErrorMessage = st.ErrorMessage()
	res.JobsFound = len(st.Records)
	if st.Failed() {
		logger.Warn("pipeline finished with error",
			zap.String("step", string(crawler.KindOf(st.Err))),
			zap.Error(st.Err),
		)
	}

	var (
		counts   jobs.Counts
		decision lifecycle.Decision
	)
	fctx, cancel := r.finalizeContext(ctx)
	defer cancel()
	md := st.Metadata()
	err = r.deps.Repo.InTx(fctx, func(tx crawler.Repository) error {
		var txErr error
		counts, decision, txErr = r.apply(fctx, tx, company, st)
		if txErr != nil {
			return txErr
		}
		if decision.Outcome != "" {
			md["outcome"] = decision.Outcome
		}
		if decision.Rule != nil && decision.Rule.ID != "" {
			md["rule_id"] = decision.Rule.ID
		}
		status := crawler.RunStatusSuccess
		if st.Failed() {
			status = crawler.RunStatusFailed
		}
		found := len(st.Records)
		if req.Mode == crawler.ModeExtract {
			found = counts.Found
		}
		return tx.UpdateCrawlLog(fctx, logID, crawler.CrawlLogUpdate{
			Status:       status,
			CompletedAt:  r.deps.Clock.Now(),
			JobsFound:    found,
			JobsNew:      counts.New,
			JobsUpdated:  counts.Updated,
			ErrorMessage: st.ErrorMessage(),
			Metadata:     md,
		})
	})
	if err != nil {
		return r.fail(ctx, logger, runID, company, req.Mode, res, md, err)
	}

	if req.Mode == crawler.ModeExtract {
		res.JobsFound = counts.Found
		res.JobsNew = counts.New
		res.JobsUpdated = counts.Updated
		metrics.ObserveJobsUpserted(counts.New, counts.Updated)
	}
	res.Outcome = decision.Outcome

	status := crawler.RunStatusSuccess
	stage := progress.StageRunDone
	if st.Failed() {
		status = crawler.RunStatusFailed
		stage = progress.StageRunError
	}
	metrics.ObserveRun(string(req.Mode), string(status), st.Confidence)

	res.ArchiveURI = r.archive(fctx, logger, company.ID, st.HTML)
	r.publish(fctx, logger, res)
	r.emit(runID, company, req.Mode, stage, string(status), res.ErrorMessage)

	logger.Info("run completed",
		zap.String("status", string(status)),
		zap.Int("jobs_found", res.JobsFound),
		zap.Int("jobs_new", res.JobsNew),
		zap.Int("jobs_updated", res.JobsUpdated),
		zap.Float64("confidence", res.ConfidenceScore),
		zap.String("outcome", res.Outcome),
	)
	return res, nil
}

func (r *Runner) resolveCompany(ctx context.Context, req crawler.RunRequest) (crawler.Company, error) {
	if req.CompanyID != "" {
		company, err := r.deps.Repo.GetCompany(ctx, req.CompanyID)
		if errors.Is(err, crawler.ErrNotFound) {
			return crawler.Company{}, crawler.Permanent(fmt.Errorf("load company %s: %w", req.CompanyID, err))
		}
		if err != nil {
			return crawler.Company{}, fmt.Errorf("load company %s: %w", req.CompanyID, err)
		}
		return company, nil
	}
	company, err := r.deps.Repo.GetOrCreateCompany(ctx, strings.TrimSpace(req.CompanyName), strings.TrimSpace(req.Domain))
	if err != nil {
		return crawler.Company{}, fmt.Errorf("get or create company %q: %w", req.CompanyName, err)
	}
	return company, nil
}

// apply performs the mode's mutations against the transactional view.
func (r *Runner) apply(ctx context.Context, tx crawler.Repository, company crawler.Company, st pipeline.State) (jobs.Counts, lifecycle.Decision, error) {
	now := r.deps.Clock.Now()
	upd := crawler.CompanyUpdate{RuleCache: st.RuleSnapshot()}
	var (
		counts   jobs.Counts
		decision lifecycle.Decision
		err      error
	)
	outcome := lifecycle.RunOutcome{
		CareersURL:    firstNonEmpty(st.CareersURL, company.CareersURL),
		Rule:          st.Rule,
		Confidence:    st.Confidence,
		JobsExtracted: len(st.Records),
	}

	switch st.Mode {
	case crawler.ModeDiscover:
		if st.CareersURL != "" {
			url := st.CareersURL
			upd.CareersURL = &url
			upd.LastCrawled = &now
		}
	case crawler.ModeExtract:
		counts, err = jobs.Upsert(ctx, tx, company.ID, st.Records)
		if err != nil {
			return counts, decision, err
		}
		upd.RuleCache = nil
		upd.LastCrawled = &now
	case crawler.ModeVerify:
		decision, err = r.deps.Lifecycle.Verify(ctx, tx, company.ID, outcome)
		if err != nil {
			return counts, decision, err
		}
		upd.LastCrawled = &now
	case crawler.ModeImprove:
		decision, err = r.deps.Lifecycle.Improve(ctx, tx, company.ID, outcome)
		if err != nil {
			return counts, decision, err
		}
		if decision.Outcome != lifecycle.OutcomeImproved {
			upd.RuleCache = nil
		}
	}

	if upd.CareersURL == nil && upd.RuleCache == nil && upd.LastCrawled == nil {
		return counts, decision, nil
	}
	if err := tx.UpdateCompany(ctx, company.ID, upd); err != nil {
		return counts, decision, fmt.Errorf("update company: %w", err)
	}
	return counts, decision, nil
}

// fail marks the crawl log failed outside any transaction and reports err.
func (r *Runner) fail(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	company crawler.Company,
	mode crawler.Mode,
	res crawler.RunResult,
	md map[string]any,
	cause error,
) (crawler.RunResult, error) {
	res.ErrorMessage = cause.Error()
	res.JobsNew, res.JobsUpdated = 0, 0
	logger.Error("run failed", zap.Error(cause))
	fctx, cancel := r.finalizeContext(ctx)
	defer cancel()
	if err := r.deps.Repo.UpdateCrawlLog(fctx, res.LogID, crawler.CrawlLogUpdate{
		Status:       crawler.RunStatusFailed,
		CompletedAt:  r.deps.Clock.Now(),
		ErrorMessage: cause.Error(),
		Metadata:     md,
	}); err != nil {
		logger.Error("mark crawl log failed", zap.String("crawl_log_id", res.LogID), zap.Error(err))
	}
	metrics.ObserveRun(string(mode), string(crawler.RunStatusFailed), 0)
	r.emit(runID, company, mode, progress.StageRunError, string(crawler.RunStatusFailed), cause.Error())
	return res, cause
}

// finalizeContext keeps ctx's values but not its cancellation.
func (r *Runner) finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.cfg.FinalizeTimeout)
}

func (r *Runner) archive(ctx context.Context, logger *zap.Logger, companyID string, html []byte) string {
	if r.deps.Blobs == nil || r.deps.Hasher == nil || len(html) == 0 {
		return ""
	}
	hash, err := r.deps.Hasher.Hash(html)
	if err != nil {
		logger.Warn("hash page for archive", zap.Error(err))
		return ""
	}
	uri, err := r.deps.Blobs.PutObject(ctx, r.archivePath(companyID, hash), r.cfg.ContentType, html)
	if err != nil {
		logger.Warn("archive page failed", zap.Error(err))
		return ""
	}
	return uri
}

func (r *Runner) archivePath(companyID, hash string) string {
	prefix := strings.Trim(r.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", companyID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, companyID, hash)
}

func (r *Runner) publish(ctx context.Context, logger *zap.Logger, res crawler.RunResult) {
	if r.cfg.Topic == "" || r.deps.Publisher == nil {
		return
	}
	if _, err := r.deps.Publisher.Publish(ctx, r.cfg.Topic, res); err != nil {
		logger.Error("publish run result", zap.String("topic", r.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("run result published", zap.String("topic", r.cfg.Topic))
}

func (r *Runner) emit(runID string, company crawler.Company, mode crawler.Mode, stage progress.Stage, outcome, note string) {
	r.deps.Progress.Emit(progress.Event{
		RunID:     runID,
		TS:        r.deps.Clock.Now(),
		Stage:     stage,
		Company:   company.Name,
		CompanyID: company.ID,
		Mode:      string(mode),
		Outcome:   outcome,
		Note:      note,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
