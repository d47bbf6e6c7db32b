package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
	"github.com/JakeFAU/careers-crawler/internal/extraction"
	"github.com/JakeFAU/careers-crawler/internal/locator"
	"github.com/JakeFAU/careers-crawler/internal/progress"
)

const defaultSampleBytes = 8000

// Locator resolves a careers URL for a company.
type Locator interface {
	Locate(ctx context.Context, companyName, domain string) locator.Result
}

// Config tunes the pipeline.
type Config struct {
	// SampleBytes caps the HTML sample sent to the oracle.
	SampleBytes int
}

type stepFunc func(ctx context.Context, st State) (State, error)

// Pipeline wires the collaborators each step needs. It is safe for
// concurrent runs; all per-run data lives in State.
type Pipeline struct {
	cfg      Config
	locator  Locator
	fetcher  crawler.Fetcher
	oracle   crawler.RuleOracle
	progress progress.Emitter
	clock    crawler.Clock
	logger   *zap.Logger
}

// New constructs a Pipeline. emitter, clock and logger may be nil.
func New(
	cfg Config,
	loc Locator,
	fetcher crawler.Fetcher,
	oracle crawler.RuleOracle,
	emitter progress.Emitter,
	clock crawler.Clock,
	logger *zap.Logger,
) *Pipeline {
	if cfg.SampleBytes <= 0 {
		cfg.SampleBytes = defaultSampleBytes
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if clock == nil {
		clock = wallClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:      cfg,
		locator:  loc,
		fetcher:  fetcher,
		oracle:   oracle,
		progress: emitter,
		clock:    clock,
		logger:   logger,
	}
}

// Run executes every step in order and always returns a final State. A
// failing step records the first error; later steps still run and no-op on
// missing inputs.
func (p *Pipeline) Run(ctx context.Context, in Input) State {
	st := State{
		RunID:       in.RunID,
		CompanyID:   in.CompanyID,
		CompanyName: in.CompanyName,
		Domain:      in.Domain,
		Mode:        in.Mode,
		CareersURL:  in.KnownURL,
	}
	steps := []struct {
		name Step
		fn   stepFunc
	}{
		{StepDiscover, p.discover},
		{StepFetch, p.fetch},
		{StepAnalyze, p.analyze},
		{StepGenerate, p.generate},
		{StepExtract, p.extract},
		{StepValidate, p.validate},
	}
	for _, s := range steps {
		st.Step = s.name
		start := p.clock.Now()
		next, err := runStep(ctx, s.fn, st)
		next.Step = s.name
		next.Err = st.Err
		outcome := progress.OutcomeOK
		if err != nil {
			if next.Err == nil {
				next.Err = err
				outcome = progress.OutcomeError
				p.logger.Warn("pipeline step failed",
					zap.String("run_id", st.RunID),
					zap.String("company", st.CompanyName),
					zap.String("step", string(s.name)),
					zap.Error(err))
			} else {
				outcome = progress.OutcomeSkipped
			}
		}
		st = next
		p.emit(st, s.name, outcome, p.clock.Now().Sub(start), err)
	}
	st.Step = StepDone
	return st
}

// runStep invokes fn, converting a panic into a step error so the run
// still produces a result.
func runStep(ctx context.Context, fn stepFunc, st State) (next State, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = st
			err = crawler.NewStepError(kindForStep(st.Step), fmt.Sprintf("%s panicked", st.Step), fmt.Errorf("%v", r))
		}
	}()
	return fn(ctx, st)
}

func kindForStep(step Step) crawler.ErrorKind {
	switch step {
	case StepDiscover:
		return crawler.KindDiscovery
	case StepFetch:
		return crawler.KindFetch
	case StepAnalyze:
		return crawler.KindAnalysis
	case StepGenerate:
		return crawler.KindOracle
	case StepExtract:
		return crawler.KindExtraction
	default:
		return crawler.KindValidation
	}
}

func (p *Pipeline) emit(st State, step Step, outcome string, dur time.Duration, err error) {
	evt := progress.Event{
		RunID:     st.RunID,
		TS:        p.clock.Now(),
		Stage:     progress.StageStep,
		Company:   st.CompanyName,
		CompanyID: st.CompanyID,
		Mode:      string(st.Mode),
		Step:      string(step),
		Outcome:   outcome,
		Dur:       dur,
	}
	if err != nil {
		evt.Note = err.Error()
	}
	p.progress.Emit(evt)
}

func (p *Pipeline) discover(ctx context.Context, st State) (State, error) {
	if st.CareersURL != "" || p.locator == nil {
		return st, nil
	}
	res := p.locator.Locate(ctx, st.CompanyName, st.Domain)
	st.Probes = res.Probes
	if res.Found() {
		st.CareersURL = res.URL
		st.DiscoverySource = res.Source
	}
	return st, nil
}

func (p *Pipeline) fetch(ctx context.Context, st State) (State, error) {
	if st.CareersURL == "" {
		return st, crawler.NewStepError(crawler.KindDiscovery, "no careers URL found", nil)
	}
	if p.fetcher == nil {
		return st, crawler.NewStepError(crawler.KindFetch, "fetch failed", errors.New("no fetcher configured"))
	}
	resp, err := p.fetcher.Fetch(ctx, st.CareersURL)
	if err != nil {
		return st, crawler.NewStepError(crawler.KindFetch, "fetch failed", err)
	}
	st.HTML = resp.Body
	st.StatusCode = resp.StatusCode
	st.FinalURL = resp.URL
	if st.FinalURL == "" {
		st.FinalURL = st.CareersURL
	}
	return st, nil
}

func (p *Pipeline) analyze(_ context.Context, st State) (State, error) {
	if len(st.HTML) == 0 {
		return st, crawler.NewStepError(crawler.KindAnalysis, "no HTML content to analyze", nil)
	}
	signals, err := extraction.Analyze(st.HTML)
	if err != nil {
		return st, crawler.NewStepError(crawler.KindAnalysis, "analysis failed", err)
	}
	st.Analysis = &signals
	return st, nil
}

func (p *Pipeline) generate(ctx context.Context, st State) (State, error) {
	if len(st.HTML) == 0 {
		return st, crawler.NewStepError(crawler.KindOracle, "no HTML content for rule generation", nil)
	}
	if p.oracle == nil {
		return st, crawler.NewStepError(crawler.KindOracle, "rule generation failed", errors.New("no oracle configured"))
	}
	sample, err := extraction.PrepareSample(st.HTML, p.cfg.SampleBytes)
	if err != nil {
		return st, crawler.NewStepError(crawler.KindOracle, "rule generation failed", err)
	}
	rule, err := p.oracle.GenerateRule(ctx, crawler.RuleRequest{
		CompanyName: st.CompanyName,
		URL:         st.baseURL(),
		HTMLSample:  sample,
	})
	if err != nil {
		return st, crawler.NewStepError(crawler.KindOracle, "rule generation failed", err)
	}
	rule.Confidence = crawler.Clamp01(rule.Confidence)
	st.Rule = &rule
	st.Confidence = rule.Confidence
	if bad := extraction.InvalidSelectors(rule.Selectors); len(bad) > 0 {
		p.logger.Info("oracle returned selectors that do not compile",
			zap.String("company", st.CompanyName), zap.Strings("selectors", bad))
	}
	return st, nil
}

func (p *Pipeline) extract(_ context.Context, st State) (State, error) {
	if st.Rule == nil || len(st.HTML) == 0 {
		return st, crawler.NewStepError(crawler.KindExtraction, "missing extraction rules or content", nil)
	}
	records, err := extraction.Extract(st.HTML, st.Rule.Selectors, st.baseURL())
	if err != nil {
		return st, crawler.NewStepError(crawler.KindExtraction, "extraction failed", err)
	}
	st.Records = records
	return st, nil
}

func (p *Pipeline) validate(_ context.Context, st State) (State, error) {
	if len(st.Records) == 0 {
		st.Records = nil
		st.Quality = 0
		st.Confidence = 0
		return st, crawler.NewStepError(crawler.KindValidation, "no jobs extracted", nil)
	}
	v := extraction.Validate(st.Records, st.Confidence)
	st.Records = v.Records
	st.Quality = v.Quality
	st.Confidence = v.Confidence
	return st, nil
}

func (s State) baseURL() string {
	if s.FinalURL != "" {
		return s.FinalURL
	}
	return s.CareersURL
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }
