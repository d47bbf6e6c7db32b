package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
	"github.com/JakeFAU/careers-crawler/internal/locator"
	"github.com/JakeFAU/careers-crawler/internal/progress"
)

const listingHTML = `<html><body>
<ul>
  <li class="job-card"><h3>Backend Engineer</h3><span class="loc">Berlin</span><a href="/jobs/1">Apply</a></li>
  <li class="job-card"><h3>Data Scientist</h3><span class="loc">Remote</span><a href="/jobs/2">Apply</a></li>
  <li class="job-card"><span class="loc">Nowhere</span></li>
</ul>
<a href="?page=2">Next</a>
</body></html>`

var listingRule = crawler.Rule{
	Selectors: crawler.Selectors{
		JobItem:  "li.job-card",
		Title:    "h3",
		Location: ".loc",
		Link:     "a",
	},
	Confidence: 0.9,
}

type fakeProber struct {
	mu     sync.Mutex
	status map[string]int
	calls  []string
}

func (p *fakeProber) Probe(_ context.Context, method, url string, _ time.Duration) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, method+" "+url)
	if code, ok := p.status[url]; ok {
		return code, nil
	}
	return http.StatusNotFound, nil
}

type fakeFetcher struct {
	body     string
	finalURL string
	err      error
	calls    []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (crawler.FetchResponse, error) {
	f.calls = append(f.calls, url)
	if f.err != nil {
		return crawler.FetchResponse{}, f.err
	}
	final := f.finalURL
	if final == "" {
		final = url
	}
	return crawler.FetchResponse{URL: final, StatusCode: http.StatusOK, Body: []byte(f.body)}, nil
}

type fakeOracle struct {
	rule        crawler.Rule
	err         error
	suggestions []string
	ruleReqs    []crawler.RuleRequest
	suggestionCalls int
}

func (o *fakeOracle) GenerateRule(_ context.Context, req crawler.RuleRequest) (crawler.Rule, error) {
	o.ruleReqs = append(o.ruleReqs, req)
	return o.rule, o.err
}

func (o *fakeOracle) SuggestCareersURLs(context.Context, string, string) ([]string, error) {
	o.suggestionCalls++
	return o.suggestions, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func newPipeline(prober *fakeProber, fetcher crawler.Fetcher, oracle *fakeOracle, emitter progress.Emitter) *Pipeline {
	loc := locator.New(locator.Config{}, prober, oracle, nil)
	return New(Config{SampleBytes: 4096}, loc, fetcher, oracle, emitter, nil, nil)
}

func TestRunHappyPath(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{status: map[string]int{"https://acme.com/careers": http.StatusOK}}
	fetcher := &fakeFetcher{body: listingHTML, finalURL: "https://acme.com/careers/"}
	oracle := &fakeOracle{rule: listingRule}
	emitter := &recordingEmitter{}
	p := newPipeline(prober, fetcher, oracle, emitter)

	st := p.Run(context.Background(), Input{RunID: "r1", CompanyName: "Acme", Domain: "acme.com", Mode: crawler.ModeExtract})

	require.NoError(t, st.Err)
	assert.Equal(t, StepDone, st.Step)
	assert.Equal(t, "https://acme.com/careers", st.CareersURL)
	assert.Equal(t, locator.SourceConventional, st.DiscoverySource)
	assert.Equal(t, []string{"GET https://acme.com/careers"}, prober.calls)

	require.Len(t, st.Records, 2)
	assert.Equal(t, "Backend Engineer", st.Records[0].Title)
	assert.Equal(t, "https://acme.com/jobs/1", st.Records[0].URL)
	assert.InDelta(t, 1.0, st.Quality, 1e-9)
	assert.InDelta(t, 0.9, st.Confidence, 1e-9)

	require.NotNil(t, st.Analysis)
	assert.True(t, st.Analysis.HasPagination)
	require.Len(t, oracle.ruleReqs, 1)
	assert.Equal(t, "https://acme.com/careers/", oracle.ruleReqs[0].URL)
	assert.NotContains(t, oracle.ruleReqs[0].HTMLSample, "<script")

	require.Len(t, emitter.events, 6)
	for i, want := range []Step{StepDiscover, StepFetch, StepAnalyze, StepGenerate, StepExtract, StepValidate} {
		assert.Equal(t, string(want), emitter.events[i].Step)
		assert.Equal(t, progress.OutcomeOK, emitter.events[i].Outcome)
		assert.Equal(t, "Acme", emitter.events[i].Company)
	}
}

func TestRunKnownURLSkipsDiscovery(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{}
	oracle := &fakeOracle{rule: listingRule}
	p := newPipeline(prober, &fakeFetcher{body: listingHTML}, oracle, nil)

	st := p.Run(context.Background(), Input{
		CompanyName: "Acme",
		Domain:      "acme.com",
		KnownURL:    "https://acme.com/join",
	})

	require.NoError(t, st.Err)
	assert.Empty(t, prober.calls)
	assert.Zero(t, oracle.suggestionCalls)
	assert.Equal(t, "https://acme.com/join", st.CareersURL)
}

func TestRunNoCareersURLContinuesWithoutOverwritingError(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{rule: listingRule}
	fetcher := &fakeFetcher{body: listingHTML}
	emitter := &recordingEmitter{}
	p := newPipeline(&fakeProber{}, fetcher, oracle, emitter)

	st := p.Run(context.Background(), Input{CompanyName: "Ghost", Domain: "ghost.example"})

	require.Error(t, st.Err)
	assert.Equal(t, crawler.KindDiscovery, crawler.KindOf(st.Err))
	assert.Equal(t, "no careers URL found", st.ErrorMessage())
	assert.Equal(t, StepDone, st.Step)
	assert.Empty(t, fetcher.calls)
	assert.Empty(t, oracle.ruleReqs)
	assert.Zero(t, st.Confidence)
	assert.Empty(t, st.Records)
	assert.Equal(t, 1, oracle.suggestionCalls)

	require.Len(t, emitter.events, 6, "every step still runs")
	assert.Equal(t, progress.OutcomeOK, emitter.events[0].Outcome)
	assert.Equal(t, progress.OutcomeError, emitter.events[1].Outcome)
	for _, evt := range emitter.events[2:] {
		assert.Equal(t, progress.OutcomeSkipped, evt.Outcome, evt.Step)
	}
}

func TestRunFetchFailure(t *testing.T) {
	t.Parallel()

	p := newPipeline(&fakeProber{}, &fakeFetcher{err: errors.New("status 503")}, &fakeOracle{rule: listingRule}, nil)
	st := p.Run(context.Background(), Input{CompanyName: "Acme", KnownURL: "https://acme.com/careers"})

	assert.Equal(t, crawler.KindFetch, crawler.KindOf(st.Err))
	assert.Equal(t, "fetch failed: status 503", st.ErrorMessage())
	assert.Nil(t, st.Analysis)
	assert.Nil(t, st.Rule)
}

func TestRunOracleFailureKeepsAnalysis(t *testing.T) {
	t.Parallel()

	p := newPipeline(&fakeProber{}, &fakeFetcher{body: listingHTML}, &fakeOracle{err: errors.New("no JSON object")}, nil)
	st := p.Run(context.Background(), Input{CompanyName: "Acme", KnownURL: "https://acme.com/careers"})

	assert.Equal(t, crawler.KindOracle, crawler.KindOf(st.Err))
	assert.True(t, strings.HasPrefix(st.ErrorMessage(), "rule generation failed"))
	require.NotNil(t, st.Analysis)
	snap := st.RuleSnapshot()
	require.NotNil(t, snap)
	assert.Nil(t, snap.Rule)
	assert.NotNil(t, snap.Analysis)
	assert.Zero(t, st.Confidence)
}

func TestRunZeroJobsForcesZeroConfidence(t *testing.T) {
	t.Parallel()

	rule := crawler.Rule{Selectors: crawler.Selectors{JobItem: "div.nothing", Title: "h3"}, Confidence: 0.95}
	p := newPipeline(&fakeProber{}, &fakeFetcher{body: listingHTML}, &fakeOracle{rule: rule}, nil)
	st := p.Run(context.Background(), Input{CompanyName: "Acme", KnownURL: "https://acme.com/careers"})

	assert.Equal(t, crawler.KindValidation, crawler.KindOf(st.Err))
	assert.Equal(t, "no jobs extracted", st.ErrorMessage())
	assert.Zero(t, st.Confidence)
	require.NotNil(t, st.Rule)
}

func TestRunInvalidSelectorsAreAbsentFields(t *testing.T) {
	t.Parallel()

	rule := listingRule
	rule.Location = "span[[["
	p := newPipeline(&fakeProber{}, &fakeFetcher{body: listingHTML}, &fakeOracle{rule: rule}, nil)
	st := p.Run(context.Background(), Input{CompanyName: "Acme", KnownURL: "https://acme.com/careers"})

	require.NoError(t, st.Err)
	require.Len(t, st.Records, 2)
	assert.Empty(t, st.Records[0].Location)
	// title 1.0*0.5 + location 0*0.3 + url 1.0*0.2
	assert.InDelta(t, 0.7, st.Quality, 1e-9)
	assert.InDelta(t, 0.63, st.Confidence, 1e-9)
}

func TestRunTenSixZeroScenario(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 10; i++ {
		loc := ""
		if i < 6 {
			loc = fmt.Sprintf(`<span class="loc">City %d</span>`, i)
		}
		fmt.Fprintf(&b, `<div class="opening"><h2>Role %d</h2>%s</div>`, i, loc)
	}
	b.WriteString("</body></html>")

	rule := crawler.Rule{Selectors: crawler.Selectors{JobItem: "div.opening", Title: "h2", Location: ".loc", Link: "a"}, Confidence: 0.8}
	p := newPipeline(&fakeProber{}, &fakeFetcher{body: b.String()}, &fakeOracle{rule: rule}, nil)
	st := p.Run(context.Background(), Input{CompanyName: "Acme", KnownURL: "https://acme.com/careers"})

	require.NoError(t, st.Err)
	require.Len(t, st.Records, 10)
	assert.InDelta(t, 0.68, st.Quality, 1e-9)
	assert.InDelta(t, 0.544, st.Confidence, 1e-9)
}

func TestRunRecoversPanickingStep(t *testing.T) {
	t.Parallel()

	p := newPipeline(&fakeProber{}, panicFetcher{}, &fakeOracle{rule: listingRule}, nil)
	st := p.Run(context.Background(), Input{CompanyName: "Acme", KnownURL: "https://acme.com/careers"})

	assert.Equal(t, crawler.KindFetch, crawler.KindOf(st.Err))
	assert.Contains(t, st.ErrorMessage(), "panicked")
	assert.Equal(t, StepDone, st.Step)
}

type panicFetcher struct{}

func (panicFetcher) Fetch(context.Context, string) (crawler.FetchResponse, error) {
	panic("boom")
}

func TestStateMetadata(t *testing.T) {
	t.Parallel()

	st := State{
		CareersURL: "https://acme.com/careers",
		Rule:       &listingRule,
		Confidence: 0.5,
		Step:       StepDone,
		Err:        crawler.NewStepError(crawler.KindValidation, "no jobs extracted", nil),
	}
	md := st.Metadata()
	assert.Equal(t, "https://acme.com/careers", md["careers_url"])
	assert.Equal(t, "validation", md["error_kind"])
	assert.Equal(t, listingRule.Selectors, md["rule"])
	assert.Equal(t, 0, md["jobs_found"])
}
