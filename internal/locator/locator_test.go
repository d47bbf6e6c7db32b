package locator

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
)

type probeCall struct {
	method  string
	url     string
	timeout time.Duration
}

type fakeProber struct {
	status map[string]int
	errs   map[string]error
	calls  []probeCall
}

func (p *fakeProber) Probe(_ context.Context, method, url string, timeout time.Duration) (int, error) {
	p.calls = append(p.calls, probeCall{method: method, url: url, timeout: timeout})
	if err := p.errs[url]; err != nil {
		return 0, err
	}
	if code, ok := p.status[url]; ok {
		return code, nil
	}
	return http.StatusNotFound, nil
}

type fakeOracle struct {
	suggestions []string
	err         error
	calls       int
	domain      string
}

func (o *fakeOracle) GenerateRule(context.Context, crawler.RuleRequest) (crawler.Rule, error) {
	return crawler.Rule{}, errors.New("unused")
}

func (o *fakeOracle) SuggestCareersURLs(_ context.Context, _ string, domain string) ([]string, error) {
	o.calls++
	o.domain = domain
	return o.suggestions, o.err
}

func TestLocateConventionalFirstHitWins(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{status: map[string]int{
		"https://acme.com/careers": http.StatusOK,
		"https://acme.com/jobs":    http.StatusOK,
	}}
	oracle := &fakeOracle{}
	loc := New(Config{}, prober, oracle, nil)

	res := loc.Locate(context.Background(), "Acme", "acme.com")
	assert.Equal(t, "https://acme.com/careers", res.URL)
	assert.Equal(t, SourceConventional, res.Source)
	require.Len(t, prober.calls, 1)
	assert.Equal(t, http.MethodGet, prober.calls[0].method)
	assert.Equal(t, 10*time.Second, prober.calls[0].timeout)
	assert.Zero(t, oracle.calls)
}

func TestLocateTriesPathsInOrder(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{
		status: map[string]int{
			"https://acme.com/careers":       http.StatusMovedPermanently,
			"https://acme.com/work-with-us": http.StatusOK,
		},
		errs: map[string]error{"https://acme.com/jobs": errors.New("timeout")},
	}
	loc := New(Config{}, prober, nil, nil)

	res := loc.Locate(context.Background(), "Acme", "https://Acme.com/")
	require.True(t, res.Found())
	assert.Equal(t, "https://acme.com/work-with-us", res.URL)
	require.Len(t, res.Probes, 3)
	assert.Equal(t, "timeout", res.Probes[1].Err)
	assert.Equal(t, http.StatusMovedPermanently, res.Probes[0].Status)
}

func TestLocateFallsBackToOracle(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{status: map[string]int{"https://jobs.example.org/acme": http.StatusOK}}
	oracle := &fakeOracle{suggestions: []string{
		"https://acme.com/about",
		"https://jobs.example.org/acme",
		"https://acme.com/never-tried",
	}}
	loc := New(Config{}, prober, oracle, nil)

	res := loc.Locate(context.Background(), "Acme", "acme.com")
	assert.Equal(t, "https://jobs.example.org/acme", res.URL)
	assert.Equal(t, SourceOracle, res.Source)
	assert.Equal(t, "acme.com", oracle.domain)

	var heads []string
	for _, c := range prober.calls {
		if c.method == http.MethodHead {
			heads = append(heads, c.url)
			assert.Equal(t, 5*time.Second, c.timeout)
		}
	}
	assert.Equal(t, []string{"https://acme.com/about", "https://jobs.example.org/acme"}, heads)
}

func TestLocateProbesAtMostThreeSuggestions(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{}
	oracle := &fakeOracle{suggestions: []string{"https://a", "https://b", "https://c", "https://d", "https://e"}}
	loc := New(Config{}, prober, oracle, nil)

	res := loc.Locate(context.Background(), "Acme", "")
	assert.False(t, res.Found())
	require.Len(t, prober.calls, 3, "empty domain skips conventional paths")
	assert.Equal(t, "https://c", prober.calls[2].url)
}

func TestLocateOracleFailureIsNotAnError(t *testing.T) {
	t.Parallel()

	loc := New(Config{}, &fakeProber{}, &fakeOracle{err: errors.New("upstream")}, nil)
	res := loc.Locate(context.Background(), "Acme", "acme.com")
	assert.False(t, res.Found())
	assert.Len(t, res.Probes, len(DefaultPaths))
}

func TestNormalizeDomain(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"acme.com":                "acme.com",
		" https://ACME.com/ ":     "acme.com",
		"http://acme.com/careers": "acme.com",
		"":                        "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeDomain(in), in)
	}
}
