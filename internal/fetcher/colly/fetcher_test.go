package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
)

func newTestServer(t *testing.T) (*httptest.Server, *headerRecorder) {
	t.Helper()
	rec := &headerRecorder{}
	mux := http.NewServeMux()
	mux.HandleFunc("/careers", func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><div class='job'>Engineer</div></body></html>"))
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/careers", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/partial", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNonAuthoritativeInfo)
		_, _ = w.Write([]byte("<html></html>"))
	})
	mux.HandleFunc("/big", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 2048)))
	})
	mux.HandleFunc("/head-only", func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		if r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestFetchSendsBrowserHeaders(t *testing.T) {
	t.Parallel()

	srv, rec := newTestServer(t)
	f := New(Config{UserAgent: "Mozilla/5.0 test", Timeout: 2 * time.Second}, nil, nil)

	resp, err := f.Fetch(context.Background(), srv.URL+"/careers")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "Engineer")

	got := rec.last()
	require.Equal(t, "Mozilla/5.0 test", got.Get("User-Agent"))
	require.Equal(t, acceptHeader, got.Get("Accept"))
	require.Equal(t, acceptLanguageHeader, got.Get("Accept-Language"))
	require.Equal(t, acceptEncodingHeader, got.Get("Accept-Encoding"))
}

func TestFetchFollowsRedirects(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	f := New(Config{Timeout: 2 * time.Second}, nil, nil)

	resp, err := f.Fetch(context.Background(), srv.URL+"/moved")
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/careers", resp.URL)
}

func TestFetchRejectsNonSuccessAndOversize(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	f := New(Config{Timeout: 2 * time.Second, MaxBodyBytes: 1024}, nil, nil)

	_, err := f.Fetch(context.Background(), srv.URL+"/gone")
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")

	_, err = f.Fetch(context.Background(), srv.URL+"/big")
	require.ErrorIs(t, err, ErrBodyTooLarge)

	resp, err := f.Fetch(context.Background(), srv.URL+"/partial")
	require.NoError(t, err, "203 is still a 2xx")
	require.Equal(t, http.StatusNonAuthoritativeInfo, resp.StatusCode)
}

func TestFetchWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	w := &countingWaiter{}
	f := New(Config{Timeout: 2 * time.Second}, w, nil)

	_, err := f.Fetch(context.Background(), srv.URL+"/careers")
	require.NoError(t, err)
	_, err = f.Probe(context.Background(), http.MethodHead, srv.URL+"/head-only", time.Second)
	require.NoError(t, err)
	require.Equal(t, 2, w.calls)

	w.err = errors.New("limiter closed")
	_, err = f.Fetch(context.Background(), srv.URL+"/careers")
	require.ErrorContains(t, err, "limiter closed")
}

func TestProbeReportsRawStatus(t *testing.T) {
	t.Parallel()

	srv, rec := newTestServer(t)
	f := New(Config{Timeout: 2 * time.Second}, nil, nil)
	ctx := context.Background()

	status, err := f.Probe(ctx, http.MethodGet, srv.URL+"/careers", time.Second)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)

	status, err = f.Probe(ctx, http.MethodGet, srv.URL+"/gone", time.Second)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, status)

	status, err = f.Probe(ctx, http.MethodGet, srv.URL+"/moved", time.Second)
	require.NoError(t, err)
	require.Equal(t, http.StatusMovedPermanently, status, "probes must not follow redirects")

	status, err = f.Probe(ctx, http.MethodHead, srv.URL+"/head-only", time.Second)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, http.MethodHead, rec.lastMethod())

	// Redirects in probes must not leak into page fetches.
	resp, err := f.Fetch(ctx, srv.URL+"/moved")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProbeTransportError(t *testing.T) {
	t.Parallel()

	f := New(Config{Timeout: time.Second}, nil, nil)
	_, err := f.Probe(context.Background(), http.MethodGet, "http://127.0.0.1:1/careers", 500*time.Millisecond)
	require.Error(t, err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil, nil)
	start := time.Unix(0, 0)
	var result crawler.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, start, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, connectionHeader, collyReq.Headers.Get("Connection"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/jobs")},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type headerRecorder struct {
	mu      sync.Mutex
	headers http.Header
	method  string
}

func (h *headerRecorder) record(r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.headers = r.Header.Clone()
	h.method = r.Method
}

func (h *headerRecorder) last() http.Header {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.headers
}

func (h *headerRecorder) lastMethod() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.method
}

type countingWaiter struct {
	calls int
	err   error
}

func (w *countingWaiter) Wait(context.Context, string) error {
	w.calls++
	return w.err
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
