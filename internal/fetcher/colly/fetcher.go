// Package collyfetcher implements page fetching and existence probes using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
	"github.com/JakeFAU/careers-crawler/internal/metrics"
)

// Browser-like request headers sent with every page fetch.
const (
	acceptHeader         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptLanguageHeader = "en-US,en;q=0.5"
	// colly transparently inflates gzip only, so deflate is not advertised.
	acceptEncodingHeader = "gzip"
	connectionHeader     = "keep-alive"

	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 10 << 20
	probeMaxBodyBytes   = 64 << 10
)

// ErrBodyTooLarge is returned when a page exceeds the configured size cap.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodyBytes  int
}

// Waiter gates outbound requests; *ratelimit.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher implements crawler.Fetcher and crawler.Prober using the Colly collector.
type Fetcher struct {
	cfg            Config
	limiter        Waiter
	logger         *zap.Logger
	baseCollector  *colly.Collector
	probeCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Waiter, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// Clones share their parent's HTTP backend, so timeouts and redirect
	// policy are fixed here once per base collector, never per request.
	page := newCollector(cfg)
	page.SetRequestTimeout(cfg.Timeout)

	probe := newCollector(cfg)
	probe.SetRequestTimeout(cfg.Timeout)
	probe.MaxBodySize = probeMaxBodyBytes
	probe.SetRedirectHandler(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	})

	return &Fetcher{
		cfg:            cfg,
		limiter:        limiter,
		logger:         logger,
		baseCollector:  page,
		probeCollector: probe,
	}
}

func newCollector(cfg Config) *colly.Collector {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	// Status handling happens in OnResponse so every code is observed.
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return c
}

// Fetch issues a GET with browser headers, following redirects. Any non-2xx
// status, oversize body, transport error or timeout is returned as an error.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.FetchResponse, error) {
	if err := f.wait(ctx, url); err != nil {
		return crawler.FetchResponse{}, err
	}
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.baseCollector.Clone()
	// One extra byte distinguishes "exactly at the cap" from "truncated".
	collector.MaxBodySize = f.cfg.MaxBodyBytes + 1
	f.configureCollectorHooks(collector, start, &result, &fetchErr)

	err := runCollector(ctx, collector, func() error { return collector.Visit(url) }, &fetchErr)
	if err == nil {
		err = f.checkPage(result)
	}
	if err != nil {
		metrics.ObserveFetch(url, "page", "error", 0)
		f.logger.Debug("page fetch failed", zap.String("url", url), zap.Error(err))
		return crawler.FetchResponse{}, err
	}
	metrics.ObserveFetch(url, "page", "ok", len(result.Body))
	f.logger.Debug("page fetched",
		zap.String("url", url),
		zap.String("final_url", result.URL),
		zap.Int("status", result.StatusCode),
		zap.Int("bytes", len(result.Body)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (f *Fetcher) checkPage(result crawler.FetchResponse) error {
	if result.StatusCode < 200 || result.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d for %s", result.StatusCode, result.URL)
	}
	if len(result.Body) > f.cfg.MaxBodyBytes {
		return fmt.Errorf("%s: %w (%d bytes)", result.URL, ErrBodyTooLarge, f.cfg.MaxBodyBytes)
	}
	return nil
}

// Probe performs a cheap existence check with the given method (GET or HEAD)
// and returns the raw status code. Redirects are not followed.
func (f *Fetcher) Probe(ctx context.Context, method, url string, timeout time.Duration) (int, error) {
	if err := f.wait(ctx, url); err != nil {
		return 0, err
	}
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	if timeout <= 0 || timeout > f.cfg.Timeout {
		timeout = f.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	collector := f.probeCollector.Clone()
	collector.OnResponse(func(r *colly.Response) {
		result.StatusCode = r.StatusCode
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	visit := func() error { return collector.Visit(url) }
	if strings.EqualFold(method, http.MethodHead) {
		visit = func() error { return collector.Head(url) }
	}
	if err := runCollector(ctx, collector, visit, &fetchErr); err != nil {
		metrics.ObserveFetch(url, "probe", "error", 0)
		return 0, err
	}
	metrics.ObserveFetch(url, "probe", fmt.Sprintf("%dxx", result.StatusCode/100), 0)
	return result.StatusCode, nil
}

func (f *Fetcher) wait(ctx context.Context, url string) error {
	if f.limiter == nil {
		return nil
	}
	if err := f.limiter.Wait(ctx, url); err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	return nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		setBrowserHeaders(r.Headers)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func setBrowserHeaders(h *http.Header) {
	if h == nil {
		return
	}
	h.Set("Accept", acceptHeader)
	h.Set("Accept-Language", acceptLanguageHeader)
	h.Set("Accept-Encoding", acceptEncodingHeader)
	h.Set("Connection", connectionHeader)
}

func runCollector(ctx context.Context, collector *colly.Collector, visit func() error, fetchErr *error) error {
	collector.Context = ctx
	done := make(chan error, 1)
	go func() {
		done <- visit()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
