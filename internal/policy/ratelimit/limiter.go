// Package ratelimit implements the outbound request limiter shared by every worker.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/careers-crawler/internal/metrics"
)

// Limiter enforces one global token bucket and, optionally, a bucket per host.
type Limiter struct {
	global *rate.Limiter

	mu        sync.Mutex
	hosts     map[string]*rate.Limiter
	hostRate  rate.Limit
	hostBurst int
}

// Config holds rate limiter configuration.
type Config struct {
	// RequestsPerSecond is the global budget across all workers. <= 0 disables it.
	RequestsPerSecond float64
	Burst             int
	// PerHostRPS adds a per-host bucket on top of the global one. <= 0 disables it.
	PerHostRPS   float64
	PerHostBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	return &Limiter{
		global:    rate.NewLimiter(limitFor(cfg.RequestsPerSecond), burstFor(cfg.Burst)),
		hosts:     make(map[string]*rate.Limiter),
		hostRate:  limitFor(cfg.PerHostRPS),
		hostBurst: burstFor(cfg.PerHostBurst),
	}
}

func limitFor(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

func burstFor(b int) int {
	if b <= 0 {
		return 1
	}
	return b
}

// Wait blocks until both the global and the host bucket grant a token, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if err := l.wait(ctx, "global", l.global); err != nil {
		return err
	}
	if l.hostRate == rate.Inf {
		return nil
	}
	return l.wait(ctx, "host", l.hostLimiter(hostOf(rawURL)))
}

func (l *Limiter) hostLimiter(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.hosts[host]
	if !ok {
		limiter = rate.NewLimiter(l.hostRate, l.hostBurst)
		l.hosts[host] = limiter
	}
	return limiter
}

func (l *Limiter) wait(ctx context.Context, scope string, limiter *rate.Limiter) error {
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate grants are not interesting; only record real delays.
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(scope, d)
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
