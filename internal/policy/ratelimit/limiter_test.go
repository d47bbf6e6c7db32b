package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterGlobalBudgetSpansHosts(t *testing.T) {
	t.Parallel()

	// 10 RPS = one token every 100ms, shared across hosts.
	l := New(Config{RequestsPerSecond: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.com/careers"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.com/jobs"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond, "second host should share the global bucket")
}

func TestLimiterUnlimitedWhenRateUnset(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://acme.com"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterPerHostBuckets(t *testing.T) {
	t.Parallel()

	l := New(Config{PerHostRPS: 1, PerHostBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.com/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.com/1"))
	require.Less(t, time.Since(start), 20*time.Millisecond, "host b must not wait on host a")
}

func TestLimiterHonoursContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RequestsPerSecond: 0.01, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://a.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://a.com")
	require.Error(t, err)
}
