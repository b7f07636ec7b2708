package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitEnforcesHostRate(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1: the second request waits ~100ms.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://www.haeundae.go.kr/board/list.do"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://www.haeundae.go.kr/board/view.do?idx=1"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestWaitHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://www.haeundae.go.kr/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://www.bukgu.busan.kr/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitDisabledWithoutRate(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(ctx, "https://www.saha.go.kr/1"))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Wait(ctx, "https://www.yeonje.go.kr/1"))
	require.Error(t, l.Wait(ctx, "https://www.yeonje.go.kr/1"))
}
