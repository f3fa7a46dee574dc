package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQuotaConsumeUntilLimit(t *testing.T) {
	ctx := context.Background()
	kv := newMemoryKV(0)
	now := time.Date(2026, 8, 30, 15, 0, 0, 0, time.UTC)
	repo := NewQuotaRepositoryWithClock(kv, 10, func() time.Time { return now })

	require.Equal(t, 10, repo.Remaining(ctx, "s1"))
	for i := 0; i < 10; i++ {
		require.True(t, repo.CanConsume(ctx, "s1"))
		repo.Consume(ctx, "s1")
	}
	require.False(t, repo.CanConsume(ctx, "s1"))
	require.Equal(t, 0, repo.Remaining(ctx, "s1"))
}

func TestQuotaLazyDailyRollover(t *testing.T) {
	ctx := context.Background()
	kv := newMemoryKV(0)
	now := time.Date(2026, 8, 30, 23, 50, 0, 0, time.UTC)
	repo := NewQuotaRepositoryWithClock(kv, 10, func() time.Time { return now })

	for i := 0; i < 10; i++ {
		repo.Consume(ctx, "s1")
	}
	require.False(t, repo.CanConsume(ctx, "s1"))

	// 跨过日期边界后，下一次访问自动归零，无需显式重置
	now = now.Add(20 * time.Minute)
	require.True(t, repo.CanConsume(ctx, "s1"))
	require.Equal(t, 10, repo.Remaining(ctx, "s1"))

	// 新的一天从零开始计数，旧记录被整体替换而非合并
	repo.Consume(ctx, "s1")
	require.Equal(t, 9, repo.Remaining(ctx, "s1"))
}

func TestQuotaToleratesCorruptRecord(t *testing.T) {
	ctx := context.Background()
	kv := newMemoryKV(0)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	repo := NewQuotaRepositoryWithClock(kv, 10, func() time.Time { return now })

	require.NoError(t, kv.SetItem(ctx, quotaKey("s1"), "{broken"))
	require.True(t, repo.CanConsume(ctx, "s1"))
	repo.Consume(ctx, "s1")
	require.Equal(t, 9, repo.Remaining(ctx, "s1"))
}

func TestQuotaSessionsIndependent(t *testing.T) {
	ctx := context.Background()
	kv := newMemoryKV(0)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	repo := NewQuotaRepositoryWithClock(kv, 10, func() time.Time { return now })

	for i := 0; i < 10; i++ {
		repo.Consume(ctx, "s1")
	}
	require.False(t, repo.CanConsume(ctx, "s1"))
	require.True(t, repo.CanConsume(ctx, "s2"))
}
