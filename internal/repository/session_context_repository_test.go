package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextExtractsRegionCodedCity(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionContextRepository(newMemoryKV(0))

	repo.Update(ctx, "s1", "What's the weather in St. Louis, MO today?")

	city, ok := repo.Get(ctx, "s1", ContextKeyLastCity)
	require.True(t, ok)
	require.Equal(t, "St. Louis, MO", city)
}

func TestContextPronounReferenceLeavesValueUnchanged(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionContextRepository(newMemoryKV(0))

	repo.Update(ctx, "s1", "I will travel in Seattle next month")
	repo.Update(ctx, "s1", "tell me about that city")

	city, ok := repo.Get(ctx, "s1", ContextKeyLastCity)
	require.True(t, ok)
	require.Equal(t, "Seattle", city)
}

func TestContextLastMatchWins(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionContextRepository(newMemoryKV(0))

	repo.Update(ctx, "s1", "We stopped in Denver before landing in Portland")

	city, ok := repo.Get(ctx, "s1", ContextKeyLastCity)
	require.True(t, ok)
	require.Equal(t, "Portland", city)
}

func TestContextRegionCodedFormPreferred(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionContextRepository(newMemoryKV(0))

	// 带区域码的匹配优先于更靠后的宽松匹配
	repo.Update(ctx, "s1", "I live in Paris, TX but I often dream at Tokyo")

	city, ok := repo.Get(ctx, "s1", ContextKeyLastCity)
	require.True(t, ok)
	require.Equal(t, "Paris, TX", city)
}

func TestContextIgnoresLowercaseCandidates(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionContextRepository(newMemoryKV(0))

	repo.Update(ctx, "s1", "what about weather in paris")

	_, ok := repo.Get(ctx, "s1", ContextKeyLastCity)
	require.False(t, ok)
}

func TestContextOverwritesPreviousValue(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionContextRepository(newMemoryKV(0))

	repo.Update(ctx, "s1", "book a hotel in Boston")
	repo.Update(ctx, "s1", "actually make it in Chicago")

	city, ok := repo.Get(ctx, "s1", ContextKeyLastCity)
	require.True(t, ok)
	require.Equal(t, "Chicago", city)
}

func TestContextToleratesCorruptPayload(t *testing.T) {
	ctx := context.Background()
	kv := newMemoryKV(0)
	repo := NewSessionContextRepository(kv)

	require.NoError(t, kv.SetItem(ctx, contextKey("s1"), "{broken"))
	_, ok := repo.Get(ctx, "s1", ContextKeyLastCity)
	require.False(t, ok)

	// 损坏的载荷在下一次写入时被整体替换
	repo.Update(ctx, "s1", "meet me at Austin")
	city, ok := repo.Get(ctx, "s1", ContextKeyLastCity)
	require.True(t, ok)
	require.Equal(t, "Austin", city)
}
