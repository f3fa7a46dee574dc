package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nova-chat-go/internal/model"
	"nova-chat-go/pkg/log"
)

func init() {
	log.Init("error", "console", "")
}

func makeConversation(id string, updatedAt time.Time, messageCount int) model.Conversation {
	messages := make([]model.ChatMessage, 0, messageCount)
	for i := 0; i < messageCount; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		messages = append(messages, model.ChatMessage{Role: role, Content: fmt.Sprintf("message %03d of %s", i, id)})
	}
	return model.Conversation{
		ID:        id,
		Title:     "对话 " + id,
		CreatedAt: updatedAt.Add(-time.Hour),
		UpdatedAt: updatedAt,
		Messages:  messages,
		Memory:    "memory of " + id,
	}
}

// storedSize 计算对话集合在介质上的序列化字节数，用于构造容量阈值。
func storedSize(t *testing.T, conversations []model.Conversation) int {
	t.Helper()
	data, err := json.Marshal(toPersisted(conversations))
	require.NoError(t, err)
	return len(data)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := newMemoryKV(0)
	repo := NewConversationRepository(kv)

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	conversations := []model.Conversation{
		makeConversation("c1", base.Add(2*time.Minute), 5),
		makeConversation("c2", base.Add(9*time.Minute), 3),
		makeConversation("c3", base.Add(4*time.Minute), 8),
	}
	conversations[0].Greeted = true
	conversations[1].MemoryUpdatedAt = base

	persisted := repo.Save(ctx, "s1", conversations)
	require.Len(t, persisted, 3)
	// 持久化顺序按 updatedAt 降序
	require.Equal(t, "c2", persisted[0].ID)
	require.Equal(t, "c3", persisted[1].ID)
	require.Equal(t, "c1", persisted[2].ID)

	loaded := repo.Load(ctx, "s1")
	require.Equal(t, persisted, loaded)
	// 消息顺序逐字段保留
	require.Equal(t, conversations[2].Messages, loaded[1].Messages)
	require.True(t, loaded[2].Greeted)
	require.Equal(t, "memory of c2", loaded[0].Memory)
}

func TestSaveStripsTransientFields(t *testing.T) {
	ctx := context.Background()
	kv := newMemoryKV(0)
	repo := NewConversationRepository(kv)

	conv := makeConversation("c1", time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC), 2)
	conv.Streaming = true
	repo.Save(ctx, "s1", []model.Conversation{conv})

	raw, err := kv.GetItem(ctx, conversationsKey("s1"))
	require.NoError(t, err)
	require.NotContains(t, raw, "Streaming")

	loaded := repo.Load(ctx, "s1")
	require.False(t, loaded[0].Streaming)
}

func TestSaveDegradesMessagesPerConversation(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	conv := makeConversation("c1", base, 130)

	// 容量卡在 60 条与 80 条投影之间：完整形式与 120/100/80 都会被拒，
	// 60 条是第一个能落盘的档位
	capacity := storedSize(t, capMessages([]model.Conversation{conv}, 60)) + 4
	require.Less(t, capacity, storedSize(t, capMessages([]model.Conversation{conv}, 80)))

	kv := newMemoryKV(capacity)
	repo := NewConversationRepository(kv)
	persisted := repo.Save(ctx, "s1", []model.Conversation{conv})

	require.Len(t, persisted, 1)
	require.Len(t, persisted[0].Messages, 60)
	// 从最旧一端截断：保留的是最近的 60 条
	require.Equal(t, conv.Messages[70], persisted[0].Messages[0])
	require.Equal(t, conv.Messages[129], persisted[0].Messages[59])

	// 内存返回值与落盘内容一致
	require.Equal(t, persisted, repo.Load(ctx, "s1"))
}

func TestSaveDegradesConversationCount(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	conversations := make([]model.Conversation, 0, 12)
	for i := 0; i < 12; i++ {
		conversations = append(conversations, makeConversation(fmt.Sprintf("c%02d", i), base.Add(time.Duration(i)*time.Minute), 50))
	}

	sorted := sortByRecency(conversations)
	fiveOf := capMessages(capConversations(sorted, 5), degradedMessageCap)
	tenOf := capMessages(capConversations(sorted, 10), degradedMessageCap)

	// 容量只够 5 个降级对话
	capacity := storedSize(t, fiveOf) + 4
	require.Less(t, capacity, storedSize(t, tenOf))
	// 消息档位最低的 20 条全集也放不下，强制进入对话数降级
	require.Less(t, capacity, storedSize(t, capMessages(sorted, 20)))

	kv := newMemoryKV(capacity)
	repo := NewConversationRepository(kv)
	persisted := repo.Save(ctx, "s1", conversations)

	require.Len(t, persisted, 5)
	// 最近活跃的对话优先保留
	require.Equal(t, "c11", persisted[0].ID)
	require.Equal(t, "c07", persisted[4].ID)
	for _, c := range persisted {
		require.LessOrEqual(t, len(c.Messages), degradedMessageCap)
	}
	require.Equal(t, persisted, repo.Load(ctx, "s1"))
}

func TestSaveMonotonicDegradation(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	// 固定一个较小的容量：以 4 个各 30 条消息的对话的完整投影为基准
	seed := make([]model.Conversation, 0, 4)
	for i := 0; i < 4; i++ {
		seed = append(seed, makeConversation(fmt.Sprintf("c%02d", i), base.Add(time.Duration(i)*time.Minute), 30))
	}
	capacity := storedSize(t, sortByRecency(seed)) + 4

	kv := &recordingKV{memoryKV: newMemoryKV(capacity)}
	repo := NewConversationRepository(kv)

	// 输入逐轮增长时，阶梯到达的降级档位只会更深，不会回退；
	// 且每一轮落盘的内容都能成功解析并与返回值一致
	prevAttempts := 0
	for round := 1; round <= 6; round++ {
		conversations := make([]model.Conversation, 0, round*4)
		for i := 0; i < round*4; i++ {
			conversations = append(conversations, makeConversation(fmt.Sprintf("c%02d", i), base.Add(time.Duration(i)*time.Minute), round*30))
		}

		kv.attempts = nil
		persisted := repo.Save(ctx, "s1", conversations)

		require.GreaterOrEqual(t, len(kv.attempts), prevAttempts)
		prevAttempts = len(kv.attempts)

		require.Equal(t, persisted, repo.Load(ctx, "s1"))
	}
}

func TestSaveNeverFailsUnderHopelessMedium(t *testing.T) {
	ctx := context.Background()
	conv := makeConversation("c1", time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC), 200)

	// 连空集合 "[]" 都放不下的介质
	kv := newMemoryKV(1)
	repo := NewConversationRepository(kv)

	persisted := repo.Save(ctx, "s1", []model.Conversation{conv})
	require.Empty(t, persisted)
	require.Empty(t, repo.Load(ctx, "s1"))

	// 刚好能放下空集合的介质：最后一级成功清空
	kv2 := newMemoryKV(2)
	repo2 := NewConversationRepository(kv2)
	require.Empty(t, repo2.Save(ctx, "s1", []model.Conversation{conv}))
	raw, err := kv2.GetItem(ctx, conversationsKey("s1"))
	require.NoError(t, err)
	require.Equal(t, "[]", raw)
}

func TestLoadToleratesMalformedData(t *testing.T) {
	ctx := context.Background()
	kv := newMemoryKV(0)
	repo := NewConversationRepository(kv)

	// 键缺失
	require.Empty(t, repo.Load(ctx, "s1"))

	// 内容损坏
	require.NoError(t, kv.SetItem(ctx, conversationsKey("s1"), "{not json"))
	require.Empty(t, repo.Load(ctx, "s1"))

	// 形状不符（对象而非数组）
	require.NoError(t, kv.SetItem(ctx, conversationsKey("s1"), `{"id":"c1"}`))
	require.Empty(t, repo.Load(ctx, "s1"))
}
