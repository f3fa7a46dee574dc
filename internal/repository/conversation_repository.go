package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"nova-chat-go/internal/model"
	"nova-chat-go/pkg/log"
)

// ConversationRepository 定义了对话集合的持久化操作接口。
// Save 永远不会失败：写入被介质拒绝时按固定策略逐级降级，最坏情况持久化
// 一个空集合。返回值是最终真正落盘的状态，调用方必须用它替换内存状态，
// 保证内存与持久化内容一致。
type ConversationRepository interface {
	Save(ctx context.Context, sessionID string, conversations []model.Conversation) []model.Conversation
	Load(ctx context.Context, sessionID string) []model.Conversation
}

// 降级策略表：先逐级收紧每个对话保留的消息数，再逐级收紧保留的对话数。
// 对话按 updatedAt 降序排列，因此所有裁剪都优先牺牲最久未活跃的内容。
var (
	messageCaps      = []int{120, 100, 80, 60, 40, 20}
	conversationCaps = []int{30, 25, 20, 15, 10, 5, 3, 1}
)

// 按对话数降级时每个对话保留的消息数上限。
const degradedMessageCap = 40

// persistedConversation 是写入介质的显示安全投影，仅保留可展示字段，
// 剥离所有运行时的临时状态。
type persistedConversation struct {
	ID              string              `json:"id"`
	Title           string              `json:"title"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
	Messages        []model.ChatMessage `json:"messages"`
	Memory          string              `json:"memory"`
	MemoryUpdatedAt time.Time           `json:"memoryUpdatedAt"`
	Greeted         bool                `json:"greeted"`
}

type kvConversationRepository struct {
	kv KV
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(kv KV) ConversationRepository {
	return &kvConversationRepository{kv: kv}
}

func conversationsKey(sessionID string) string {
	return fmt.Sprintf("sess:%s:conversations", sessionID)
}

// Save 将对话集合持久化到介质中，按需降级，永不返回错误。
func (r *kvConversationRepository) Save(ctx context.Context, sessionID string, conversations []model.Conversation) []model.Conversation {
	key := conversationsKey(sessionID)
	sorted := sortByRecency(conversations)

	// 1. 完整形式
	if r.tryWrite(ctx, key, sorted) {
		return sorted
	}
	log.Warnf("对话持久化被介质拒绝，进入降级流程: session=%s, conversations=%d", sessionID, len(sorted))

	// 2. 逐级收紧每个对话保留的消息数
	for _, limit := range messageCaps {
		trimmed := capMessages(sorted, limit)
		if r.tryWrite(ctx, key, trimmed) {
			log.Infof("降级持久化成功: session=%s, 每对话保留消息数=%d", sessionID, limit)
			return trimmed
		}
	}

	// 3. 逐级收紧保留的对话数（最近活跃的优先保留）
	for _, limit := range conversationCaps {
		trimmed := capMessages(capConversations(sorted, limit), degradedMessageCap)
		if r.tryWrite(ctx, key, trimmed) {
			log.Infof("降级持久化成功: session=%s, 保留对话数=%d", sessionID, limit)
			return trimmed
		}
	}

	// 4. 最后手段：清空介质，持久化空集合。只有当介质连一个最小对话都
	// 容纳不下时才会走到这里。
	log.Warnf("降级全部失败，清空对话存储: session=%s", sessionID)
	if err := r.kv.SetItem(ctx, key, "[]"); err != nil {
		log.Warnf("清空对话存储失败: session=%s, err=%v", sessionID, err)
	}
	return []model.Conversation{}
}

// Load 从介质读取对话集合。键缺失、内容损坏或形状不符时返回空集合，
// 绝不向调用方抛错。
func (r *kvConversationRepository) Load(ctx context.Context, sessionID string) []model.Conversation {
	raw, err := r.kv.GetItem(ctx, conversationsKey(sessionID))
	if err != nil {
		if err != ErrKVNotFound {
			log.Warnf("读取对话存储失败: session=%s, err=%v", sessionID, err)
		}
		return []model.Conversation{}
	}

	var persisted []persistedConversation
	if err := json.Unmarshal([]byte(raw), &persisted); err != nil {
		log.Warnf("对话存储内容损坏，按空集合处理: session=%s, err=%v", sessionID, err)
		return []model.Conversation{}
	}

	conversations := make([]model.Conversation, 0, len(persisted))
	for _, p := range persisted {
		conversations = append(conversations, model.Conversation{
			ID:              p.ID,
			Title:           p.Title,
			CreatedAt:       p.CreatedAt,
			UpdatedAt:       p.UpdatedAt,
			Messages:        p.Messages,
			Memory:          p.Memory,
			MemoryUpdatedAt: p.MemoryUpdatedAt,
			Greeted:         p.Greeted,
		})
	}
	return conversations
}

// tryWrite 尝试一次写入，返回是否成功。失败原因不区分容量与其他错误：
// 任何失败都交给下一级降级处理。
func (r *kvConversationRepository) tryWrite(ctx context.Context, key string, conversations []model.Conversation) bool {
	data, err := json.Marshal(toPersisted(conversations))
	if err != nil {
		// 投影中不存在不可序列化的字段，这里只是保险
		log.Errorf("序列化对话集合失败: %v", err)
		return false
	}
	return r.kv.SetItem(ctx, key, string(data)) == nil
}

// toPersisted 将对话集合映射为显示安全投影。
func toPersisted(conversations []model.Conversation) []persistedConversation {
	persisted := make([]persistedConversation, 0, len(conversations))
	for _, c := range conversations {
		persisted = append(persisted, persistedConversation{
			ID:              c.ID,
			Title:           c.Title,
			CreatedAt:       c.CreatedAt,
			UpdatedAt:       c.UpdatedAt,
			Messages:        c.Messages,
			Memory:          c.Memory,
			MemoryUpdatedAt: c.MemoryUpdatedAt,
			Greeted:         c.Greeted,
		})
	}
	return persisted
}

// sortByRecency 返回按 updatedAt 降序排列的副本，不修改入参。
func sortByRecency(conversations []model.Conversation) []model.Conversation {
	sorted := make([]model.Conversation, len(conversations))
	copy(sorted, conversations)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt)
	})
	return sorted
}

// capMessages 将每个对话的消息裁剪为最近的 max 条，不修改入参。
func capMessages(conversations []model.Conversation, max int) []model.Conversation {
	out := make([]model.Conversation, len(conversations))
	copy(out, conversations)
	for i := range out {
		if len(out[i].Messages) > max {
			out[i].Messages = out[i].Messages[len(out[i].Messages)-max:]
		}
	}
	return out
}

// capConversations 只保留最近活跃的 max 个对话（入参已按活跃度降序）。
func capConversations(conversations []model.Conversation, max int) []model.Conversation {
	if len(conversations) <= max {
		return conversations
	}
	return conversations[:max]
}
