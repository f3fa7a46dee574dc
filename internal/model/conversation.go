// Package model 包含了应用的数据模型定义。
package model

import "time"

// ChatMessage 代表对话中的单条消息，role 为 "user" 或 "assistant"。
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation 代表一个完整的对话记录，包含消息序列与滚动记忆摘要。
// messages 只允许追加；降级持久化时只会从最旧的一端截断。
type Conversation struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	Messages        []ChatMessage `json:"messages"`
	Memory          string        `json:"memory"`
	MemoryUpdatedAt time.Time     `json:"memoryUpdatedAt"`
	Greeted         bool          `json:"greeted"`

	// Streaming 表示助手回复正在流式生成中，不参与持久化。
	Streaming bool `json:"-"`
}

// Touch 将 updatedAt 推进到 now，保证其单调不减。
func (c *Conversation) Touch(now time.Time) {
	if now.After(c.UpdatedAt) {
		c.UpdatedAt = now
	}
}
