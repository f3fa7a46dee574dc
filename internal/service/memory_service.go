package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nova-chat-go/internal/config"
	"nova-chat-go/internal/model"
	"nova-chat-go/internal/repository"
	"nova-chat-go/pkg/llm"
	"nova-chat-go/pkg/log"
)

// 传递给摘要协作方的压缩目标提示。
const memoryPurpose = "compact facts, preferences, unresolved tasks"

// MemoryService 决定对话的滚动记忆何时足够陈旧需要刷新，并应用协作方
// 返回的摘要。任何失败（网络、空结果）都让对话保持原样，不重试也不上报；
// 下一次满足条件的调用会自然地重新评估。
type MemoryService interface {
	MaybeRefresh(ctx context.Context, sessionID, conversationID string)
}

type memoryService struct {
	repo        repository.ConversationRepository
	llmClient   llm.Client
	registry    *SessionRegistry
	minMessages int
	staleness   time.Duration
	window      int
	maxChars    int
	now         func() time.Time
}

// NewMemoryService 创建一个新的 MemoryService。
func NewMemoryService(repo repository.ConversationRepository, llmClient llm.Client, registry *SessionRegistry, cfg config.MemoryConfig) MemoryService {
	return newMemoryService(repo, llmClient, registry, cfg, time.Now)
}

// NewMemoryServiceWithClock 允许注入时钟，用于测试陈旧窗口。
func NewMemoryServiceWithClock(repo repository.ConversationRepository, llmClient llm.Client, registry *SessionRegistry, cfg config.MemoryConfig, now func() time.Time) MemoryService {
	return newMemoryService(repo, llmClient, registry, cfg, now)
}

func newMemoryService(repo repository.ConversationRepository, llmClient llm.Client, registry *SessionRegistry, cfg config.MemoryConfig, now func() time.Time) MemoryService {
	s := &memoryService{
		repo:        repo,
		llmClient:   llmClient,
		registry:    registry,
		minMessages: cfg.MinMessages,
		staleness:   time.Duration(cfg.StalenessMinutes) * time.Minute,
		window:      cfg.WindowMessages,
		maxChars:    cfg.MaxChars,
		now:         now,
	}
	if s.minMessages <= 0 {
		s.minMessages = 16
	}
	if s.staleness <= 0 {
		s.staleness = 5 * time.Minute
	}
	if s.window <= 0 {
		s.window = 60
	}
	if s.maxChars <= 0 {
		s.maxChars = 1200
	}
	return s
}

// MaybeRefresh 评估指定对话的记忆是否需要刷新，需要时调用摘要协作方
// 并持久化结果。摘要在途期间不持锁；提交前重新校验没有更新的记忆落盘，
// 避免过期响应覆盖新状态。
func (s *memoryService) MaybeRefresh(ctx context.Context, sessionID, conversationID string) {
	state := s.registry.Get(sessionID)

	state.mu.Lock()
	idx := findConversation(state.conversations, conversationID)
	if idx < 0 || !s.shouldRefresh(&state.conversations[idx]) {
		state.mu.Unlock()
		return
	}
	stamp := state.conversations[idx].MemoryUpdatedAt
	text := transcript(state.conversations[idx].Messages, s.window)
	state.mu.Unlock()

	summary, err := s.llmClient.Summarize(ctx, text, memoryPurpose)
	if err != nil {
		log.Warnf("刷新对话记忆失败: conversation=%s, err=%v", conversationID, err)
		return
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	idx = findConversation(state.conversations, conversationID)
	if idx < 0 {
		return
	}
	// 在途期间已有更新的记忆落盘，放弃本次结果
	if !state.conversations[idx].MemoryUpdatedAt.Equal(stamp) {
		return
	}
	state.conversations[idx].Memory = truncateRunes(summary, s.maxChars)
	state.conversations[idx].MemoryUpdatedAt = s.now()
	state.conversations = s.repo.Save(ctx, sessionID, state.conversations)
	// 落盘结果可能因降级裁剪掉激活对话，激活权转移给最近活跃的幸存对话
	if findConversation(state.conversations, state.activeID) < 0 {
		state.activeID = ""
		if len(state.conversations) > 0 {
			state.activeID = state.conversations[0].ID
		}
	}
}

// shouldRefresh 判定触发条件：消息数达到下限，且距上次摘要（从未摘要时
// 距对话创建）已超过陈旧窗口。
func (s *memoryService) shouldRefresh(conversation *model.Conversation) bool {
	if len(conversation.Messages) < s.minMessages {
		return false
	}
	base := conversation.MemoryUpdatedAt
	if base.IsZero() {
		base = conversation.CreatedAt
	}
	return s.now().Sub(base) >= s.staleness
}

// transcript 将最近 window 条消息拼接为带角色标签的多行文本。
func transcript(messages []model.ChatMessage, window int) string {
	if len(messages) > window {
		messages = messages[len(messages)-window:]
	}
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(fmt.Sprintf("%s: %s\n", m.Role, m.Content))
	}
	return b.String()
}

// truncateRunes 将文本截断到 max 个字符。
func truncateRunes(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
