package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"nova-chat-go/internal/config"
	"nova-chat-go/internal/model"
	"nova-chat-go/internal/repository"
)

// ErrConversationNotFound 表示指定的对话不存在。
var ErrConversationNotFound = errors.New("conversation not found")

// 标题最长保留的字符数，取自首条用户消息。
const titleMaxRunes = 60

// 未配置默认标题时的占位标题。
const fallbackTitle = "新对话"

// ConversationService 负责编排用户可见的对话回合：保证激活对话存在、
// 派生标题、追加消息并持久化、触发记忆摘要、更新会话上下文。
type ConversationService interface {
	List(ctx context.Context, sessionID string) []model.Conversation
	NewConversation(ctx context.Context, sessionID string) model.Conversation
	SelectConversation(ctx context.Context, sessionID, conversationID string) error
	DeleteConversation(ctx context.Context, sessionID, conversationID string) error
	ActiveConversation(ctx context.Context, sessionID string) model.Conversation
	HandleUserMessage(ctx context.Context, sessionID, text string) model.Conversation
	HandleAssistantReply(ctx context.Context, sessionID, text string)
	AppendMediaPlaceholder(ctx context.Context, sessionID, prompt string)
}

type conversationService struct {
	repo        repository.ConversationRepository
	contextRepo repository.SessionContextRepository
	memory      MemoryService
	registry    *SessionRegistry
	greeting    string
	placeholder string
	now         func() time.Time
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(
	repo repository.ConversationRepository,
	contextRepo repository.SessionContextRepository,
	memory MemoryService,
	registry *SessionRegistry,
	cfg config.ChatConfig,
) ConversationService {
	placeholder := cfg.DefaultTitle
	if placeholder == "" {
		placeholder = fallbackTitle
	}
	return &conversationService{
		repo:        repo,
		contextRepo: contextRepo,
		memory:      memory,
		registry:    registry,
		greeting:    cfg.Greeting,
		placeholder: placeholder,
		now:         time.Now,
	}
}

// List 返回会话的全部对话（持久化顺序，最近活跃的在前）。
func (s *conversationService) List(ctx context.Context, sessionID string) []model.Conversation {
	state := s.registry.Get(sessionID)
	state.mu.Lock()
	defer state.mu.Unlock()
	s.ensureLoaded(ctx, sessionID, state)

	out := make([]model.Conversation, len(state.conversations))
	copy(out, state.conversations)
	for i := range out {
		messages := make([]model.ChatMessage, len(out[i].Messages))
		copy(messages, out[i].Messages)
		out[i].Messages = messages
	}
	return out
}

// NewConversation 创建一个新对话并设为激活对话。
func (s *conversationService) NewConversation(ctx context.Context, sessionID string) model.Conversation {
	state := s.registry.Get(sessionID)
	state.mu.Lock()
	defer state.mu.Unlock()
	s.ensureLoaded(ctx, sessionID, state)

	conversation := s.createConversation(state)
	s.persist(ctx, sessionID, state)
	return s.snapshot(state, conversation.ID)
}

// SelectConversation 将指定对话设为激活对话。
func (s *conversationService) SelectConversation(ctx context.Context, sessionID, conversationID string) error {
	state := s.registry.Get(sessionID)
	state.mu.Lock()
	defer state.mu.Unlock()
	s.ensureLoaded(ctx, sessionID, state)

	if findConversation(state.conversations, conversationID) < 0 {
		return ErrConversationNotFound
	}
	state.activeID = conversationID
	return nil
}

// DeleteConversation 删除指定对话。被删除的是激活对话时，激活权转移给
// 最近活跃的剩余对话。
func (s *conversationService) DeleteConversation(ctx context.Context, sessionID, conversationID string) error {
	state := s.registry.Get(sessionID)
	state.mu.Lock()
	defer state.mu.Unlock()
	s.ensureLoaded(ctx, sessionID, state)

	idx := findConversation(state.conversations, conversationID)
	if idx < 0 {
		return ErrConversationNotFound
	}
	state.conversations = append(state.conversations[:idx], state.conversations[idx+1:]...)
	if state.activeID == conversationID {
		state.activeID = ""
		if len(state.conversations) > 0 {
			state.activeID = state.conversations[0].ID
		}
	}
	s.persist(ctx, sessionID, state)
	return nil
}

// ActiveConversation 返回当前激活对话，不存在时惰性创建（附带问候语）。
func (s *conversationService) ActiveConversation(ctx context.Context, sessionID string) model.Conversation {
	state := s.registry.Get(sessionID)
	state.mu.Lock()
	defer state.mu.Unlock()
	s.ensureLoaded(ctx, sessionID, state)

	idx := findConversation(state.conversations, state.activeID)
	if idx < 0 {
		conversation := s.createConversation(state)
		s.persist(ctx, sessionID, state)
		return s.snapshot(state, conversation.ID)
	}
	return s.snapshot(state, state.activeID)
}

// HandleUserMessage 处理一条用户输入：保证激活对话存在、按需派生标题、
// 追加消息并持久化，随后异步触发记忆摘要并更新会话上下文。
// 返回值是持久化之后激活对话的快照。
func (s *conversationService) HandleUserMessage(ctx context.Context, sessionID, text string) model.Conversation {
	state := s.registry.Get(sessionID)
	state.mu.Lock()
	s.ensureLoaded(ctx, sessionID, state)

	idx := findConversation(state.conversations, state.activeID)
	if idx < 0 {
		s.createConversation(state)
		idx = findConversation(state.conversations, state.activeID)
	}
	conversation := &state.conversations[idx]

	// 仍是占位标题时，用首条用户消息派生标题
	if conversation.Title == s.placeholder {
		if title := deriveTitle(text); title != "" {
			conversation.Title = title
		}
	}

	conversation.Messages = append(conversation.Messages, model.ChatMessage{Role: "user", Content: text})
	conversation.Touch(s.now())
	s.persist(ctx, sessionID, state)

	activeID := state.activeID
	result := s.snapshot(state, activeID)
	state.mu.Unlock()

	// 摘要刷新对调用方是 fire-and-forget 的
	go s.memory.MaybeRefresh(context.Background(), sessionID, activeID)
	s.contextRepo.Update(ctx, sessionID, text)
	return result
}

// HandleAssistantReply 追加一条助手回复并持久化，随后更新会话上下文。
func (s *conversationService) HandleAssistantReply(ctx context.Context, sessionID, text string) {
	state := s.registry.Get(sessionID)
	state.mu.Lock()
	s.ensureLoaded(ctx, sessionID, state)

	idx := findConversation(state.conversations, state.activeID)
	if idx < 0 {
		state.mu.Unlock()
		return
	}
	state.conversations[idx].Messages = append(state.conversations[idx].Messages, model.ChatMessage{Role: "assistant", Content: text})
	state.conversations[idx].Touch(s.now())
	s.persist(ctx, sessionID, state)
	state.mu.Unlock()

	s.contextRepo.Update(ctx, sessionID, text)
}

// AppendMediaPlaceholder 在激活对话中追加一条图片占位消息。
// 对话存储只保留文本占位，完整的图片引用由媒体缓存持有。
func (s *conversationService) AppendMediaPlaceholder(ctx context.Context, sessionID, prompt string) {
	state := s.registry.Get(sessionID)
	state.mu.Lock()
	defer state.mu.Unlock()
	s.ensureLoaded(ctx, sessionID, state)

	idx := findConversation(state.conversations, state.activeID)
	if idx < 0 {
		return
	}
	placeholder := "[图片已生成] " + deriveTitle(prompt)
	state.conversations[idx].Messages = append(state.conversations[idx].Messages, model.ChatMessage{Role: "assistant", Content: placeholder})
	state.conversations[idx].Touch(s.now())
	s.persist(ctx, sessionID, state)
}

// ensureLoaded 首次访问时从持久化介质加载对话集合。
func (s *conversationService) ensureLoaded(ctx context.Context, sessionID string, state *SessionState) {
	if state.loaded {
		return
	}
	state.conversations = s.repo.Load(ctx, sessionID)
	state.loaded = true
	if state.activeID == "" && len(state.conversations) > 0 {
		state.activeID = state.conversations[0].ID
	}
}

// createConversation 创建一个新对话并设为激活对话。配置了问候语时写入
// 一条助手问候并置位 greeted。
func (s *conversationService) createConversation(state *SessionState) model.Conversation {
	now := s.now()
	conversation := model.Conversation{
		ID:        uuid.NewString(),
		Title:     s.placeholder,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if s.greeting != "" {
		conversation.Messages = []model.ChatMessage{{Role: "assistant", Content: s.greeting}}
		conversation.Greeted = true
	}
	state.conversations = append([]model.Conversation{conversation}, state.conversations...)
	state.activeID = conversation.ID
	return conversation
}

// persist 将当前状态写入介质，并用真正落盘的结果替换内存状态。
func (s *conversationService) persist(ctx context.Context, sessionID string, state *SessionState) {
	state.conversations = s.repo.Save(ctx, sessionID, state.conversations)
	if findConversation(state.conversations, state.activeID) < 0 {
		state.activeID = ""
		if len(state.conversations) > 0 {
			state.activeID = state.conversations[0].ID
		}
	}
}

// snapshot 返回指定对话的拷贝，消息切片独立，调用方可安全持有。
func (s *conversationService) snapshot(state *SessionState, conversationID string) model.Conversation {
	idx := findConversation(state.conversations, conversationID)
	if idx < 0 {
		return model.Conversation{}
	}
	conversation := state.conversations[idx]
	messages := make([]model.ChatMessage, len(conversation.Messages))
	copy(messages, conversation.Messages)
	conversation.Messages = messages
	return conversation
}

// deriveTitle 从文本派生标题：压缩空白并截断到上限长度。
func deriveTitle(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	runes := []rune(title)
	if len(runes) > titleMaxRunes {
		title = string(runes[:titleMaxRunes])
	}
	return title
}
