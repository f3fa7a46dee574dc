package service

import (
	"context"
	"sync"

	"nova-chat-go/internal/model"
	"nova-chat-go/pkg/llm"
	"nova-chat-go/pkg/log"
)

func init() {
	log.Init("error", "console", "")
}

// fakeConversationRepo 以内存映射模拟持久化介质。trim 非空时模拟介质容量
// 不足导致的降级裁剪：Save 的返回值即裁剪后的结果。
type fakeConversationRepo struct {
	mu        sync.Mutex
	saved     map[string][]model.Conversation
	saveCalls int
	trim      func([]model.Conversation) []model.Conversation
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{saved: make(map[string][]model.Conversation)}
}

func (r *fakeConversationRepo) Save(_ context.Context, sessionID string, conversations []model.Conversation) []model.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveCalls++
	out := make([]model.Conversation, len(conversations))
	copy(out, conversations)
	if r.trim != nil {
		out = r.trim(out)
	}
	r.saved[sessionID] = out
	return out
}

func (r *fakeConversationRepo) Load(_ context.Context, sessionID string) []model.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Conversation, len(r.saved[sessionID]))
	copy(out, r.saved[sessionID])
	return out
}

// fakeContextRepo 记录全部 Update 调用的文本。
type fakeContextRepo struct {
	mu       sync.Mutex
	observed []string
}

func (r *fakeContextRepo) Update(_ context.Context, _ string, observedText string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed = append(r.observed, observedText)
}

func (r *fakeContextRepo) Get(_ context.Context, _, _ string) (string, bool) {
	return "", false
}

// noopMemory 在编排层测试中占位，避免异步摘要干扰断言。
type noopMemory struct{}

func (noopMemory) MaybeRefresh(context.Context, string, string) {}

// fakeLLM 模拟生成式后端。beforeReturn 在 Summarize 返回前执行，
// 用于构造摘要在途期间的并发修改。
type fakeLLM struct {
	mu             sync.Mutex
	summary        string
	summarizeErr   error
	summarizeCalls int
	lastText       string
	lastPurpose    string
	beforeReturn   func()
}

func (f *fakeLLM) StreamChatMessages(_ context.Context, _ []llm.Message, _ llm.MessageWriter) error {
	return nil
}

func (f *fakeLLM) Summarize(_ context.Context, text, purpose string) (string, error) {
	f.mu.Lock()
	f.summarizeCalls++
	f.lastText = text
	f.lastPurpose = purpose
	hook := f.beforeReturn
	summary, err := f.summary, f.summarizeErr
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return summary, err
}

func (f *fakeLLM) GenerateImage(_ context.Context, _, _ string) (string, error) {
	return "", nil
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summarizeCalls
}
