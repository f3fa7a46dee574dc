// Package service 包含了应用的业务逻辑层。
package service

import (
	"sync"

	"nova-chat-go/internal/model"
)

// SessionState 持有一个逻辑会话的全部活动状态：对话集合与当前激活的对话。
// 同一会话的所有读-改-写操作都必须持有 mu，避免交错修改；不同会话互不共享。
type SessionState struct {
	mu            sync.Mutex
	loaded        bool
	conversations []model.Conversation
	activeID      string
}

// SessionRegistry 按会话 ID 管理 SessionState，每个会话只有一份实例。
type SessionRegistry struct {
	mu     sync.Mutex
	states map[string]*SessionState
}

// NewSessionRegistry 创建一个新的会话状态注册表。
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{states: make(map[string]*SessionState)}
}

// Get 返回指定会话的状态对象，不存在时创建。
func (r *SessionRegistry) Get(sessionID string) *SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[sessionID]
	if !ok {
		state = &SessionState{}
		r.states[sessionID] = state
	}
	return state
}

// findConversation 在集合中按 ID 定位对话，返回其下标，找不到时返回 -1。
func findConversation(conversations []model.Conversation, conversationID string) int {
	for i := range conversations {
		if conversations[i].ID == conversationID {
			return i
		}
	}
	return -1
}
