package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"nova-chat-go/internal/model"
	"nova-chat-go/pkg/kafka"
	"nova-chat-go/pkg/llm"
)

// 发给聊天后端的上下文消息条数上限。
const chatHistoryWindow = 40

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	StreamResponse(ctx context.Context, sessionID, query string, ws *websocket.Conn, shouldStop func() bool) error
}

type chatService struct {
	convSvc   ConversationService
	llmClient llm.Client
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(convSvc ConversationService, llmClient llm.Client) ChatService {
	return &chatService{convSvc: convSvc, llmClient: llmClient}
}

// StreamResponse 处理一个完整的对话回合：先把用户消息落盘，再流式转发
// 后端回复，最后把完整回复落盘。
func (s *chatService) StreamResponse(ctx context.Context, sessionID, query string, ws *websocket.Conn, shouldStop func() bool) error {
	// 1. 追加用户消息并持久化（返回的快照已包含本条消息）
	conversation := s.convSvc.HandleUserMessage(ctx, sessionID, query)

	// 2. 组装发给后端的消息：system（含滚动记忆）+ 最近历史
	messages := composeMessages(conversation)

	// 拦截 websocket writer 以捕获完整答案，并包装为 JSON 分块
	answerBuilder := &strings.Builder{}
	interceptor := &wsWriterInterceptor{conn: ws, writer: answerBuilder, shouldStop: shouldStop}

	// 3. 流式调用聊天后端
	if err := s.llmClient.StreamChatMessages(ctx, messages, interceptor); err != nil {
		return err
	}

	// 4. 发送完成通知，并持久化助手回复
	sendCompletion(ws)
	fullAnswer := answerBuilder.String()
	if len(fullAnswer) > 0 {
		// 使用后台上下文：即使原始请求被取消，也要保存已成功生成的回复
		s.convSvc.HandleAssistantReply(context.Background(), sessionID, fullAnswer)
		kafka.PublishUsageEvent(kafka.UsageEvent{
			Type:           "turn_saved",
			SessionID:      sessionID,
			ConversationID: conversation.ID,
		})
	}
	return nil
}

// composeMessages 构建发给聊天后端的消息序列。滚动记忆作为 system
// 消息的一部分注入，用于在不携带完整历史的情况下保留早期事实。
func composeMessages(conversation model.Conversation) []llm.Message {
	var sys strings.Builder
	sys.WriteString("你是一个乐于助人的智能助手。")
	if conversation.Memory != "" {
		sys.WriteString("\n\n以下是本对话此前内容的压缩记忆，可作为背景参考：\n")
		sys.WriteString(conversation.Memory)
	}

	history := conversation.Messages
	if len(history) > chatHistoryWindow {
		history = history[len(history)-chatHistoryWindow:]
	}

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: "system", Content: sys.String()})
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	return messages
}

// wsWriterInterceptor 是对 websocket.Conn 的封装，用于捕获写入的消息。
type wsWriterInterceptor struct {
	conn       *websocket.Conn
	writer     *strings.Builder
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	w.writer.Write(data)
	// 将原始分块包装成 {"chunk":"..."}
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(ws *websocket.Conn) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}
