package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"nova-chat-go/internal/service"
)

// ConversationHandler 处理与对话相关的 API 请求。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// GetConversations 返回会话的全部对话，最近活跃的在前。
func (h *ConversationHandler) GetConversations(c *gin.Context) {
	sessionID := c.MustGet("sessionID").(string)
	conversations := h.service.List(c.Request.Context(), sessionID)

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    conversations,
	})
}

// GetActiveConversation 返回当前激活对话，不存在时惰性创建。
func (h *ConversationHandler) GetActiveConversation(c *gin.Context) {
	sessionID := c.MustGet("sessionID").(string)
	conversation := h.service.ActiveConversation(c.Request.Context(), sessionID)

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    conversation,
	})
}

// CreateConversation 新建一个对话并设为激活对话。
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	sessionID := c.MustGet("sessionID").(string)
	conversation := h.service.NewConversation(c.Request.Context(), sessionID)

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    conversation,
	})
}

// SelectConversation 将指定对话设为激活对话。
func (h *ConversationHandler) SelectConversation(c *gin.Context) {
	sessionID := c.MustGet("sessionID").(string)
	conversationID := c.Param("conversationId")

	if err := h.service.SelectConversation(c.Request.Context(), sessionID, conversationID); err != nil {
		h.notFound(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}

// DeleteConversation 删除指定对话。
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	sessionID := c.MustGet("sessionID").(string)
	conversationID := c.Param("conversationId")

	if err := h.service.DeleteConversation(c.Request.Context(), sessionID, conversationID); err != nil {
		h.notFound(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}

func (h *ConversationHandler) notFound(c *gin.Context, err error) {
	if errors.Is(err, service.ErrConversationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    http.StatusNotFound,
			"message": "对话不存在",
			"data":    nil,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    http.StatusInternalServerError,
		"message": "操作失败",
		"data":    nil,
	})
}
