// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"nova-chat-go/pkg/token"
)

// SessionHandler 负责会话令牌的签发。
type SessionHandler struct {
	jwtManager *token.JWTManager
}

// NewSessionHandler 创建一个新的 SessionHandler。
func NewSessionHandler(jwtManager *token.JWTManager) *SessionHandler {
	return &SessionHandler{jwtManager: jwtManager}
}

// CreateSession 签发一个匿名会话令牌。每个逻辑会话独占自己的对话、
// 媒体缓存与配额，互不共享。
func (h *SessionHandler) CreateSession(c *gin.Context) {
	sessionID := uuid.NewString()
	tokenString, err := h.jwtManager.GenerateSessionToken(sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "签发会话令牌失败",
			"data":    nil,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"sessionId": sessionID, "token": tokenString},
	})
}
