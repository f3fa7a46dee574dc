package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"nova-chat-go/internal/service"
	"nova-chat-go/pkg/log"
)

// MediaHandler 处理图片生成与媒体缓存相关的 API 请求。
type MediaHandler struct {
	service service.MediaService
}

// NewMediaHandler 创建一个新的 MediaHandler。
func NewMediaHandler(service service.MediaService) *MediaHandler {
	return &MediaHandler{service: service}
}

type generateImageRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// GenerateImage 处理图片生成请求。配额用尽返回 429，这是预期条件而非故障。
func (h *MediaHandler) GenerateImage(c *gin.Context) {
	sessionID := c.MustGet("sessionID").(string)

	var req generateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "缺少 prompt 参数",
			"data":    nil,
		})
		return
	}

	url, err := h.service.Generate(c.Request.Context(), sessionID, req.Prompt)
	if err != nil {
		if errors.Is(err, service.ErrQuotaExceeded) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"message": "今日图片生成次数已用完",
				"data":    gin.H{"remaining": 0},
			})
			return
		}
		log.Errorf("图片生成失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "图片生成失败，请稍后重试",
			"data":    nil,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"url":       url,
			"remaining": h.service.Remaining(c.Request.Context(), sessionID),
		},
	})
}

// ListImages 返回会话的媒体缓存内容，最近生成的在前。
func (h *MediaHandler) ListImages(c *gin.Context) {
	sessionID := c.MustGet("sessionID").(string)
	assets := h.service.List(c.Request.Context(), sessionID)

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    assets,
	})
}

// ClearImages 清空会话的媒体缓存。
func (h *MediaHandler) ClearImages(c *gin.Context) {
	sessionID := c.MustGet("sessionID").(string)
	h.service.Clear(c.Request.Context(), sessionID)

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}

// GetQuota 返回当日剩余的图片生成次数。
func (h *MediaHandler) GetQuota(c *gin.Context) {
	sessionID := c.MustGet("sessionID").(string)

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"remaining": h.service.Remaining(c.Request.Context(), sessionID)},
	})
}
