package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"nova-chat-go/internal/model"
	"nova-chat-go/internal/repository"
	"nova-chat-go/pkg/kafka"
	"nova-chat-go/pkg/llm"
	"nova-chat-go/pkg/log"
	"nova-chat-go/pkg/storage"
)

// ErrQuotaExceeded 表示当日图片生成配额已用完。这是一个预期中的受检
// 条件，不是故障。
var ErrQuotaExceeded = errors.New("daily image quota exceeded")

// MediaService 编排图片生成：配额检查、调用生成协作方、上传对象存储、
// 写入媒体缓存并计入配额。配额只在生成成功后扣减，且不回滚。
type MediaService interface {
	Generate(ctx context.Context, sessionID, prompt string) (string, error)
	List(ctx context.Context, sessionID string) []model.MediaAsset
	Clear(ctx context.Context, sessionID string)
	Remaining(ctx context.Context, sessionID string) int
}

type mediaService struct {
	mediaRepo repository.MediaRepository
	quotaRepo repository.QuotaRepository
	convSvc   ConversationService
	llmClient llm.Client
	imageSize string
}

// NewMediaService 创建一个新的 MediaService。
func NewMediaService(mediaRepo repository.MediaRepository, quotaRepo repository.QuotaRepository, convSvc ConversationService, llmClient llm.Client, imageSize string) MediaService {
	if imageSize == "" {
		imageSize = "1024x1024"
	}
	return &mediaService{
		mediaRepo: mediaRepo,
		quotaRepo: quotaRepo,
		convSvc:   convSvc,
		llmClient: llmClient,
		imageSize: imageSize,
	}
}

// Generate 生成一张图片并返回可展示的引用地址。
func (s *mediaService) Generate(ctx context.Context, sessionID, prompt string) (string, error) {
	if !s.quotaRepo.CanConsume(ctx, sessionID) {
		return "", ErrQuotaExceeded
	}

	imageB64, err := s.llmClient.GenerateImage(ctx, prompt, s.imageSize)
	if err != nil {
		// 生成失败不计入配额，也不污染任何已持久化状态
		return "", fmt.Errorf("failed to generate image: %w", err)
	}

	url := s.resolveURL(ctx, sessionID, imageB64)
	s.mediaRepo.Add(ctx, sessionID, url)
	s.quotaRepo.Consume(ctx, sessionID)
	s.convSvc.AppendMediaPlaceholder(ctx, sessionID, prompt)
	kafka.PublishUsageEvent(kafka.UsageEvent{
		Type:      "image_generated",
		SessionID: sessionID,
		Detail:    prompt,
	})
	return url, nil
}

// List 返回会话的媒体引用，最近生成的在前。
func (s *mediaService) List(ctx context.Context, sessionID string) []model.MediaAsset {
	return s.mediaRepo.GetAll(ctx, sessionID)
}

// Clear 清空会话的媒体缓存。
func (s *mediaService) Clear(ctx context.Context, sessionID string) {
	s.mediaRepo.Clear(ctx, sessionID)
}

// Remaining 返回当日剩余配额。
func (s *mediaService) Remaining(ctx context.Context, sessionID string) int {
	return s.quotaRepo.Remaining(ctx, sessionID)
}

// resolveURL 决定图片引用的形式：配置了对象存储时上传并返回访问地址，
// 否则内联为 data URI。上传失败回退到 data URI。
func (s *mediaService) resolveURL(ctx context.Context, sessionID, imageB64 string) string {
	dataURI := "data:image/png;base64," + imageB64
	if !storage.Enabled() {
		return dataURI
	}

	raw, err := base64.StdEncoding.DecodeString(imageB64)
	if err != nil {
		log.Warnf("解码生成图片失败，回退为 data URI: %v", err)
		return dataURI
	}
	objectName := fmt.Sprintf("images/%s/%s.png", sessionID, uuid.NewString())
	url, err := storage.UploadImage(ctx, objectName, raw, "image/png")
	if err != nil {
		log.Warnf("上传生成图片失败，回退为 data URI: %v", err)
		return dataURI
	}
	return url
}
