package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"nova-chat-go/internal/model"
	"nova-chat-go/pkg/log"
)

// maxMediaAssets 是每个会话保留的媒体引用上限。
const maxMediaAssets = 300

// MediaRepository 定义了生成媒体缓存的操作接口。
// 底层存储的任何失败都会被吞掉：Add 退化为 no-op，GetAll 退化为空序列。
type MediaRepository interface {
	Add(ctx context.Context, sessionID, url string)
	GetAll(ctx context.Context, sessionID string) []model.MediaAsset
	Clear(ctx context.Context, sessionID string)
}

type gormMediaRepository struct {
	db *gorm.DB
}

// NewMediaRepository 创建一个新的 MediaRepository 实例并迁移表结构。
func NewMediaRepository(db *gorm.DB) MediaRepository {
	if err := db.AutoMigrate(&model.MediaAsset{}); err != nil {
		log.Error("迁移 media_assets 表失败", err)
	}
	return &gormMediaRepository{db: db}
}

// Add 插入一条新的媒体引用，然后按 createdAt 淘汰超出上限的最旧条目。
func (r *gormMediaRepository) Add(ctx context.Context, sessionID, url string) {
	asset := model.MediaAsset{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		URL:       url,
		CreatedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&asset).Error; err != nil {
		log.Warnf("写入媒体缓存失败: session=%s, err=%v", sessionID, err)
		return
	}
	r.evictOldest(ctx, sessionID)
}

// GetAll 返回按 createdAt 降序排列、长度不超过上限的媒体引用序列。
// 上限在读取侧同样生效，即使淘汰动作此前失败过。
func (r *gormMediaRepository) GetAll(ctx context.Context, sessionID string) []model.MediaAsset {
	var assets []model.MediaAsset
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(maxMediaAssets).
		Find(&assets).Error
	if err != nil {
		log.Warnf("读取媒体缓存失败: session=%s, err=%v", sessionID, err)
		return []model.MediaAsset{}
	}
	return assets
}

// Clear 删除会话的全部媒体引用。
func (r *gormMediaRepository) Clear(ctx context.Context, sessionID string) {
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&model.MediaAsset{}).Error; err != nil {
		log.Warnf("清空媒体缓存失败: session=%s, err=%v", sessionID, err)
	}
}

// evictOldest 删除超出保留上限的最旧条目。
func (r *gormMediaRepository) evictOldest(ctx context.Context, sessionID string) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.MediaAsset{}).Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
		log.Warnf("统计媒体缓存条目失败: session=%s, err=%v", sessionID, err)
		return
	}
	excess := int(count) - maxMediaAssets
	if excess <= 0 {
		return
	}

	var oldest []model.MediaAsset
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Limit(excess).
		Find(&oldest).Error
	if err != nil {
		log.Warnf("查询待淘汰媒体条目失败: session=%s, err=%v", sessionID, err)
		return
	}
	ids := make([]string, 0, len(oldest))
	for _, a := range oldest {
		ids = append(ids, a.ID)
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.MediaAsset{}).Error; err != nil {
		log.Warnf("淘汰媒体条目失败: session=%s, err=%v", sessionID, err)
	}
}
