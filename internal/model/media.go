package model

import "time"

// MediaAsset 代表一张已生成的图片引用，url 可能是 data URI 或对象存储地址。
// 对话记录中只保留文本占位符，完整引用仅由媒体缓存持有。
type MediaAsset struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID string    `gorm:"index;size:36;not null" json:"sessionId"`
	URL       string    `gorm:"type:longtext;not null" json:"url"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

func (MediaAsset) TableName() string {
	return "media_assets"
}
