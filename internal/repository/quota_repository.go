package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nova-chat-go/internal/model"
	"nova-chat-go/pkg/log"
)

const quotaDateFormat = "2006-01-02"

// QuotaRepository 定义了按自然日计数的配额操作接口。
// 计数在日期变更后的下一次访问时惰性归零，没有后台定时器。
// Consume 没有回滚路径：一旦计入，即使下游操作随后失败也不退还。
type QuotaRepository interface {
	CanConsume(ctx context.Context, sessionID string) bool
	Consume(ctx context.Context, sessionID string)
	Remaining(ctx context.Context, sessionID string) int
}

type kvQuotaRepository struct {
	kv    KV
	limit int
	now   func() time.Time
}

// NewQuotaRepository 创建一个每日上限为 limit 的配额计数器。
func NewQuotaRepository(kv KV, limit int) QuotaRepository {
	return &kvQuotaRepository{kv: kv, limit: limit, now: time.Now}
}

// NewQuotaRepositoryWithClock 允许注入时钟，用于测试日期翻转。
func NewQuotaRepositoryWithClock(kv KV, limit int, now func() time.Time) QuotaRepository {
	return &kvQuotaRepository{kv: kv, limit: limit, now: now}
}

func quotaKey(sessionID string) string {
	return fmt.Sprintf("sess:%s:image_quota", sessionID)
}

// CanConsume 返回当日剩余配额是否大于零。
func (r *kvQuotaRepository) CanConsume(ctx context.Context, sessionID string) bool {
	return r.load(ctx, sessionID).Count < r.limit
}

// Consume 将当日计数加一并持久化。持久化失败只记录日志，不影响调用方。
func (r *kvQuotaRepository) Consume(ctx context.Context, sessionID string) {
	record := r.load(ctx, sessionID)
	record.Count++
	data, err := json.Marshal(record)
	if err != nil {
		log.Errorf("序列化配额记录失败: %v", err)
		return
	}
	if err := r.kv.SetItem(ctx, quotaKey(sessionID), string(data)); err != nil {
		log.Warnf("持久化配额记录失败: session=%s, err=%v", sessionID, err)
	}
}

// Remaining 返回当日剩余可用次数。
func (r *kvQuotaRepository) Remaining(ctx context.Context, sessionID string) int {
	remaining := r.limit - r.load(ctx, sessionID).Count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// load 读取当前生效的配额记录。记录缺失、损坏或日期不是今天时，
// 一律视为今天的全新记录。
func (r *kvQuotaRepository) load(ctx context.Context, sessionID string) model.QuotaRecord {
	today := r.now().Format(quotaDateFormat)
	fresh := model.QuotaRecord{Date: today, Count: 0}

	raw, err := r.kv.GetItem(ctx, quotaKey(sessionID))
	if err != nil {
		return fresh
	}
	var record model.QuotaRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		log.Warnf("配额记录损坏，重新初始化: session=%s, err=%v", sessionID, err)
		return fresh
	}
	if record.Date != today {
		return fresh
	}
	return record
}
