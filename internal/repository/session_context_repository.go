package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"nova-chat-go/pkg/log"
)

// ContextKeyLastCity 是会话上下文中最近提及城市的键名。
const ContextKeyLastCity = "last_city"

// 优先匹配带两位区域码的地名，例如 "St. Louis, MO"。
var regionCityPattern = regexp.MustCompile(`\b(?:[Ii]n|[Aa]t|[Ff]or)\s+([A-Z][A-Za-z.]*(?:\s+[A-Z][A-Za-z.]*)*,\s*[A-Z]{2})\b`)

// 宽松回退：介词后首字母大写的词组。
var looseCityPattern = regexp.MustCompile(`\b(?:[Ii]n|[Aa]t|[Ff]or)\s+([A-Z][A-Za-z.'-]*(?:\s+[A-Z][A-Za-z.'-]*){0,3})`)

// SessionContextRepository 定义了会话内推断上下文的读写接口。
// 条目只会被整体覆盖（last-write-wins），不保留历史，写入失败静默忽略。
type SessionContextRepository interface {
	Update(ctx context.Context, sessionID, observedText string)
	Get(ctx context.Context, sessionID, key string) (string, bool)
}

type kvSessionContextRepository struct {
	kv KV
}

// NewSessionContextRepository 创建一个新的 SessionContextRepository 实例。
func NewSessionContextRepository(kv KV) SessionContextRepository {
	return &kvSessionContextRepository{kv: kv}
}

func contextKey(sessionID string) string {
	return fmt.Sprintf("sess:%s:context", sessionID)
}

// Update 从观察到的文本中提取地名并覆盖 last_city。没有可信匹配时不做任何事。
func (r *kvSessionContextRepository) Update(ctx context.Context, sessionID, observedText string) {
	city := extractCity(observedText)
	if city == "" {
		return
	}

	entries := r.load(ctx, sessionID)
	entries[ContextKeyLastCity] = city
	data, err := json.Marshal(entries)
	if err != nil {
		log.Errorf("序列化会话上下文失败: %v", err)
		return
	}
	if err := r.kv.SetItem(ctx, contextKey(sessionID), string(data)); err != nil {
		log.Warnf("持久化会话上下文失败: session=%s, err=%v", sessionID, err)
	}
}

// Get 读取一个上下文条目。
func (r *kvSessionContextRepository) Get(ctx context.Context, sessionID, key string) (string, bool) {
	value, ok := r.load(ctx, sessionID)[key]
	return value, ok
}

// load 读取上下文映射，缺失或损坏时返回空映射。
func (r *kvSessionContextRepository) load(ctx context.Context, sessionID string) map[string]string {
	entries := map[string]string{}
	raw, err := r.kv.GetItem(ctx, contextKey(sessionID))
	if err != nil {
		return entries
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		log.Warnf("会话上下文内容损坏，按空映射处理: session=%s, err=%v", sessionID, err)
		return map[string]string{}
	}
	return entries
}

// extractCity 从文本中提取最可信的地名。带区域码的形式优先；同一模式出现
// 多个匹配时保留最后一个。指代性短语（"that city" 等）不算匹配。
func extractCity(text string) string {
	if city := lastMatch(regionCityPattern, text); city != "" {
		return city
	}
	return lastMatch(looseCityPattern, text)
}

func lastMatch(pattern *regexp.Regexp, text string) string {
	matches := pattern.FindAllStringSubmatch(text, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(matches[i][1])
		if isPronounReference(candidate) {
			continue
		}
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

func isPronounReference(candidate string) bool {
	lower := strings.ToLower(candidate)
	return lower == "that city" || lower == "this city" || lower == "that place" || lower == "this place"
}
