package model

// QuotaRecord 代表某个自然日的用量计数。
// 同一时刻只有一条生效记录，日期变更时整体替换而不是合并。
type QuotaRecord struct {
	Date  string `json:"date"` // 格式 2006-01-02
	Count int    `json:"count"`
}
