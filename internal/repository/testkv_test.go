package repository

import "context"

// memoryKV 是一个容量受限的内存 KV 介质，用于模拟容量未知、可能拒绝
// 写入的持久化介质。capacity <= 0 表示容量不限。
type memoryKV struct {
	capacity int
	items    map[string]string
	setCalls int
}

func newMemoryKV(capacity int) *memoryKV {
	return &memoryKV{capacity: capacity, items: make(map[string]string)}
}

func (m *memoryKV) SetItem(_ context.Context, key, value string) error {
	m.setCalls++
	if m.capacity > 0 {
		total := len(value)
		for k, v := range m.items {
			if k == key {
				continue
			}
			total += len(v)
		}
		if total > m.capacity {
			return ErrKVCapacity
		}
	}
	m.items[key] = value
	return nil
}

func (m *memoryKV) GetItem(_ context.Context, key string) (string, error) {
	value, ok := m.items[key]
	if !ok {
		return "", ErrKVNotFound
	}
	return value, nil
}

// recordingKV 在 memoryKV 基础上记录每一次写入尝试的负载。
type recordingKV struct {
	*memoryKV
	attempts []string
}

func (r *recordingKV) SetItem(ctx context.Context, key, value string) error {
	r.attempts = append(r.attempts, value)
	return r.memoryKV.SetItem(ctx, key, value)
}
