// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

// ErrKVNotFound 表示键不存在。
var ErrKVNotFound = errors.New("kv: key not found")

// ErrKVCapacity 表示写入因底层介质容量不足被拒绝。
var ErrKVCapacity = errors.New("kv: capacity exceeded")

// KV 抽象了一个容量未知、可能拒绝写入的持久化键值介质。
// 写入失败时返回 ErrKVCapacity（容量原因）或其他错误；上层的降级逻辑
// 对两者一视同仁，绝不向调用方抛出。
type KV interface {
	SetItem(ctx context.Context, key, value string) error
	GetItem(ctx context.Context, key string) (string, error)
}

type redisKV struct {
	client *redis.Client
}

// NewRedisKV 基于 Redis 创建一个 KV 介质实现。
func NewRedisKV(client *redis.Client) KV {
	return &redisKV{client: client}
}

// SetItem 写入一个键值对。Redis 在达到 maxmemory 且无可淘汰键时会以
// OOM 错误拒绝写入，这里将其映射为 ErrKVCapacity。
func (s *redisKV) SetItem(ctx context.Context, key, value string) error {
	err := s.client.Set(ctx, key, value, 0).Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "OOM") {
		return fmt.Errorf("set %s: %w", key, ErrKVCapacity)
	}
	return fmt.Errorf("set %s: %w", key, err)
}

// GetItem 读取一个键，键不存在时返回 ErrKVNotFound。
func (s *redisKV) GetItem(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrKVNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return val, nil
}
