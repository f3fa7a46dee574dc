// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"nova-chat-go/internal/config"
	"nova-chat-go/pkg/log"
)

// UsageEvent 是上报给下游分析管道的用量事件。
// 事件投递是尽力而为的：失败只记录日志，绝不影响主流程。
type UsageEvent struct {
	Type           string    `json:"type"` // turn_saved / image_generated
	SessionID      string    `json:"session_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。brokers 为空时不启用，事件上报退化为 no-op。
func InitProducer(cfg config.KafkaConfig) {
	if cfg.Brokers == "" {
		log.Info("未配置 Kafka，用量事件上报不启用")
		return
	}
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// PublishUsageEvent 发送一个用量事件到 Kafka。
func PublishUsageEvent(event UsageEvent) {
	if producer == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		log.Errorf("序列化用量事件失败: %v", err)
		return
	}

	err = producer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(event.SessionID),
			Value: eventBytes,
		},
	)
	if err != nil {
		log.Warnf("发送用量事件失败: type=%s, err=%v", event.Type, err)
	}
}
