package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"nexus-storage/internal/pkg/mq"
	"nexus-storage/internal/service/stock/domain"
)

// EventKafkaAdapter 实现了 port.EventPublisher 接口，把库存事件写入以路由键命名的主题。
type EventKafkaAdapter struct {
	writer mq.MessageWriter
}

// NewEventKafkaAdapter 创建一个新的事件生产者适配器。writer 不能绑定固定主题。
func NewEventKafkaAdapter(writer mq.MessageWriter) *EventKafkaAdapter {
	return &EventKafkaAdapter{writer: writer}
}

// Publish 把整个批次序列化为一条消息。消息 key 是随机的事件 ID，各批次可以落在不同分区。
func (a *EventKafkaAdapter) Publish(ctx context.Context, topic string, items []domain.EventItem) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal stock event: %w", err)
	}
	// 调用通用的 mq.ProduceMessage，它会自动处理追踪上下文注入
	return mq.ProduceMessage(ctx, a.writer, topic, []byte(uuid.NewString()), payload)
}
