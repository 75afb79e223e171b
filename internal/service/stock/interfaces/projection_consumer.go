// internal/service/stock/interfaces/projection_consumer.go
package interfaces

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"nexus-storage/internal/pkg/logger"
	"nexus-storage/internal/pkg/mq"
	"nexus-storage/internal/service/stock/domain"
	"nexus-storage/internal/service/stock/port"
)

// Broadcaster 把读模型的变化推送给订阅者，由 Hub 实现。
type Broadcaster interface {
	Broadcast(items []domain.EventItem)
}

// ProjectionConsumer 订阅全部库存事件并更新读模型。
type ProjectionConsumer struct {
	reader      MessageReader
	view        port.StockView
	broadcaster Broadcaster
}

func NewProjectionConsumer(reader MessageReader, view port.StockView, broadcaster Broadcaster) *ProjectionConsumer {
	return &ProjectionConsumer{reader: reader, view: view, broadcaster: broadcaster}
}

func (c *ProjectionConsumer) Run(ctx context.Context) error {
	return consumeLoop(ctx, "stock-projection", c.reader, func(ctx context.Context, msg kafka.Message) {
		c.Project(mq.ExtractTraceContext(ctx, msg.Headers), msg.Topic, msg.Value)
	})
}

// Project 应用一条事件消息，只有版本更新的行会被写入并广播。
func (c *ProjectionConsumer) Project(ctx context.Context, topic string, payload []byte) {
	var items []domain.EventItem
	if err := json.Unmarshal(payload, &items); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("topic", topic).Msg("Failed to unmarshal stock event. Message will be skipped.")
		return
	}
	applied, err := c.view.Apply(ctx, items)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("topic", topic).Msg("❌ Failed to apply stock event to read model")
	}
	if len(applied) > 0 && c.broadcaster != nil {
		c.broadcaster.Broadcast(applied)
	}
}
