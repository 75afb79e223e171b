package port

import (
	"context"

	"nexus-storage/internal/service/stock/domain"
)

// EventPublisher 是库存事件的出站端口，只在事务提交之后调用。
type EventPublisher interface {
	Publish(ctx context.Context, topic string, items []domain.EventItem) error
}
