// internal/service/stock/interfaces/dlt_consumer.go
package interfaces

import (
	"context"

	"github.com/segmentio/kafka-go"

	"nexus-storage/internal/pkg/logger"
	"nexus-storage/internal/pkg/mq"
)

// DltConsumer 监听库存命令的死信主题并记录日志，供运维对账和重放。
type DltConsumer struct {
	reader MessageReader
}

func NewDltConsumer(reader MessageReader) *DltConsumer {
	return &DltConsumer{reader: reader}
}

// Run 中 DLT 消息总是直接提交，因为它们已经被“处理”了（即记录日志）。
func (c *DltConsumer) Run(ctx context.Context) error {
	return consumeLoop(ctx, "stock-dlt", c.reader, logDeadLetter)
}

func logDeadLetter(ctx context.Context, msg kafka.Message) {
	ctx = mq.ExtractTraceContext(ctx, msg.Headers)
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}

	// 使用结构化日志记录，便于后续分析
	logger.Ctx(ctx).Error().
		Str("reason", "dead_letter_message_received").
		Str("original_topic", headers[mq.HeaderOriginalTopic]).
		Str("original_partition", headers[mq.HeaderOriginalPartition]).
		Str("original_offset", headers[mq.HeaderOriginalOffset]).
		Str("error_code", headers[mq.HeaderErrorCode]).
		Str("exception_fqcn", headers[mq.HeaderExceptionFqcn]).
		Str("exception_message", headers[mq.HeaderExceptionMessage]).
		Str("key", string(msg.Key)).
		Str("value", string(msg.Value)).
		Msg("🚨 CRITICAL: Dead letter message received")
}
