// internal/service/stock/interfaces/command_consumer.go
package interfaces

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nexus-storage/internal/pkg/logger"
	"nexus-storage/internal/pkg/metrics"
	"nexus-storage/internal/pkg/mq"
	"nexus-storage/internal/service/stock/domain"
)

// DeadLetterer 把处理失败的消息转入死信主题，由 mq.FailureHandler 实现。
type DeadLetterer interface {
	Handle(ctx context.Context, msg kafka.Message, cause error) error
}

// CommandConsumer 消费 restock / confirm / cancel 命令。命令没有应答，
// 失败的批次带着错误码进入死信主题。
type CommandConsumer struct {
	reader  MessageReader
	gateway *Gateway
	dlt     DeadLetterer
	tracer  trace.Tracer
}

func NewCommandConsumer(reader MessageReader, gateway *Gateway, dlt DeadLetterer, tracer trace.Tracer) *CommandConsumer {
	return &CommandConsumer{reader: reader, gateway: gateway, dlt: dlt, tracer: tracer}
}

// Run 阻塞消费直到 ctx 取消，可直接作为 bootstrap.Worker 使用。
func (c *CommandConsumer) Run(ctx context.Context) error {
	return consumeLoop(ctx, "stock-command", c.reader, c.process)
}

func (c *CommandConsumer) process(parentCtx context.Context, msg kafka.Message) {
	ctx := mq.ExtractTraceContext(parentCtx, msg.Headers)
	ctx, span := c.tracer.Start(ctx, "consume "+msg.Topic, trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("messaging.destination", msg.Topic)))
	defer span.End()

	err := c.gateway.HandleCommand(ctx, msg.Topic, msg.Value)
	if err == nil {
		logger.Ctx(ctx).Info().Str("topic", msg.Topic).Msg("Command batch success")
		return
	}

	code := string(domain.CodeOf(err))
	span.RecordError(err)
	span.SetStatus(codes.Error, code)
	logger.Ctx(ctx).Error().Err(err).Str("topic", msg.Topic).Str("code", code).Msg("❌ Command batch failed")

	metrics.DeadLetters.WithLabelValues(msg.Topic, code).Inc()
	if dltErr := c.dlt.Handle(ctx, msg, err); dltErr != nil {
		span.RecordError(dltErr, trace.WithAttributes(attribute.Bool("critical.error", true)))
	}
}
