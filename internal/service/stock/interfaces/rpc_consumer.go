// internal/service/stock/interfaces/rpc_consumer.go
package interfaces

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nexus-storage/internal/pkg/logger"
	"nexus-storage/internal/pkg/mq"
)

// RPCConsumer 消费 reserve / check_active_reservations / getall 请求，
// 把应答写到请求头 reply-to 指定的主题，并原样带回 correlation-id。
type RPCConsumer struct {
	reader  MessageReader
	writer  mq.MessageWriter
	gateway *Gateway
	tracer  trace.Tracer
}

func NewRPCConsumer(reader MessageReader, writer mq.MessageWriter, gateway *Gateway, tracer trace.Tracer) *RPCConsumer {
	return &RPCConsumer{reader: reader, writer: writer, gateway: gateway, tracer: tracer}
}

func (c *RPCConsumer) Run(ctx context.Context) error {
	return consumeLoop(ctx, "stock-rpc", c.reader, c.process)
}

func (c *RPCConsumer) process(parentCtx context.Context, msg kafka.Message) {
	ctx := mq.ExtractTraceContext(parentCtx, msg.Headers)
	correlationID := mq.GetHeader(msg.Headers, mq.HeaderCorrelationID)
	replyTo := mq.GetHeader(msg.Headers, mq.HeaderReplyTo)

	ctx, span := c.tracer.Start(ctx, "rpc "+msg.Topic, trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("messaging.correlation_id", correlationID),
		))
	defer span.End()

	reply, err := c.gateway.HandleRPC(ctx, msg.Topic, msg.Value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rpc dispatch failed")
		logger.Ctx(ctx).Error().Err(err).Str("topic", msg.Topic).Msg("❌ RPC request could not be dispatched")
		return
	}
	if replyTo == "" {
		logger.Ctx(ctx).Warn().Str("topic", msg.Topic).Str("correlation_id", correlationID).Msg("⚠️ RPC request without reply-to, dropping reply")
		return
	}

	header := kafka.Header{Key: mq.HeaderCorrelationID, Value: []byte(correlationID)}
	if err := mq.ProduceMessage(ctx, c.writer, replyTo, msg.Key, reply, header); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reply failed")
		logger.Ctx(ctx).Error().Err(err).Str("reply_to", replyTo).Str("correlation_id", correlationID).Msg("❌ Failed to send RPC reply")
		return
	}
	logger.Ctx(ctx).Debug().Str("topic", msg.Topic).Str("correlation_id", correlationID).Msg("RPC reply sent")
}
