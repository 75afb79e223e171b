// internal/pkg/mq/failure_handler.go
package mq

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"nexus-storage/internal/pkg/logger"
)

const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionFqcn     = "x-exception-fqcn"
	HeaderExceptionMessage  = "x-exception-message"
	HeaderErrorCode         = "x-error-code"
)

// coder 由带业务错误码的错误实现（例如 domain.StockError）。
type coder interface {
	ErrorCode() string
}

// FailureHandler 把处理失败的消息转发到死信主题（DLT），
// 让运维可以对账和重放，而不是只留下一行日志。
type FailureHandler struct {
	writer   MessageWriter
	dltTopic string
}

func NewFailureHandler(writer MessageWriter, dltTopic string) *FailureHandler {
	return &FailureHandler{writer: writer, dltTopic: dltTopic}
}

// Handle 将原始消息连同失败原因一起写入 DLT。
// 写入 DLT 也失败时返回错误，调用方只能记录日志。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) error {
	code := "UNKNOWN"
	var c coder
	if errors.As(cause, &c) {
		code = c.ErrorCode()
	}

	headers := []kafka.Header{
		{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
		{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
		{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		{Key: HeaderExceptionFqcn, Value: []byte(fmt.Sprintf("%T", errors.Cause(cause)))},
		{Key: HeaderExceptionMessage, Value: []byte(cause.Error())},
		{Key: HeaderErrorCode, Value: []byte(code)},
	}

	if err := ProduceMessage(ctx, h.writer, h.dltTopic, msg.Key, msg.Value, headers...); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("original_topic", msg.Topic).
			Str("error_code", code).
			Msg("🚨 CRITICAL: failed to publish message to dead letter topic")
		return errors.Wrap(err, "publish to dead letter topic")
	}

	logger.Ctx(ctx).Warn().
		Str("original_topic", msg.Topic).
		Str("dlt_topic", h.dltTopic).
		Str("error_code", code).
		Str("reason", cause.Error()).
		Msg("⚠️ Message routed to dead letter topic")
	return nil
}
