// internal/service/stock/interfaces/consumer.go
package interfaces

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"nexus-storage/internal/pkg/logger"
)

// MessageReader 抽象了 kafka.Reader 的消费能力，便于在测试中替换。
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// consumeLoop 是所有消费者共用的拉取循环：一条消息处理完、提交 Offset 之后才拉下一条，
// 因此同一主题分区内的消息严格按顺序处理。ctx 取消后关闭 reader 并返回 nil。
func consumeLoop(ctx context.Context, name string, reader MessageReader, handle func(ctx context.Context, msg kafka.Message)) error {
	logger.Ctx(ctx).Info().Str("consumer", name).Msgf("✅ Kafka consumer %s started.", name)
	defer func() {
		if err := reader.Close(); err != nil {
			logger.L().Warn().Err(err).Str("consumer", name).Msg("failed to close kafka reader")
		}
		logger.L().Info().Str("consumer", name).Msgf("🛑 Kafka consumer %s stopped.", name)
	}()

	for {
		// 我们使用FetchMessage而不是ReadMessage，以便更好地控制提交时机
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Str("consumer", name).Msg("could not read message, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second): // 避免快速失败循环
			}
			continue
		}

		handle(ctx, msg)

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Ctx(ctx).Error().Err(err).Str("consumer", name).Msg("failed to commit message")
		}
	}
}

// RunParallel 把同一消费组内的多个消费者合成一个 worker。Kafka 在组成员之间分配分区，
// 不同分区上的批次并发执行，分区内仍按顺序处理。任一消费者返回错误时取消其余消费者。
func RunParallel(runs ...func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		for _, run := range runs {
			g.Go(func() error { return run(gctx) })
		}
		return g.Wait()
	}
}
