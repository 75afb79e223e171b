// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// Init 初始化全局日志器，所有服务在启动时调用一次。
// level 为空或无法解析时使用 info 级别。
func Init(serviceName, level string) {
	InitWithWriter(serviceName, level, os.Stdout)
}

// InitWithWriter 与 Init 相同，但允许指定输出（测试中用于捕获日志）。
func InitWithWriter(serviceName, level string, w io.Writer) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	l := zerolog.New(w).Level(lvl).With().Timestamp().Str("service", serviceName).Logger()

	mu.Lock()
	base = l
	mu.Unlock()
}

// Ctx 返回绑定了当前链路信息的日志器。
// 如果 ctx 中带有有效的 Span，会自动附加 trace_id 和 span_id，便于在 Jaeger 中关联。
func Ctx(ctx context.Context) *zerolog.Logger {
	mu.RLock()
	l := base
	mu.RUnlock()

	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			l = l.With().
				Str("trace_id", sc.TraceID().String()).
				Str("span_id", sc.SpanID().String()).
				Logger()
		}
	}
	return &l
}

// L 返回不带链路信息的全局日志器。
func L() *zerolog.Logger {
	return Ctx(context.Background())
}
