// internal/pkg/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storage"

var (
	// OperationsTotal 按操作和结果（success / 错误码）统计批处理次数。
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stock",
		Name:      "operations_total",
		Help:      "Number of stock batch operations by operation and outcome.",
	}, []string{"operation", "outcome"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "stock",
		Name:      "operation_duration_seconds",
		Help:      "Latency of stock batch operations including lock acquisition.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	ReservationsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stock",
		Name:      "reservations_expired_total",
		Help:      "Number of reservation rows released by the expiry reaper.",
	})

	EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stock",
		Name:      "event_publish_failures_total",
		Help:      "Events that could not be published after their transaction committed.",
	}, []string{"event"})

	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stock",
		Name:      "dead_letters_total",
		Help:      "Command messages routed to the dead letter topic.",
	}, []string{"topic", "code"})

	ReadModelApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "readmodel",
		Name:      "events_applied_total",
		Help:      "Stock events applied to (or skipped by) the read model.",
	}, []string{"result"})
)

// ObserveOperation 记录一次操作的耗时和结果。
func ObserveOperation(operation, outcome string, started time.Time) {
	OperationsTotal.WithLabelValues(operation, outcome).Inc()
	OperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}
