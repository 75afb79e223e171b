// internal/service/stock/application/reaper.go
package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nexus-storage/internal/pkg/logger"
	"nexus-storage/internal/pkg/metrics"
	"nexus-storage/internal/service/stock/domain"
	"nexus-storage/internal/service/stock/port"
)

const DefaultReaperInterval = time.Minute

// LeaderLock 保证同一时刻只有一个副本在执行清理，由 zookeeper.DistributedLock 实现。
type LeaderLock interface {
	Lock(ctx context.Context) error
	Unlock() error
}

// ExpiryReaper 定期释放已过期但仍处于 reserved 状态的预占。
// 它与引擎使用同一个锁协调器，因此和正在进行的批处理之间是串行的。
type ExpiryReaper struct {
	store     domain.Store
	publisher port.EventPublisher
	tracer    trace.Tracer
	interval  time.Duration
	leader    LeaderLock
	now       func() time.Time
}

func NewExpiryReaper(store domain.Store, publisher port.EventPublisher, tracer trace.Tracer, interval time.Duration) *ExpiryReaper {
	if interval <= 0 {
		interval = DefaultReaperInterval
	}
	return &ExpiryReaper{
		store:     store,
		publisher: publisher,
		tracer:    tracer,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithLeaderLock 启用集群级的互斥，nil 表示单副本部署。
func (r *ExpiryReaper) WithLeaderLock(lock LeaderLock) *ExpiryReaper {
	r.leader = lock
	return r
}

// Start 按固定间隔执行清理，直到 ctx 被取消。单次失败只记录日志，不会终止循环。
func (r *ExpiryReaper) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	logger.Ctx(ctx).Info().Dur("interval", r.interval).Msg("✅ Reservation expiry reaper started.")

	for {
		select {
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("🛑 Reservation expiry reaper shutting down.")
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *ExpiryReaper) tick(ctx context.Context) {
	if r.leader != nil {
		lockCtx, cancel := context.WithTimeout(ctx, r.interval/2)
		err := r.leader.Lock(lockCtx)
		cancel()
		if err != nil {
			logger.Ctx(ctx).Debug().Err(err).Msg("reaper leader lock not acquired, skipping sweep")
			return
		}
		defer func() {
			if err := r.leader.Unlock(); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Msg("failed to release reaper leader lock")
			}
		}()
	}
	if _, err := r.Sweep(ctx, r.now()); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("code", string(domain.CodeOf(err))).Msg("❌ Reservation sweep failed")
	}
}

// Sweep 执行一次清理并返回被释放的记录（已发布为一个 reservation.expired 事件）。
func (r *ExpiryReaper) Sweep(ctx context.Context, now time.Time) ([]domain.EventItem, error) {
	ctx, span := r.tracer.Start(ctx, "stock.ReapExpired")
	defer span.End()
	started := time.Now()

	// 1. 无锁快照，只用来确定需要锁哪些商品
	candidates, err := r.store.Reservations().ListExpired(ctx, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list expired failed")
		metrics.ObserveOperation("reap", string(domain.CodeOf(err)), started)
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ItemID)
	}
	ids = domain.SortedItemIDs(ids)

	// 2. 加锁后重新读取，期间被确认或取消的记录不会再被释放
	var released []domain.EventItem
	err = r.store.WithLockedItems(ctx, ids, func(tx domain.Tx, locked domain.LockedStocks) error {
		released = nil
		rows, err := tx.Reservations().ListExpired(ctx, now, ids...)
		if err != nil {
			return err
		}
		lines := make([]domain.LineItem, 0, len(rows))
		for _, row := range rows {
			locked[row.ItemID].ReleaseReserved(row.Amount)
			row.Status = domain.StatusCancelled
			row.UpdatedAt = now
			if err := tx.Reservations().Update(ctx, row); err != nil {
				return err
			}
			lines = append(lines, domain.LineItem{ItemID: row.ItemID, Amount: row.Amount, BasketID: row.BasketID})
		}
		for _, id := range ids {
			entry := locked[id]
			if err := entry.Validate(); err != nil {
				return err
			}
			entry.Version++
			if err := tx.Stocks().Upsert(ctx, *entry); err != nil {
				return err
			}
		}
		for _, line := range lines {
			released = append(released, domain.NewEventItem(line, *locked[line.ItemID]))
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.CodeOf(err)))
		metrics.ObserveOperation("reap", string(domain.CodeOf(err)), started)
		return nil, err
	}

	metrics.ReservationsExpired.Add(float64(len(released)))
	metrics.ObserveOperation("reap", "success", started)
	span.SetAttributes(attribute.Int("stock.released", len(released)))

	// 3. 提交后一次性发布
	if len(released) > 0 {
		if err := r.publisher.Publish(ctx, domain.TopicReservationExpired, released); err != nil {
			perr := domain.NewEventPublishError(domain.TopicReservationExpired, err)
			metrics.EventPublishFailures.WithLabelValues(domain.TopicReservationExpired).Inc()
			span.RecordError(perr)
			logger.Ctx(ctx).Error().Err(perr).
				Str("reason", "event_publish_failed_after_commit").
				Str("code", string(perr.Code)).
				Msg("🚨 CRITICAL: expiry event lost after commit")
		}
		logger.Ctx(ctx).Info().Int("released", len(released)).Msg("🧹 Expired reservations released")
	}
	return released, nil
}
