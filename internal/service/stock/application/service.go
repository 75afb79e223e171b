// internal/service/stock/application/service.go
package application

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nexus-storage/internal/pkg/logger"
	"nexus-storage/internal/pkg/metrics"
	"nexus-storage/internal/service/stock/domain"
	"nexus-storage/internal/service/stock/port"
)

const DefaultReservationTTL = time.Minute

// ReservationEngine 负责库存的批量原子操作。
// 每个批次在一个事务内锁住所有涉及的商品，先整体校验再修改，提交之后才发布成功事件。
type ReservationEngine struct {
	store     domain.Store
	publisher port.EventPublisher
	tracer    trace.Tracer
	ttl       time.Duration
	now       func() time.Time
}

type Option func(*ReservationEngine)

// WithClock 替换时钟，测试中用于控制过期时间。
func WithClock(now func() time.Time) Option {
	return func(e *ReservationEngine) { e.now = now }
}

func NewReservationEngine(store domain.Store, publisher port.EventPublisher, tracer trace.Tracer, ttl time.Duration, opts ...Option) *ReservationEngine {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	e := &ReservationEngine{
		store:     store,
		publisher: publisher,
		tracer:    tracer,
		ttl:       ttl,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// applyFunc 在锁内对已锁定的库存记录执行业务修改。
type applyFunc func(ctx context.Context, tx domain.Tx, locked domain.LockedStocks, now time.Time) error

// Restock 增加库存总量，返回提交后的库存数字。
func (e *ReservationEngine) Restock(ctx context.Context, items []domain.LineItem) ([]domain.EventItem, error) {
	return e.runBatch(ctx, "restock", domain.TopicRestockSuccess, items, requireAmounts(false),
		func(ctx context.Context, tx domain.Tx, locked domain.LockedStocks, now time.Time) error {
			for _, line := range items {
				locked[line.ItemID].Total += line.Amount
			}
			return nil
		})
}

// Reserve 为购物车创建或调整限时预占。
func (e *ReservationEngine) Reserve(ctx context.Context, items []domain.LineItem) ([]domain.EventItem, error) {
	return e.runBatch(ctx, "reserve", domain.TopicReserveSuccess, items, requireAmounts(true), e.applyReserve(items))
}

func (e *ReservationEngine) applyReserve(items []domain.LineItem) applyFunc {
	return func(ctx context.Context, tx domain.Tx, locked domain.LockedStocks, now time.Time) error {
		reservations := tx.Reservations()

		// 1. 先用批次开始前的数字校验全部行，任何一行不足都不做修改
		for _, line := range items {
			existing, err := reservations.FindActive(ctx, line.ItemID, line.BasketID, now)
			if err != nil {
				return err
			}
			needed := line.Amount
			if existing != nil {
				needed = line.Amount - existing.Amount
			}
			if available := locked[line.ItemID].Available(); needed > available {
				return domain.NewInsufficientStockError(line.ItemID, available, needed)
			}
		}

		// 2. 逐行应用；同一商品出现多次时，后面的行看到前面行的结果
		expiresAt := now.Add(e.ttl)
		for _, line := range items {
			entry := locked[line.ItemID]
			existing, err := reservations.FindActive(ctx, line.ItemID, line.BasketID, now)
			if err != nil {
				return err
			}

			if existing == nil {
				if line.Amount == 0 {
					continue
				}
				if entry.Available() < line.Amount {
					return domain.NewInsufficientStockError(line.ItemID, entry.Available(), line.Amount)
				}
				res := &domain.Reservation{
					ItemID:    line.ItemID,
					BasketID:  line.BasketID,
					Amount:    line.Amount,
					Status:    domain.StatusReserved,
					ExpiresAt: expiresAt,
					CreatedAt: now,
					UpdatedAt: now,
				}
				if err := reservations.Create(ctx, res); err != nil {
					return err
				}
				entry.Reserved += line.Amount
				continue
			}

			delta := line.Amount - existing.Amount
			switch {
			case delta > 0:
				if entry.Available() < delta {
					return domain.NewInsufficientStockError(line.ItemID, entry.Available(), delta)
				}
				entry.Reserved += delta
				existing.ExpiresAt = expiresAt
			case delta < 0:
				entry.ReleaseReserved(-delta)
				if line.Amount == 0 {
					existing.Status = domain.StatusCancelled
				}
			default:
				existing.ExpiresAt = expiresAt
			}
			existing.Amount = line.Amount
			existing.UpdatedAt = now
			if err := reservations.Update(ctx, *existing); err != nil {
				return err
			}
		}
		return nil
	}
}

// Confirm 按 FIFO 消耗所有购物车的预占并扣减库存总量。
func (e *ReservationEngine) Confirm(ctx context.Context, items []domain.LineItem) ([]domain.EventItem, error) {
	return e.runBatch(ctx, "confirm", domain.TopicConfirmSuccess, items, requireAmounts(false),
		func(ctx context.Context, tx domain.Tx, locked domain.LockedStocks, now time.Time) error {
			if err := checkReserved(items, locked); err != nil {
				return err
			}
			for _, line := range items {
				if line.Amount == 0 {
					continue
				}
				entry := locked[line.ItemID]
				if entry.Reserved < line.Amount {
					return domain.NewInsufficientReservedStockError(line.ItemID, entry.Reserved, line.Amount)
				}
				rows, err := tx.Reservations().ListReserved(ctx, line.ItemID)
				if err != nil {
					return err
				}
				if err := consume(ctx, tx, rows, line, domain.StatusConfirmed, now); err != nil {
					return err
				}
				entry.Consume(line.Amount)
			}
			return nil
		})
}

// Cancel 释放某个购物车在指定商品上的预占。
func (e *ReservationEngine) Cancel(ctx context.Context, items []domain.LineItem) ([]domain.EventItem, error) {
	return e.runBatch(ctx, "cancel", domain.TopicCancelSuccess, items, requireAmounts(true),
		func(ctx context.Context, tx domain.Tx, locked domain.LockedStocks, now time.Time) error {
			if err := checkReserved(items, locked); err != nil {
				return err
			}
			for _, line := range items {
				if line.Amount == 0 {
					continue
				}
				entry := locked[line.ItemID]
				if entry.Reserved < line.Amount {
					return domain.NewInsufficientReservedStockError(line.ItemID, entry.Reserved, line.Amount)
				}
				rows, err := tx.Reservations().ListReservedByBasket(ctx, line.ItemID, line.BasketID)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					return domain.NewReservationNotFoundError(line.ItemID, line.BasketID)
				}
				if err := consume(ctx, tx, rows, line, domain.StatusCancelled, now); err != nil {
					return err
				}
				entry.ReleaseReserved(line.Amount)
			}
			return nil
		})
}

// CheckActiveReservations 检查购物车是否仍持有每一行所需数量的有效预占。只读，不加锁。
func (e *ReservationEngine) CheckActiveReservations(ctx context.Context, items []domain.LineItem) (*domain.CheckResponse, error) {
	ctx, span := e.tracer.Start(ctx, "stock.CheckActiveReservations", trace.WithAttributes(attribute.Int("stock.lines", len(items))))
	defer span.End()
	started := time.Now()

	resp, err := e.checkActive(ctx, items)
	if err != nil {
		e.fail(ctx, span, "check_active_reservations", started, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("stock.missing", len(resp.MissingItems)))
	metrics.ObserveOperation("check_active_reservations", "success", started)
	return resp, nil
}

func (e *ReservationEngine) checkActive(ctx context.Context, items []domain.LineItem) (*domain.CheckResponse, error) {
	resp := &domain.CheckResponse{Success: true, MissingItems: []int64{}}
	if len(items) == 0 {
		return resp, nil
	}

	if err := requireAmounts(true)(items); err != nil {
		return nil, err
	}
	basketID := items[0].BasketID
	for _, line := range items {
		if line.BasketID != basketID {
			return nil, domain.NewInvalidInputError("all items must share one basketId", map[string]any{"itemId": line.ItemID, "basketId": line.BasketID})
		}
	}

	// 同一商品的重复行逐行与持有量比较，不累加

	rows, err := e.store.Reservations().ListActiveByBasket(ctx, basketID, e.now())
	if err != nil {
		return nil, err
	}
	held := make(map[int64]int, len(rows))
	for _, r := range rows {
		held[r.ItemID] += r.Amount
	}

	seen := make(map[int64]struct{})
	for _, line := range items {
		if held[line.ItemID] >= line.Amount {
			continue
		}
		if _, dup := seen[line.ItemID]; dup {
			continue
		}
		seen[line.ItemID] = struct{}{}
		resp.MissingItems = append(resp.MissingItems, line.ItemID)
	}
	resp.Success = len(resp.MissingItems) == 0
	return resp, nil
}

// GetFullStock 返回全部库存记录的只读快照。
func (e *ReservationEngine) GetFullStock(ctx context.Context) ([]domain.FullItem, error) {
	ctx, span := e.tracer.Start(ctx, "stock.GetFullStock")
	defer span.End()
	started := time.Now()

	entries, err := e.store.Stocks().ListAll(ctx)
	if err != nil {
		e.fail(ctx, span, "getall", started, err)
		return nil, err
	}
	out := make([]domain.FullItem, 0, len(entries))
	for _, s := range entries {
		out = append(out, domain.FullItem{ItemID: s.ItemID, Total: s.Total, Reserved: s.Reserved})
	}
	metrics.ObserveOperation("getall", "success", started)
	return out, nil
}

// runBatch 是所有写操作的公共流程：校验输入、加锁执行、校验不变式、写回、提交后发布事件。
func (e *ReservationEngine) runBatch(ctx context.Context, op, topic string, items []domain.LineItem, validate func([]domain.LineItem) error, apply applyFunc) ([]domain.EventItem, error) {
	ctx, span := e.tracer.Start(ctx, "stock."+op, trace.WithAttributes(
		attribute.String("stock.operation", op),
		attribute.Int("stock.lines", len(items)),
	))
	defer span.End()
	started := time.Now()

	if err := validate(items); err != nil {
		e.fail(ctx, span, op, started, err)
		return nil, err
	}

	ids := make([]int64, 0, len(items))
	for _, line := range items {
		ids = append(ids, line.ItemID)
	}

	now := e.now()
	var events []domain.EventItem
	err := e.store.WithLockedItems(ctx, ids, func(tx domain.Tx, locked domain.LockedStocks) error {
		if err := apply(ctx, tx, locked, now); err != nil {
			return err
		}
		for _, id := range domain.SortedItemIDs(ids) {
			entry := locked[id]
			if err := entry.Validate(); err != nil {
				return err
			}
			entry.Version++
			if err := tx.Stocks().Upsert(ctx, *entry); err != nil {
				return err
			}
		}
		events = make([]domain.EventItem, 0, len(items))
		for _, line := range items {
			events = append(events, domain.NewEventItem(line, *locked[line.ItemID]))
		}
		return nil
	})
	if err != nil {
		e.fail(ctx, span, op, started, err)
		return nil, err
	}

	e.publish(ctx, span, topic, events)
	metrics.ObserveOperation(op, "success", started)
	logger.Ctx(ctx).Info().Str("operation", op).Int("lines", len(items)).Msgf("✅ Stock %s committed", op)
	return events, nil
}

// publish 在提交之后发布事件。失败不会回滚已提交的修改，只记录日志和指标。
func (e *ReservationEngine) publish(ctx context.Context, span trace.Span, topic string, events []domain.EventItem) {
	if len(events) == 0 {
		return
	}
	if err := e.publisher.Publish(ctx, topic, events); err != nil {
		perr := domain.NewEventPublishError(topic, err)
		metrics.EventPublishFailures.WithLabelValues(topic).Inc()
		span.RecordError(perr, trace.WithAttributes(attribute.Bool("critical.error", true)))
		logger.Ctx(ctx).Error().Err(perr).
			Str("reason", "event_publish_failed_after_commit").
			Str("code", string(perr.Code)).
			Str("topic", topic).
			Msg("🚨 CRITICAL: stock event lost after commit")
		return
	}
	span.AddEvent("stock event published", trace.WithAttributes(attribute.String("topic", topic)))
}

func (e *ReservationEngine) fail(ctx context.Context, span trace.Span, op string, started time.Time, err error) {
	code := domain.CodeOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(code))
	metrics.ObserveOperation(op, string(code), started)

	ev := logger.Ctx(ctx).Warn()
	if code == domain.CodeDatabaseOperation {
		ev = logger.Ctx(ctx).Error()
	}
	ev.Err(err).Str("operation", op).Str("code", string(code)).Msg("❌ Stock operation rejected")
}

// requireAmounts 返回输入校验函数：数量不能为负，needBasket 时必须带购物车 ID。
func requireAmounts(needBasket bool) func([]domain.LineItem) error {
	return func(items []domain.LineItem) error {
		for i, line := range items {
			if line.Amount < 0 {
				return domain.NewInvalidInputError(fmt.Sprintf("amount must be >= 0 (line %d, item %d)", i, line.ItemID),
					map[string]any{"itemId": line.ItemID, "amount": line.Amount})
			}
			if needBasket && line.BasketID == 0 {
				return domain.NewInvalidInputError(fmt.Sprintf("basketId is required (line %d, item %d)", i, line.ItemID),
					map[string]any{"itemId": line.ItemID})
			}
		}
		return nil
	}
}

// checkReserved 用批次开始前的数字校验每一行的 reserved >= amount。
func checkReserved(items []domain.LineItem, locked domain.LockedStocks) error {
	for _, line := range items {
		if entry := locked[line.ItemID]; entry.Reserved < line.Amount {
			return domain.NewInsufficientReservedStockError(line.ItemID, entry.Reserved, line.Amount)
		}
	}
	return nil
}

// consume 对一组 reserved 记录执行 FIFO 消耗，并把结果写回。
func consume(ctx context.Context, tx domain.Tx, rows []domain.Reservation, line domain.LineItem, terminal domain.ReservationStatus, now time.Time) error {
	c := domain.ConsumeFIFO(rows, line.Amount, terminal, now)
	if c.Shortfall > 0 {
		return domain.NewReservationMismatchError(line.ItemID, c.Shortfall)
	}
	reservations := tx.Reservations()
	for _, r := range c.Consumed {
		if err := reservations.Update(ctx, r); err != nil {
			return err
		}
	}
	if c.Remainder != nil {
		if err := reservations.Create(ctx, c.Remainder); err != nil {
			return err
		}
	}
	return nil
}
