package persistence

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nexus-storage/internal/service/stock/domain"
)

// GormStore 是 domain.Store 的 GORM 实现。
// 锁依赖数据库的行级排他锁（SELECT ... FOR UPDATE），多个副本共享同一个一致性域。
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建一个新的 GORM 仓储实例
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Stocks 返回不加锁的库存视图，只能用于只读查询。
func (s *GormStore) Stocks() domain.StockLedger {
	return &GormStockLedger{db: s.db}
}

// Reservations 返回不加锁的预占记录视图，只能用于只读查询。
func (s *GormStore) Reservations() domain.ReservationStore {
	return &GormReservationStore{db: s.db}
}

// WithLockedItems 实现 domain.BatchLockCoordinator。
func (s *GormStore) WithLockedItems(ctx context.Context, itemIDs []int64, fn func(tx domain.Tx, locked domain.LockedStocks) error) error {
	ids := domain.SortedItemIDs(itemIDs)

	// 缺失的库存行在事务外以零值插入并立即提交，保证后续的 FOR UPDATE 一定能锁到行。
	if err := s.ensureRows(ctx, ids); err != nil {
		return domain.NewDatabaseOperationError("ensure stock rows", err)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked := make(domain.LockedStocks, len(ids))
		for _, id := range ids {
			var model StockModel
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("item_id = ?", id).
				Take(&model).Error
			if err != nil {
				return domain.NewDatabaseOperationError("lock stock row", errors.Wrapf(err, "item %d", id))
			}
			entry := ToDomainStock(model)
			locked[id] = &entry
		}
		return fn(&gormTx{db: tx}, locked)
	})
	if err == nil {
		return nil
	}
	var se *domain.StockError
	if errors.As(err, &se) {
		return err
	}
	return domain.NewDatabaseOperationError("commit batch", errors.Wrap(err, "transaction"))
}

func (s *GormStore) ensureRows(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	// 只对缺失的 id 插入：MySQL 的 ON DUPLICATE KEY 会给已存在的行加排他锁
	var existing []int64
	if err := s.db.WithContext(ctx).Model(&StockModel{}).
		Where("item_id IN ?", ids).
		Pluck("item_id", &existing).Error; err != nil {
		return errors.Wrap(err, "find existing stock rows")
	}
	missing := missingIDs(ids, existing)
	if len(missing) == 0 {
		return nil
	}
	rows := make([]StockModel, 0, len(missing))
	for _, id := range missing {
		rows = append(rows, StockModel{ItemID: id})
	}
	// 并发批次可能同时插入同一 id，冲突时忽略
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
	return errors.Wrap(err, "insert missing stock rows")
}

// missingIDs 返回 ids 中不在 existing 里的部分，保持 ids 的顺序。
func missingIDs(ids, existing []int64) []int64 {
	have := make(map[int64]struct{}, len(existing))
	for _, id := range existing {
		have[id] = struct{}{}
	}
	var out []int64
	for _, id := range ids {
		if _, ok := have[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) Stocks() domain.StockLedger {
	return &GormStockLedger{db: t.db}
}

func (t *gormTx) Reservations() domain.ReservationStore {
	return &GormReservationStore{db: t.db}
}

// GormStockLedger 是 domain.StockLedger 的 GORM 实现
type GormStockLedger struct {
	db *gorm.DB
}

func (r *GormStockLedger) Get(ctx context.Context, itemID int64) (domain.StockEntry, error) {
	var model StockModel
	err := r.db.WithContext(ctx).Where("item_id = ?", itemID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.NewStockEntry(itemID), nil
		}
		return domain.StockEntry{}, domain.NewDatabaseOperationError("get stock", errors.WithStack(err))
	}
	return ToDomainStock(model), nil
}

func (r *GormStockLedger) ListAll(ctx context.Context) ([]domain.StockEntry, error) {
	var models []StockModel
	if err := r.db.WithContext(ctx).Order("item_id ASC").Find(&models).Error; err != nil {
		return nil, domain.NewDatabaseOperationError("list stock", errors.WithStack(err))
	}
	out := make([]domain.StockEntry, 0, len(models))
	for _, m := range models {
		out = append(out, ToDomainStock(m))
	}
	return out, nil
}

func (r *GormStockLedger) Upsert(ctx context.Context, entry domain.StockEntry) error {
	model := FromDomainStock(entry)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"total", "reserved", "version", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return domain.NewDatabaseOperationError("upsert stock", errors.Wrapf(err, "item %d", entry.ItemID))
	}
	return nil
}

// GormReservationStore 是 domain.ReservationStore 的 GORM 实现
type GormReservationStore struct {
	db *gorm.DB
}

const fifoOrder = "expires_at ASC, id ASC"

func (r *GormReservationStore) FindActive(ctx context.Context, itemID, basketID int64, now time.Time) (*domain.Reservation, error) {
	var model ReservationModel
	err := r.db.WithContext(ctx).
		Where("item_id = ? AND basket_id = ? AND status = ? AND expires_at > ?", itemID, basketID, domain.StatusReserved, now.UTC()).
		Order("created_at DESC, id DESC").
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, domain.NewDatabaseOperationError("find active reservation", errors.WithStack(err))
	}
	res := ToDomainReservation(model)
	return &res, nil
}

func (r *GormReservationStore) ListReserved(ctx context.Context, itemID int64) ([]domain.Reservation, error) {
	return r.list(ctx, "list reserved", "item_id = ? AND status = ?", itemID, domain.StatusReserved)
}

func (r *GormReservationStore) ListReservedByBasket(ctx context.Context, itemID, basketID int64) ([]domain.Reservation, error) {
	return r.list(ctx, "list reserved by basket", "item_id = ? AND basket_id = ? AND status = ?", itemID, basketID, domain.StatusReserved)
}

func (r *GormReservationStore) ListActiveByBasket(ctx context.Context, basketID int64, now time.Time) ([]domain.Reservation, error) {
	return r.list(ctx, "list active by basket", "basket_id = ? AND status = ? AND expires_at > ?", basketID, domain.StatusReserved, now.UTC())
}

func (r *GormReservationStore) ListExpired(ctx context.Context, now time.Time, itemIDs ...int64) ([]domain.Reservation, error) {
	q := r.db.WithContext(ctx).Where("status = ? AND expires_at < ?", domain.StatusReserved, now.UTC())
	if len(itemIDs) > 0 {
		q = q.Where("item_id IN ?", itemIDs)
	}
	var models []ReservationModel
	if err := q.Order(fifoOrder).Find(&models).Error; err != nil {
		return nil, domain.NewDatabaseOperationError("list expired", errors.WithStack(err))
	}
	return toDomainReservations(models), nil
}

func (r *GormReservationStore) Create(ctx context.Context, res *domain.Reservation) error {
	model := FromDomainReservation(*res)
	model.ID = 0
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.NewDatabaseOperationError("create reservation", errors.Wrapf(err, "item %d basket %d", res.ItemID, res.BasketID))
	}
	res.ID = model.ID
	res.CreatedAt = model.CreatedAt
	res.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *GormReservationStore) Update(ctx context.Context, res domain.Reservation) error {
	// 只更新会变化的字段
	updateData := map[string]interface{}{
		"amount":     res.Amount,
		"status":     res.Status,
		"expires_at": res.ExpiresAt.UTC(),
	}
	err := r.db.WithContext(ctx).Model(&ReservationModel{}).Where("id = ?", res.ID).Updates(updateData).Error
	if err != nil {
		return domain.NewDatabaseOperationError("update reservation", errors.Wrapf(err, "reservation %d", res.ID))
	}
	return nil
}

func (r *GormReservationStore) list(ctx context.Context, op, query string, args ...interface{}) ([]domain.Reservation, error) {
	var models []ReservationModel
	if err := r.db.WithContext(ctx).Where(query, args...).Order(fifoOrder).Find(&models).Error; err != nil {
		return nil, domain.NewDatabaseOperationError(op, errors.WithStack(err))
	}
	return toDomainReservations(models), nil
}
