package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"nexus-storage/internal/service/stock/application"
	"nexus-storage/internal/service/stock/domain"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// openTestDB 使用临时文件上的 SQLite。SQLite 没有行锁，GORM 的 sqlite 方言会忽略 FOR UPDATE，
// 单连接保证事务之间串行。
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "stock.db")), &gorm.Config{
		Logger:  NewGormLogger(),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Migrate(db))
	return db
}

func newReservation(itemID, basketID int64, amount int, expiresAt time.Time) *domain.Reservation {
	return &domain.Reservation{
		ItemID: itemID, BasketID: basketID, Amount: amount,
		Status: domain.StatusReserved, ExpiresAt: expiresAt, CreatedAt: t0, UpdatedAt: t0,
	}
}

func TestGormStore_LazyCreationSurvivesRollback(t *testing.T) {
	store := NewGormStore(openTestDB(t))
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithLockedItems(ctx, []int64{3, 1, 3}, func(tx domain.Tx, locked domain.LockedStocks) error {
		require.Len(t, locked, 2)
		locked[1].Total = 50
		require.NoError(t, tx.Stocks().Upsert(ctx, *locked[1]))
		return boom
	})
	require.ErrorIs(t, err, boom)

	all, err := store.Stocks().ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.StockEntry{domain.NewStockEntry(1), domain.NewStockEntry(3)}, all)
}

func TestGormStore_CommitPersistsAllWrites(t *testing.T) {
	store := NewGormStore(openTestDB(t))
	ctx := context.Background()

	var created domain.Reservation
	err := store.WithLockedItems(ctx, []int64{2}, func(tx domain.Tx, locked domain.LockedStocks) error {
		entry := locked[2]
		entry.Total, entry.Reserved, entry.Version = 10, 4, 1
		if err := tx.Stocks().Upsert(ctx, *entry); err != nil {
			return err
		}
		r := newReservation(2, 7, 4, t0.Add(time.Minute))
		if err := tx.Reservations().Create(ctx, r); err != nil {
			return err
		}
		created = *r
		return nil
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	entry, err := store.Stocks().Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.StockEntry{ItemID: 2, Total: 10, Reserved: 4, Version: 1}, entry)

	rows, err := store.Reservations().ListReserved(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, created.ID, rows[0].ID)
	assert.True(t, rows[0].ExpiresAt.Equal(t0.Add(time.Minute)))
}

func TestGormStore_MissingStockReadsAsZero(t *testing.T) {
	store := NewGormStore(openTestDB(t))
	entry, err := store.Stocks().Get(context.Background(), 404)
	require.NoError(t, err)
	assert.Equal(t, domain.NewStockEntry(404), entry)
}

func TestGormReservationStore_Queries(t *testing.T) {
	store := NewGormStore(openTestDB(t))
	ctx := context.Background()
	rs := store.Reservations()

	late := newReservation(1, 10, 1, t0.Add(2*time.Minute))
	early := newReservation(1, 11, 2, t0.Add(time.Minute))
	expired := newReservation(1, 10, 3, t0.Add(-time.Second))
	otherItem := newReservation(2, 10, 4, t0.Add(-time.Minute))
	for _, r := range []*domain.Reservation{late, early, expired, otherItem} {
		require.NoError(t, rs.Create(ctx, r))
	}

	rows, err := rs.ListReserved(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int64{expired.ID, early.ID, late.ID}, []int64{rows[0].ID, rows[1].ID, rows[2].ID})

	rows, err = rs.ListReservedByBasket(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = rs.ListActiveByBasket(ctx, 10, t0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, late.ID, rows[0].ID)

	active, err := rs.FindActive(ctx, 1, 10, t0)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, late.ID, active.ID)

	none, err := rs.FindActive(ctx, 2, 10, t0)
	require.NoError(t, err)
	assert.Nil(t, none)

	rows, err = rs.ListExpired(ctx, t0)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	rows, err = rs.ListExpired(ctx, t0, 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, otherItem.ID, rows[0].ID)

	expired.Status = domain.StatusCancelled
	require.NoError(t, rs.Update(ctx, *expired))
	rows, err = rs.ListExpired(ctx, t0, 1)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestGormStore_EngineSplitIsPersisted(t *testing.T) {
	store := NewGormStore(openTestDB(t))
	ctx := context.Background()
	now := t0
	engine := application.NewReservationEngine(store, nopPublisher{}, otel.Tracer("test"), time.Minute,
		application.WithClock(func() time.Time { return now }))

	_, err := engine.Restock(ctx, []domain.LineItem{{ItemID: 1, Amount: 10}})
	require.NoError(t, err)
	_, err = engine.Reserve(ctx, []domain.LineItem{{ItemID: 1, Amount: 5, BasketID: 9}})
	require.NoError(t, err)
	_, err = engine.Confirm(ctx, []domain.LineItem{{ItemID: 1, Amount: 3, BasketID: 9}})
	require.NoError(t, err)

	entry, err := store.Stocks().Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 7, entry.Total)
	assert.Equal(t, 2, entry.Reserved)
	assert.Equal(t, int64(3), entry.Version)

	var models []ReservationModel
	require.NoError(t, openModels(store, &models))
	require.Len(t, models, 2)
	assert.Equal(t, domain.StatusConfirmed, models[0].Status)
	assert.Equal(t, 3, models[0].Amount)
	assert.Equal(t, domain.StatusReserved, models[1].Status)
	assert.Equal(t, 2, models[1].Amount)
	assert.True(t, models[0].ExpiresAt.Equal(models[1].ExpiresAt))

	resp, err := engine.CheckActiveReservations(ctx, []domain.LineItem{{ItemID: 1, Amount: 2, BasketID: 9}})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	// 失败的批次不留下任何修改
	_, err = engine.Cancel(ctx, []domain.LineItem{{ItemID: 1, Amount: 2, BasketID: 8}})
	require.ErrorIs(t, err, domain.ErrReservationNotFound)
	after, err := store.Stocks().Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, entry, after)
}

func openModels(store *GormStore, out *[]ReservationModel) error {
	return store.db.Order("id ASC").Find(out).Error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, []domain.EventItem) error { return nil }

func TestGormStore_EnsureInsertsOnlyMissingRows(t *testing.T) {
	db := openTestDB(t)
	store := NewGormStore(db)
	ctx := context.Background()

	require.NoError(t, store.WithLockedItems(ctx, []int64{1}, func(tx domain.Tx, locked domain.LockedStocks) error {
		locked[1].Total = 7
		return tx.Stocks().Upsert(ctx, *locked[1])
	}))

	var inserted []int64
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:record_stock_inserts", func(tx *gorm.DB) {
		if rows, ok := tx.Statement.Dest.(*[]StockModel); ok {
			for _, r := range *rows {
				inserted = append(inserted, r.ItemID)
			}
		}
	}))

	require.NoError(t, store.WithLockedItems(ctx, []int64{2, 1}, func(tx domain.Tx, locked domain.LockedStocks) error {
		assert.Equal(t, 7, locked[1].Total)
		assert.Equal(t, 0, locked[2].Total)
		return nil
	}))
	assert.Equal(t, []int64{2}, inserted)

	inserted = nil
	require.NoError(t, store.WithLockedItems(ctx, []int64{1, 2}, func(domain.Tx, domain.LockedStocks) error { return nil }))
	assert.Empty(t, inserted)
}

func TestMissingIDs(t *testing.T) {
	assert.Equal(t, []int64{2, 5}, missingIDs([]int64{1, 2, 3, 5}, []int64{3, 1}))
	assert.Nil(t, missingIDs([]int64{1}, []int64{1}))
	assert.Equal(t, []int64{4}, missingIDs([]int64{4}, nil))
}
