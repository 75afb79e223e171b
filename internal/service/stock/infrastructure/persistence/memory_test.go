package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-storage/internal/service/stock/domain"
)

func TestMemoryStore_RollbackDiscardsStagedWrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Stocks().Upsert(ctx, domain.StockEntry{ItemID: 1, Total: 5}))
	boom := errors.New("boom")

	err := store.WithLockedItems(ctx, []int64{1, 2}, func(tx domain.Tx, locked domain.LockedStocks) error {
		locked[1].Reserved = 5
		require.NoError(t, tx.Stocks().Upsert(ctx, *locked[1]))
		require.NoError(t, tx.Reservations().Create(ctx, newReservation(1, 9, 5, t0.Add(time.Minute))))

		// 事务内可以读到自己的写入
		staged, err := tx.Stocks().Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 5, staged.Reserved)
		rows, err := tx.Reservations().ListReserved(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
		return boom
	})
	require.ErrorIs(t, err, boom)

	entry, err := store.Stocks().Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, entry.Reserved)
	assert.Empty(t, store.AllReservations())

	all, err := store.Stocks().ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.StockEntry{{ItemID: 1, Total: 5}, domain.NewStockEntry(2)}, all)
}

func TestMemoryStore_PanicReleasesLocks(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = store.WithLockedItems(ctx, []int64{1}, func(domain.Tx, domain.LockedStocks) error {
			panic("boom")
		})
	})

	done := make(chan struct{})
	go func() {
		_ = store.WithLockedItems(ctx, []int64{1}, func(domain.Tx, domain.LockedStocks) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock was not released after panic")
	}
}

func TestMemoryStore_OppositeOrderBatchesDoNotDeadlock(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		ids := []int64{1, 2, 3}
		if i%2 == 1 {
			ids = []int64{3, 2, 1}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithLockedItems(ctx, ids, func(tx domain.Tx, locked domain.LockedStocks) error {
				for _, e := range locked {
					e.Total++
					if err := tx.Stocks().Upsert(ctx, *e); err != nil {
						return err
					}
				}
				return nil
			})
			assert.NoError(t, err)
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("batches deadlocked")
	}

	for _, id := range []int64{1, 2, 3} {
		e, err := store.Stocks().Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 50, e.Total)
	}
}

func TestMemoryReservations_FindActiveReturnsNewest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	older := newReservation(1, 9, 1, t0.Add(time.Minute))
	newer := newReservation(1, 9, 2, t0.Add(time.Minute))
	newer.CreatedAt = t0.Add(time.Second)
	require.NoError(t, store.Reservations().Create(ctx, older))
	require.NoError(t, store.Reservations().Create(ctx, newer))

	got, err := store.Reservations().FindActive(ctx, 1, 9, t0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newer.ID, got.ID)
}
