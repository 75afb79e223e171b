package application

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"nexus-storage/internal/service/stock/domain"
)

// 并发的重叠批次必须全部结束（无死锁），并且计数器与预占记录保持一致。
func TestConcurrentOverlappingBatches_KeepInvariants(t *testing.T) {
	f := newFixture(t)
	items := []int64{1, 2, 3, 4, 5}
	for _, id := range items {
		f.seedStock(t, id, 60, 0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for worker := 0; worker < 32; worker++ {
		worker := worker
		g.Go(func() error {
			rnd := rand.New(rand.NewSource(int64(worker)))
			basketID := int64(1000 + worker)
			for round := 0; round < 20; round++ {
				// 乱序提交，锁顺序由协调器保证
				batch := make([]domain.LineItem, 0, 3)
				for _, idx := range rnd.Perm(len(items))[:3] {
					batch = append(batch, line(items[idx], 1+rnd.Intn(4), basketID))
				}

				_, err := f.engine.Reserve(gctx, batch)
				if err != nil && !assert.ErrorIs(t, err, domain.ErrInsufficientStock) {
					return err
				}
				if err == nil && rnd.Intn(2) == 0 {
					_, err = f.engine.Cancel(gctx, batch)
					if err != nil {
						return err
					}
				}
				if _, err := f.engine.Restock(gctx, batch[:1]); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.NoError(t, ctx.Err(), "batches did not finish in time")

	for _, id := range items {
		s := f.stock(t, id)
		assert.NoError(t, s.Validate())

		held := 0
		for _, r := range f.rowsOf(id) {
			if r.IsActive(f.now) {
				held += r.Amount
			}
		}
		assert.Equal(t, s.Reserved, held, "item %d counter and rows disagree", id)
	}
}

func TestConcurrentReaperAndConfirm_DoNotDoubleRelease(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, 1, 100, 40)
	for b := int64(1); b <= 20; b++ {
		f.seedReservation(t, 1, b, 2, t0.Add(-time.Second))
	}

	reaper := NewExpiryReaper(f.store, f.pub, f.engine.tracer, time.Minute)

	var g errgroup.Group
	g.Go(func() error {
		_, err := reaper.Sweep(context.Background(), t0)
		return err
	})
	g.Go(func() error {
		_, err := f.engine.Confirm(context.Background(), lines(line(1, 10, 1)))
		if err != nil && !assert.ErrorIs(t, err, domain.ErrInsufficientReservedStock) {
			return err
		}
		return nil
	})
	require.NoError(t, g.Wait())

	s := f.stock(t, 1)
	assert.Equal(t, 0, s.Reserved)
	confirmed := 0
	for _, r := range f.rowsOf(1) {
		assert.NotEqual(t, domain.StatusReserved, r.Status)
		if r.Status == domain.StatusConfirmed {
			confirmed += r.Amount
		}
	}
	assert.Equal(t, 100-confirmed, s.Total)
}
