package readmodel

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-storage/internal/pkg/redis"
	"nexus-storage/internal/service/stock/domain"
	"nexus-storage/internal/service/stock/port"
)

func newRedisView(t *testing.T) (*RedisView, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewFromUniversal(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	view, err := NewRedisView(client)
	require.NoError(t, err)
	return view, mr
}

func views(t *testing.T) map[string]port.StockView {
	rv, _ := newRedisView(t)
	return map[string]port.StockView{
		"memory": NewMemoryView(),
		"redis":  rv,
	}
}

func TestStockView_AppliesOnlyNewerVersions(t *testing.T) {
	for name, view := range views(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			applied, err := view.Apply(ctx, []domain.EventItem{
				{ItemID: 1, Total: 10, Reserved: 2, Version: 2},
				{ItemID: 2, Total: 5, Version: 1},
			})
			require.NoError(t, err)
			assert.Len(t, applied, 2)

			// 乱序到达的旧事件被丢弃
			applied, err = view.Apply(ctx, []domain.EventItem{
				{ItemID: 1, Total: 10, Reserved: 0, Version: 1},
				{ItemID: 1, Total: 10, Reserved: 2, Version: 2},
				{ItemID: 2, Total: 5, Reserved: 5, Version: 3},
			})
			require.NoError(t, err)
			assert.Equal(t, []domain.EventItem{{ItemID: 2, Total: 5, Reserved: 5, Version: 3}}, applied)

			it, ok, err := view.Get(ctx, 1)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, domain.EventItem{ItemID: 1, Total: 10, Reserved: 2, Version: 2}, it)

			_, ok, err = view.Get(ctx, 99)
			require.NoError(t, err)
			assert.False(t, ok)

			all, err := view.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []domain.EventItem{
				{ItemID: 1, Total: 10, Reserved: 2, Version: 2},
				{ItemID: 2, Total: 5, Reserved: 5, Version: 3},
			}, all)
		})
	}
}

func TestStockView_SeedDoesNotOverwriteNewerState(t *testing.T) {
	for name, view := range views(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := view.Apply(ctx, []domain.EventItem{{ItemID: 3, Total: 8, Reserved: 1, Version: 4}})
			require.NoError(t, err)

			require.NoError(t, view.Seed(ctx, []domain.StockEntry{
				{ItemID: 3, Total: 7, Version: 3},
				{ItemID: 4, Total: 1, Version: 1},
			}))

			all, err := view.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []domain.EventItem{
				{ItemID: 3, Total: 8, Reserved: 1, Version: 4},
				{ItemID: 4, Total: 1, Version: 1},
			}, all)
		})
	}
}

func TestRedisView_StoresItemsInHashes(t *testing.T) {
	view, mr := newRedisView(t)
	ctx := context.Background()
	_, err := view.Apply(ctx, []domain.EventItem{{ItemID: 7, Total: 3, Reserved: 1, Version: 5}})
	require.NoError(t, err)

	assert.Equal(t, "5", mr.HGet(itemKey(7), "version"))
	assert.Equal(t, "3", mr.HGet(itemKey(7), "total"))
	members, err := mr.Members(idsKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, members)
}

func TestRedisView_CorruptHashIsReported(t *testing.T) {
	view, mr := newRedisView(t)
	mr.HSet(itemKey(8), "version", "x", "total", "1", "reserved", "0")

	_, _, err := view.Get(context.Background(), 8)
	assert.Error(t, err)
}
