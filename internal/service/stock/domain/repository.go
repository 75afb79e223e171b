// internal/service/stock/domain/repository.go
package domain

import (
	"context"
	"sort"
	"time"
)

// StockLedger 是库存计数器的持久化边界，不包含任何校验逻辑。
type StockLedger interface {
	// Get 返回商品的库存记录，不存在时返回零值记录。
	Get(ctx context.Context, itemID int64) (StockEntry, error)
	// ListAll 返回全部库存记录（按 ItemID 升序）。
	ListAll(ctx context.Context) ([]StockEntry, error)
	// Upsert 只允许在 BatchLockCoordinator 持有锁时调用。
	Upsert(ctx context.Context, entry StockEntry) error
}

// ReservationStore 是预占记录的持久化边界。
// 列表方法统一按 FIFO 顺序返回：ExpiresAt 升序，其次 ID 升序。
type ReservationStore interface {
	// FindActive 返回 (itemID, basketID) 最新的一条未过期 reserved 记录，没有时返回 nil。
	FindActive(ctx context.Context, itemID, basketID int64, now time.Time) (*Reservation, error)
	// ListReserved 返回某商品全部 reserved 记录（包含已过期但尚未清理的）。
	ListReserved(ctx context.Context, itemID int64) ([]Reservation, error)
	// ListReservedByBasket 同上，但只限于某个购物车。
	ListReservedByBasket(ctx context.Context, itemID, basketID int64) ([]Reservation, error)
	// ListActiveByBasket 返回某购物车所有未过期的 reserved 记录。
	ListActiveByBasket(ctx context.Context, basketID int64, now time.Time) ([]Reservation, error)
	// ListExpired 返回 ExpiresAt < now 的 reserved 记录；itemIDs 非空时只查这些商品。
	ListExpired(ctx context.Context, now time.Time, itemIDs ...int64) ([]Reservation, error)
	// Create 持久化新记录并回填 ID。
	Create(ctx context.Context, r *Reservation) error
	Update(ctx context.Context, r Reservation) error
}

// Tx 是一次批处理事务内可见的仓储集合，所有写入随事务一起提交或回滚。
type Tx interface {
	Stocks() StockLedger
	Reservations() ReservationStore
}

// LockedStocks 是事务内已加锁的库存记录，按 ItemID 索引。
// 回调对记录的修改需要通过 Tx.Stocks().Upsert 写回。
type LockedStocks map[int64]*StockEntry

// BatchLockCoordinator 在一个事务内按 ItemID 升序对批次中的全部商品加排他锁，
// 再执行调用方逻辑。fn 返回错误时全部写入回滚，锁在两种情况下都会释放。
// 不存在的库存记录会在加锁前以零值创建并独立提交，即使批次随后失败也会保留。
type BatchLockCoordinator interface {
	WithLockedItems(ctx context.Context, itemIDs []int64, fn func(tx Tx, locked LockedStocks) error) error
}

// Store 聚合了加锁事务入口和无锁的只读视图（最近一次提交的快照）。
type Store interface {
	BatchLockCoordinator
	Stocks() StockLedger
	Reservations() ReservationStore
}

// SortedItemIDs 去重并按升序返回商品 ID，是所有加锁实现共同遵守的顺序。
func SortedItemIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
