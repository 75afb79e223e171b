// internal/service/stock/domain/reservation.go
package domain

import "time"

// ReservationStatus 定义了预占记录的生命周期状态
type ReservationStatus string

const (
	StatusReserved  ReservationStatus = "reserved"  // 持有中，计入 StockEntry.Reserved
	StatusConfirmed ReservationStatus = "confirmed" // 已确认出库（终态）
	StatusCancelled ReservationStatus = "cancelled" // 已取消或过期释放（终态）
)

// Reservation 是某个购物车对某个商品的一次限时预占。
type Reservation struct {
	ID        int64
	ItemID    int64
	BasketID  int64
	Amount    int
	Status    ReservationStatus
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive 表示记录仍处于 reserved 状态且尚未过期。
func (r Reservation) IsActive(now time.Time) bool {
	return r.Status == StatusReserved && r.ExpiresAt.After(now)
}

// IsExpired 表示记录仍处于 reserved 状态但已经过期，等待清理。
func (r Reservation) IsExpired(now time.Time) bool {
	return r.Status == StatusReserved && r.ExpiresAt.Before(now)
}
