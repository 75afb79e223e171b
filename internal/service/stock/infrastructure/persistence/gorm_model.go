package persistence

import (
	"time"

	"nexus-storage/internal/service/stock/domain"
)

// StockModel 对应数据库中的 catalog_item_stock 表
type StockModel struct {
	ItemID    int64 `gorm:"primaryKey;autoIncrement:false"`
	Total     int   `gorm:"not null;default:0"`
	Reserved  int   `gorm:"not null;default:0"`
	Version   int64 `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 指定 GORM 应该使用的表名
func (StockModel) TableName() string {
	return "catalog_item_stock"
}

// ReservationModel 对应数据库中的 reservation 表
type ReservationModel struct {
	ID        int64                    `gorm:"primaryKey;autoIncrement"`
	ItemID    int64                    `gorm:"not null;index:idx_reservation_item_basket_status,priority:1"`
	BasketID  int64                    `gorm:"not null;index:idx_reservation_item_basket_status,priority:2"`
	Amount    int                      `gorm:"not null"`
	Status    domain.ReservationStatus `gorm:"type:varchar(16);not null;index:idx_reservation_item_basket_status,priority:3;index:idx_reservation_status_expires,priority:1"`
	ExpiresAt time.Time                `gorm:"not null;index:idx_reservation_status_expires,priority:2"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 指定 GORM 应该使用的表名
func (ReservationModel) TableName() string {
	return "reservation"
}
