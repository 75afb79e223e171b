// internal/service/stock/domain/stock.go
package domain

// StockEntry 是单个商品的库存计数器。
// 不变式：任何已提交的操作之后 0 <= Reserved <= Total。
type StockEntry struct {
	ItemID   int64
	Total    int
	Reserved int
	// Version 在每次已提交的写入后递增，读模型据此丢弃过期事件。
	Version int64
}

// NewStockEntry 创建一个零值库存记录（首次引用时惰性创建）。
func NewStockEntry(itemID int64) StockEntry {
	return StockEntry{ItemID: itemID}
}

// Available 返回可被预占的数量。
func (s StockEntry) Available() int {
	return s.Total - s.Reserved
}

// Validate 检查库存不变式。
func (s StockEntry) Validate() error {
	if s.Total < 0 || s.Reserved < 0 || s.Reserved > s.Total {
		return NewInsufficientStockError(s.ItemID, s.Available(), s.Reserved-s.Total)
	}
	return nil
}

// ReleaseReserved 减少预占数量，最低到 0。
func (s *StockEntry) ReleaseReserved(amount int) {
	s.Reserved = floorZero(s.Reserved - amount)
}

// Consume 确认出库：Reserved 与 Total 同时减少，最低到 0。
func (s *StockEntry) Consume(amount int) {
	s.Reserved = floorZero(s.Reserved - amount)
	s.Total = floorZero(s.Total - amount)
}

func floorZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
