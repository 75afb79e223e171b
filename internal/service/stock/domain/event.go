// internal/service/stock/domain/event.go
package domain

// 总线上的路由键，Kafka 中直接用作主题名。
const (
	TopicRestock                 = "catalog_item_stock.restock"
	TopicReserve                 = "catalog_item_stock.reserve"
	TopicConfirm                 = "catalog_item_stock.confirm"
	TopicCancel                  = "catalog_item_stock.cancel"
	TopicCheckActiveReservations = "catalog_item_stock.check_active_reservations"
	TopicGetAll                  = "catalog_item_stock.getall"

	TopicRestockSuccess     = "catalog_item_stock.restock.success"
	TopicReserveSuccess     = "catalog_item_stock.reserve.success"
	TopicConfirmSuccess     = "catalog_item_stock.confirm.success"
	TopicCancelSuccess      = "catalog_item_stock.cancel.success"
	TopicReservationExpired = "catalog_item_stock.reservation.expired"
	TopicDeadLetter         = "catalog_item_stock.dlt"
)

// EventTopics 是读模型投影需要订阅的全部事件主题。
var EventTopics = []string{
	TopicRestockSuccess,
	TopicReserveSuccess,
	TopicConfirmSuccess,
	TopicCancelSuccess,
	TopicReservationExpired,
}

// LineItem 是入站批处理请求中的一行。BasketID 为 0 表示未提供。
type LineItem struct {
	ItemID   int64 `json:"itemId"`
	Amount   int   `json:"amount"`
	BasketID int64 `json:"basketId,omitempty"`
}

// EventItem 是成功/过期事件中的一行。
// Amount 是本行的变化量；Total、Reserved、Version 是提交后的库存数字。
type EventItem struct {
	ItemID   int64 `json:"itemId"`
	Amount   int   `json:"amount"`
	BasketID int64 `json:"basketId,omitempty"`
	Total    int   `json:"total"`
	Reserved int   `json:"reserved"`
	Version  int64 `json:"version"`
}

// NewEventItem 用提交后的库存记录构造事件行。
func NewEventItem(line LineItem, entry StockEntry) EventItem {
	return EventItem{
		ItemID:   line.ItemID,
		Amount:   line.Amount,
		BasketID: line.BasketID,
		Total:    entry.Total,
		Reserved: entry.Reserved,
		Version:  entry.Version,
	}
}

// ReserveResponse 是 reserve RPC 的应答。
type ReserveResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
	Code    string `json:"code,omitempty"`
}

// CheckResponse 是 check_active_reservations RPC 的应答。请求本身无效时带 Reason 和 Code。
type CheckResponse struct {
	Success      bool    `json:"success"`
	MissingItems []int64 `json:"missingItems"`
	Reason       string  `json:"reason,omitempty"`
	Code         string  `json:"code,omitempty"`
}

// FullItem 是 getall RPC 应答中的一行。
type FullItem struct {
	ItemID   int64 `json:"itemId"`
	Total    int   `json:"total"`
	Reserved int   `json:"reserved"`
}
