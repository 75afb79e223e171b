package port

import (
	"context"

	"nexus-storage/internal/service/stock/domain"
)

// StockView 是由已提交事件驱动的库存只读副本（最终一致）。
// 引擎从不读取它；它只服务于查询接口和实时推送。
type StockView interface {
	// Apply 只应用 Version 比当前存储更新的行，返回实际生效的行。
	Apply(ctx context.Context, items []domain.EventItem) ([]domain.EventItem, error)
	// Seed 用全量快照初始化副本，同样遵循版本比较。
	Seed(ctx context.Context, entries []domain.StockEntry) error
	Get(ctx context.Context, itemID int64) (domain.EventItem, bool, error)
	List(ctx context.Context) ([]domain.EventItem, error)
}
