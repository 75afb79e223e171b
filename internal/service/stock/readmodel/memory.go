package readmodel

import (
	"context"
	"sort"
	"sync"

	"nexus-storage/internal/pkg/metrics"
	"nexus-storage/internal/service/stock/domain"
)

// MemoryView 是进程内的库存只读副本。
type MemoryView struct {
	mu    sync.RWMutex
	items map[int64]domain.EventItem
}

func NewMemoryView() *MemoryView {
	return &MemoryView{items: make(map[int64]domain.EventItem)}
}

func (v *MemoryView) Apply(_ context.Context, items []domain.EventItem) ([]domain.EventItem, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var applied []domain.EventItem
	for _, it := range items {
		if cur, ok := v.items[it.ItemID]; ok && cur.Version >= it.Version {
			metrics.ReadModelApplied.WithLabelValues("stale").Inc()
			continue
		}
		v.items[it.ItemID] = it
		applied = append(applied, it)
		metrics.ReadModelApplied.WithLabelValues("applied").Inc()
	}
	return applied, nil
}

func (v *MemoryView) Seed(ctx context.Context, entries []domain.StockEntry) error {
	_, err := v.Apply(ctx, fromEntries(entries))
	return err
}

func (v *MemoryView) Get(_ context.Context, itemID int64) (domain.EventItem, bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	it, ok := v.items[itemID]
	return it, ok, nil
}

func (v *MemoryView) List(_ context.Context) ([]domain.EventItem, error) {
	v.mu.RLock()
	out := make([]domain.EventItem, 0, len(v.items))
	for _, it := range v.items {
		out = append(out, it)
	}
	v.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func fromEntries(entries []domain.StockEntry) []domain.EventItem {
	out := make([]domain.EventItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.EventItem{ItemID: e.ItemID, Total: e.Total, Reserved: e.Reserved, Version: e.Version})
	}
	return out
}
