package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"nexus-storage/internal/service/stock/domain"
)

// MemoryStore 是 domain.Store 的进程内实现，用于单机部署和测试。
// 每个商品一把互斥锁，按 ItemID 升序获取；事务内的写入先暂存，fn 成功后一次性提交。
type MemoryStore struct {
	mu           sync.Mutex
	itemLocks    map[int64]*sync.Mutex
	stocks       map[int64]domain.StockEntry
	reservations map[int64]domain.Reservation
	nextID       int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		itemLocks:    make(map[int64]*sync.Mutex),
		stocks:       make(map[int64]domain.StockEntry),
		reservations: make(map[int64]domain.Reservation),
	}
}

func (s *MemoryStore) Stocks() domain.StockLedger {
	return &memoryLedger{store: s}
}

func (s *MemoryStore) Reservations() domain.ReservationStore {
	return &memoryReservations{store: s}
}

// WithLockedItems 实现 domain.BatchLockCoordinator。
func (s *MemoryStore) WithLockedItems(ctx context.Context, itemIDs []int64, fn func(tx domain.Tx, locked domain.LockedStocks) error) error {
	ids := domain.SortedItemIDs(itemIDs)
	locks := s.ensureRows(ids)

	for _, l := range locks {
		l.Lock()
	}
	defer func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}()

	if err := ctx.Err(); err != nil {
		return domain.NewDatabaseOperationError("acquire item locks", err)
	}

	tx := &memoryTx{
		store:        s,
		stocks:       make(map[int64]domain.StockEntry),
		reservations: make(map[int64]domain.Reservation),
	}
	locked := make(domain.LockedStocks, len(ids))
	s.mu.Lock()
	for _, id := range ids {
		entry := s.stocks[id]
		locked[id] = &entry
	}
	s.mu.Unlock()

	if err := fn(tx, locked); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// ensureRows 以零值创建缺失的库存记录（立即生效，不随事务回滚），并返回按顺序排列的锁。
func (s *MemoryStore) ensureRows(ids []int64) []*sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	locks := make([]*sync.Mutex, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.stocks[id]; !ok {
			s.stocks[id] = domain.NewStockEntry(id)
		}
		l, ok := s.itemLocks[id]
		if !ok {
			l = &sync.Mutex{}
			s.itemLocks[id] = l
		}
		locks = append(locks, l)
	}
	return locks
}

// snapshot 返回已提交预占记录与暂存记录合并后的视图。
func (s *MemoryStore) snapshot(staged map[int64]domain.Reservation) []domain.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Reservation, 0, len(s.reservations)+len(staged))
	for id, r := range s.reservations {
		if st, ok := staged[id]; ok {
			r = st
		}
		out = append(out, r)
	}
	for id, r := range staged {
		if _, ok := s.reservations[id]; !ok {
			out = append(out, r)
		}
	}
	return out
}

func (s *MemoryStore) allocateID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

type memoryTx struct {
	store        *MemoryStore
	stocks       map[int64]domain.StockEntry
	reservations map[int64]domain.Reservation
}

func (t *memoryTx) Stocks() domain.StockLedger {
	return &memoryLedger{store: t.store, staged: t.stocks}
}

func (t *memoryTx) Reservations() domain.ReservationStore {
	return &memoryReservations{store: t.store, staged: t.reservations}
}

func (t *memoryTx) commit() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for id, e := range t.stocks {
		t.store.stocks[id] = e
	}
	for id, r := range t.reservations {
		t.store.reservations[id] = r
	}
}

// memoryLedger 在 staged 为 nil 时是只读快照视图，否则读写事务暂存区。
type memoryLedger struct {
	store  *MemoryStore
	staged map[int64]domain.StockEntry
}

func (l *memoryLedger) Get(_ context.Context, itemID int64) (domain.StockEntry, error) {
	if e, ok := l.staged[itemID]; ok {
		return e, nil
	}
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	if e, ok := l.store.stocks[itemID]; ok {
		return e, nil
	}
	return domain.NewStockEntry(itemID), nil
}

func (l *memoryLedger) ListAll(_ context.Context) ([]domain.StockEntry, error) {
	l.store.mu.Lock()
	out := make([]domain.StockEntry, 0, len(l.store.stocks))
	for id, e := range l.store.stocks {
		if st, ok := l.staged[id]; ok {
			e = st
		}
		out = append(out, e)
	}
	l.store.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (l *memoryLedger) Upsert(_ context.Context, entry domain.StockEntry) error {
	if l.staged == nil {
		l.store.mu.Lock()
		l.store.stocks[entry.ItemID] = entry
		l.store.mu.Unlock()
		return nil
	}
	l.staged[entry.ItemID] = entry
	return nil
}

type memoryReservations struct {
	store  *MemoryStore
	staged map[int64]domain.Reservation
}

func (r *memoryReservations) FindActive(_ context.Context, itemID, basketID int64, now time.Time) (*domain.Reservation, error) {
	rows := r.filter(func(res domain.Reservation) bool {
		return res.ItemID == itemID && res.BasketID == basketID && res.IsActive(now)
	})
	if len(rows) == 0 {
		return nil, nil
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].ID > rows[j].ID
	})
	res := rows[0]
	return &res, nil
}

func (r *memoryReservations) ListReserved(_ context.Context, itemID int64) ([]domain.Reservation, error) {
	return r.fifo(func(res domain.Reservation) bool {
		return res.ItemID == itemID && res.Status == domain.StatusReserved
	}), nil
}

func (r *memoryReservations) ListReservedByBasket(_ context.Context, itemID, basketID int64) ([]domain.Reservation, error) {
	return r.fifo(func(res domain.Reservation) bool {
		return res.ItemID == itemID && res.BasketID == basketID && res.Status == domain.StatusReserved
	}), nil
}

func (r *memoryReservations) ListActiveByBasket(_ context.Context, basketID int64, now time.Time) ([]domain.Reservation, error) {
	return r.fifo(func(res domain.Reservation) bool {
		return res.BasketID == basketID && res.IsActive(now)
	}), nil
}

func (r *memoryReservations) ListExpired(_ context.Context, now time.Time, itemIDs ...int64) ([]domain.Reservation, error) {
	var only map[int64]struct{}
	if len(itemIDs) > 0 {
		only = make(map[int64]struct{}, len(itemIDs))
		for _, id := range itemIDs {
			only[id] = struct{}{}
		}
	}
	return r.fifo(func(res domain.Reservation) bool {
		if only != nil {
			if _, ok := only[res.ItemID]; !ok {
				return false
			}
		}
		return res.IsExpired(now)
	}), nil
}

func (r *memoryReservations) Create(_ context.Context, res *domain.Reservation) error {
	res.ID = r.store.allocateID()
	now := time.Now().UTC()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	if res.UpdatedAt.IsZero() {
		res.UpdatedAt = now
	}
	r.put(*res)
	return nil
}

func (r *memoryReservations) Update(_ context.Context, res domain.Reservation) error {
	res.UpdatedAt = time.Now().UTC()
	r.put(res)
	return nil
}

func (r *memoryReservations) put(res domain.Reservation) {
	if r.staged != nil {
		r.staged[res.ID] = res
		return
	}
	r.store.mu.Lock()
	r.store.reservations[res.ID] = res
	r.store.mu.Unlock()
}

func (r *memoryReservations) filter(keep func(domain.Reservation) bool) []domain.Reservation {
	var out []domain.Reservation
	for _, res := range r.store.snapshot(r.staged) {
		if keep(res) {
			out = append(out, res)
		}
	}
	return out
}

func (r *memoryReservations) fifo(keep func(domain.Reservation) bool) []domain.Reservation {
	rows := r.filter(keep)
	domain.SortFIFO(rows)
	return rows
}

// AllReservations 返回包括终态在内的全部已提交记录，按 ID 升序。
func (s *MemoryStore) AllReservations() []domain.Reservation {
	rows := s.snapshot(nil)
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows
}
