package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"nexus-storage/internal/service/stock/domain"
	"nexus-storage/internal/service/stock/infrastructure/persistence"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const basket = int64(100)

type published struct {
	topic string
	items []domain.EventItem
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, items []domain.EventItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, published{topic: topic, items: items})
	return nil
}

func (p *recordingPublisher) published() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

type fixture struct {
	store  *persistence.MemoryStore
	pub    *recordingPublisher
	engine *ReservationEngine
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: persistence.NewMemoryStore(), pub: &recordingPublisher{}, now: t0}
	f.engine = NewReservationEngine(f.store, f.pub, otel.Tracer("test"), time.Minute,
		WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) seedStock(t *testing.T, itemID int64, total, reserved int) {
	t.Helper()
	require.NoError(t, f.store.Stocks().Upsert(context.Background(), domain.StockEntry{ItemID: itemID, Total: total, Reserved: reserved}))
}

func (f *fixture) seedReservation(t *testing.T, itemID, basketID int64, amount int, expiresAt time.Time) domain.Reservation {
	t.Helper()
	r := &domain.Reservation{
		ItemID: itemID, BasketID: basketID, Amount: amount,
		Status: domain.StatusReserved, ExpiresAt: expiresAt, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, f.store.Reservations().Create(context.Background(), r))
	return *r
}

func (f *fixture) stock(t *testing.T, itemID int64) domain.StockEntry {
	t.Helper()
	e, err := f.store.Stocks().Get(context.Background(), itemID)
	require.NoError(t, err)
	return e
}

func (f *fixture) rowsOf(itemID int64) []domain.Reservation {
	var out []domain.Reservation
	for _, r := range f.store.AllReservations() {
		if r.ItemID == itemID {
			out = append(out, r)
		}
	}
	return out
}

func lines(items ...domain.LineItem) []domain.LineItem { return items }

func line(itemID int64, amount int, basketID int64) domain.LineItem {
	return domain.LineItem{ItemID: itemID, Amount: amount, BasketID: basketID}
}
