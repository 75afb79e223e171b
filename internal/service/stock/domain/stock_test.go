package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStockEntry_Validate(t *testing.T) {
	cases := []struct {
		name  string
		entry StockEntry
		ok    bool
	}{
		{"zero", StockEntry{ItemID: 1}, true},
		{"fully reserved", StockEntry{ItemID: 1, Total: 5, Reserved: 5}, true},
		{"over reserved", StockEntry{ItemID: 1, Total: 5, Reserved: 6}, false},
		{"negative total", StockEntry{ItemID: 1, Total: -1}, false},
		{"negative reserved", StockEntry{ItemID: 1, Total: 1, Reserved: -1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.entry.Validate()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientStock)
		})
	}
}

func TestStockEntry_FloorsAtZero(t *testing.T) {
	e := StockEntry{ItemID: 1, Total: 3, Reserved: 2}
	e.ReleaseReserved(5)
	assert.Equal(t, 0, e.Reserved)
	assert.Equal(t, 3, e.Total)

	e = StockEntry{ItemID: 1, Total: 3, Reserved: 3}
	e.Consume(4)
	assert.Equal(t, 0, e.Reserved)
	assert.Equal(t, 0, e.Total)
}

func TestReservation_ActiveAndExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := Reservation{Status: StatusReserved, ExpiresAt: now.Add(time.Second)}
	assert.True(t, r.IsActive(now))
	assert.False(t, r.IsExpired(now))

	r.ExpiresAt = now.Add(-time.Second)
	assert.False(t, r.IsActive(now))
	assert.True(t, r.IsExpired(now))

	r.Status = StatusCancelled
	assert.False(t, r.IsExpired(now))
}

func TestStockError_KindsAndCodes(t *testing.T) {
	err := NewReservationNotFoundError(3, 9)
	wrapped := errors.Join(errors.New("batch failed"), err)

	assert.ErrorIs(t, wrapped, ErrReservationNotFound)
	assert.NotErrorIs(t, wrapped, ErrReservationMismatch)
	assert.Equal(t, CodeReservationNotFound, CodeOf(wrapped))
	assert.Equal(t, ErrorCode("UNKNOWN"), CodeOf(errors.New("boom")))
	assert.Equal(t, "RESERVATION_NOT_FOUND", err.ErrorCode())
}

func TestSortedItemIDs(t *testing.T) {
	assert.Equal(t, []int64{1, 3, 8}, SortedItemIDs([]int64{8, 3, 1, 3, 8}))
	assert.Empty(t, SortedItemIDs(nil))
}
