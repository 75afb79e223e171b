package persistence

import "nexus-storage/internal/service/stock/domain"

// ToDomainStock 将数据库模型转换为领域模型
func ToDomainStock(model StockModel) domain.StockEntry {
	return domain.StockEntry{
		ItemID:   model.ItemID,
		Total:    model.Total,
		Reserved: model.Reserved,
		Version:  model.Version,
	}
}

func FromDomainStock(entry domain.StockEntry) StockModel {
	return StockModel{
		ItemID:   entry.ItemID,
		Total:    entry.Total,
		Reserved: entry.Reserved,
		Version:  entry.Version,
	}
}

// ToDomainReservation 将数据库模型转换为领域模型
func ToDomainReservation(model ReservationModel) domain.Reservation {
	return domain.Reservation{
		ID:        model.ID,
		ItemID:    model.ItemID,
		BasketID:  model.BasketID,
		Amount:    model.Amount,
		Status:    model.Status,
		ExpiresAt: model.ExpiresAt,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

// FromDomainReservation 将领域模型转换为数据库模型，ID 为 0 时由数据库分配
func FromDomainReservation(r domain.Reservation) ReservationModel {
	return ReservationModel{
		ID:        r.ID,
		ItemID:    r.ItemID,
		BasketID:  r.BasketID,
		Amount:    r.Amount,
		Status:    r.Status,
		ExpiresAt: r.ExpiresAt.UTC(),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func toDomainReservations(models []ReservationModel) []domain.Reservation {
	out := make([]domain.Reservation, 0, len(models))
	for _, m := range models {
		out = append(out, ToDomainReservation(m))
	}
	return out
}
