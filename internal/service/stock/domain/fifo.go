// internal/service/stock/domain/fifo.go
package domain

import (
	"sort"
	"time"
)

// Consumption 是对一组 reserved 记录按 FIFO 消耗后的结果。
type Consumption struct {
	// Consumed 是被转为终态的记录（已更新 Status 与 Amount），保留原 ID。
	Consumed []Reservation
	// Remainder 是拆分产生的新 reserved 记录（ID 为 0，需要 Create）。
	Remainder *Reservation
	// Shortfall 是所有记录加起来仍未覆盖的数量，大于 0 表示计数器与记录不一致。
	Shortfall int
}

// SortFIFO 按 ExpiresAt 升序、ID 升序原地排序。
func SortFIFO(rows []Reservation) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].ExpiresAt.Equal(rows[j].ExpiresAt) {
			return rows[i].ExpiresAt.Before(rows[j].ExpiresAt)
		}
		return rows[i].ID < rows[j].ID
	})
}

// ConsumeFIFO 从最早过期的记录开始消耗 amount 个单位：
// 整条记录足够小时直接转为 terminal 状态；第一条超出所需数量的记录被拆成
// 已消耗部分（原记录，Amount 为所需数量，状态为 terminal）和剩余部分（新的 reserved 记录）。
// 只处理 reserved 状态的记录，rows 不会被修改。
func ConsumeFIFO(rows []Reservation, amount int, terminal ReservationStatus, now time.Time) Consumption {
	ordered := make([]Reservation, 0, len(rows))
	for _, r := range rows {
		if r.Status == StatusReserved && r.Amount > 0 {
			ordered = append(ordered, r)
		}
	}
	SortFIFO(ordered)

	var result Consumption
	remaining := amount
	for _, r := range ordered {
		if remaining <= 0 {
			break
		}
		if r.Amount <= remaining {
			remaining -= r.Amount
			r.Status = terminal
			r.UpdatedAt = now
			result.Consumed = append(result.Consumed, r)
			continue
		}

		rest := r
		rest.ID = 0
		rest.Amount = r.Amount - remaining
		rest.CreatedAt = now
		rest.UpdatedAt = now
		result.Remainder = &rest

		r.Amount = remaining
		r.Status = terminal
		r.UpdatedAt = now
		result.Consumed = append(result.Consumed, r)
		remaining = 0
	}
	result.Shortfall = remaining
	return result
}

// SumAmount 汇总记录数量。
func SumAmount(rows []Reservation) int {
	total := 0
	for _, r := range rows {
		total += r.Amount
	}
	return total
}
