package installments

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Allocate applies payments to the schedule in quota order. Payments are
// replayed by date, then ID, then input order, so the same inputs always
// yield the same details. Neither input slice is modified.
func Allocate(saleID int64, schedule []Installment, payments []Payment) (Allocation, error) {
	items := make([]Installment, len(schedule))
	copy(items, schedule)
	sort.SliceStable(items, func(i, j int) bool { return items[i].QuotaNumber < items[j].QuotaNumber })
	for i := range items {
		items[i].PaidAmount = decimal.Zero
		items[i].Balance = items[i].QuotaValue
		items[i].DaysOverdue = 0
	}

	ordered := make([]Payment, len(payments))
	copy(ordered, payments)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.PaidAt.Equal(b.PaidAt) {
			return a.PaidAt.Before(b.PaidAt)
		}
		return a.ID < b.ID
	})

	result := Allocation{Applied: decimal.Zero, Overpayment: decimal.Zero}
	index := make(map[detailKey]int)
	for _, p := range ordered {
		if !p.Amount.IsPositive() {
			return Allocation{}, fmt.Errorf("%w: payment %d amount %s", ErrInvalidPayment, p.ID, p.Amount)
		}
		remaining := p.Amount
		for i := range items {
			if !remaining.IsPositive() {
				break
			}
			if !items[i].Balance.IsPositive() {
				continue
			}
			covered := decimal.Min(remaining, items[i].Balance)
			items[i].PaidAmount = items[i].PaidAmount.Add(covered)
			items[i].Balance = items[i].Balance.Sub(covered)
			remaining = remaining.Sub(covered)
			result.Applied = result.Applied.Add(covered)

			key := detailKey{payment: p.ID, quota: items[i].QuotaNumber}
			if pos, ok := index[key]; ok {
				result.Details[pos].CoveredAmount = result.Details[pos].CoveredAmount.Add(covered)
				continue
			}
			index[key] = len(result.Details)
			result.Details = append(result.Details, Detail{
				PaymentID:     p.ID,
				SaleID:        saleID,
				QuotaNumber:   items[i].QuotaNumber,
				CoveredAmount: covered,
			})
		}
		if remaining.IsPositive() {
			result.Overpayment = result.Overpayment.Add(remaining)
			result.Credits = append(result.Credits, Credit{PaymentID: p.ID, Amount: remaining})
		}
	}

	for i := range items {
		items[i].Status = statusOf(items[i])
	}
	if err := VerifyDetails(items, result.Details); err != nil {
		return Allocation{}, err
	}
	result.Installments = items
	return result, nil
}

// VerifyDetails checks that no quota is covered beyond its value.
func VerifyDetails(items []Installment, details []Detail) error {
	covered := make(map[int]decimal.Decimal, len(items))
	for _, d := range details {
		covered[d.QuotaNumber] = covered[d.QuotaNumber].Add(d.CoveredAmount)
	}
	values := make(map[int]decimal.Decimal, len(items))
	for _, it := range items {
		values[it.QuotaNumber] = it.QuotaValue
	}
	for quota, amount := range covered {
		value, ok := values[quota]
		if !ok {
			return fmt.Errorf("%w: details reference unknown quota %d", ErrAllocationDrift, quota)
		}
		if amount.GreaterThan(value) {
			return fmt.Errorf("%w: quota %d covered %s of %s", ErrAllocationDrift, quota, amount, value)
		}
	}
	return nil
}

type detailKey struct {
	payment int64
	quota   int
}

func statusOf(it Installment) Status {
	switch {
	case !it.Balance.IsPositive():
		return StatusPaid
	case it.PaidAmount.IsPositive():
		return StatusPartiallyPaid
	default:
		return StatusPending
	}
}
