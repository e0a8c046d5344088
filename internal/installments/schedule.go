package installments

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// WarningCustomTotalMismatch is raised when custom amounts do not add up to
// the financed total.
const WarningCustomTotalMismatch = "custom_total_mismatch"

// GenerateSchedule builds the nominal installment schedule. With custom nil
// the financed total is split evenly and the last quota absorbs the rounding
// remainder; otherwise the custom amounts are used as given.
func GenerateSchedule(totalFinanced decimal.Decimal, numQuotas int, start time.Time, custom []decimal.Decimal) (Schedule, error) {
	if numQuotas < 1 {
		return Schedule{}, fmt.Errorf("%w: quota count %d must be at least 1", ErrInvalidScheduleParameters, numQuotas)
	}
	if totalFinanced.IsNegative() {
		return Schedule{}, fmt.Errorf("%w: financed amount %s is negative", ErrInvalidScheduleParameters, totalFinanced)
	}
	if custom != nil && len(custom) != numQuotas {
		return Schedule{}, fmt.Errorf("%w: %d custom amounts for %d quotas", ErrInvalidScheduleParameters, len(custom), numQuotas)
	}

	values := make([]decimal.Decimal, numQuotas)
	if custom != nil {
		for i, amount := range custom {
			if amount.IsNegative() {
				return Schedule{}, fmt.Errorf("%w: quota %d amount %s is negative", ErrInvalidScheduleParameters, i+1, amount)
			}
			values[i] = amount
		}
	} else {
		nominal := totalFinanced.Div(decimal.NewFromInt(int64(numQuotas))).Truncate(CurrencyPlaces)
		for i := range values {
			values[i] = nominal
		}
		last := totalFinanced.Sub(nominal.Mul(decimal.NewFromInt(int64(numQuotas - 1))))
		values[numQuotas-1] = last
	}

	schedule := Schedule{Installments: make([]Installment, 0, numQuotas), Total: decimal.Zero}
	for i, value := range values {
		number := i + 1
		schedule.Installments = append(schedule.Installments, Installment{
			QuotaNumber: number,
			QuotaValue:  value,
			PaidAmount:  decimal.Zero,
			Balance:     value,
			DueDate:     AddMonths(start, number),
			Status:      StatusPending,
		})
		schedule.Total = schedule.Total.Add(value)
	}

	if custom != nil && !schedule.Total.Equal(totalFinanced) {
		schedule.Warnings = append(schedule.Warnings, Warning{
			Code:    WarningCustomTotalMismatch,
			Message: fmt.Sprintf("custom quotas add up to %s, financed amount is %s", schedule.Total.StringFixed(CurrencyPlaces), totalFinanced.StringFixed(CurrencyPlaces)),
		})
	}
	return schedule, nil
}

// PlanAmounts resolves the quota count and optional custom amounts of plan.
// Custom plans must number their quotas 1..N without gaps.
func PlanAmounts(plan PaymentPlan) (int, []decimal.Decimal, error) {
	if !plan.IsCustom() {
		if len(plan.CustomAmounts) > 0 {
			return 0, nil, fmt.Errorf("%w: standard plan carries custom amounts", ErrInvalidScheduleParameters)
		}
		return *plan.NumberQuotas, nil, nil
	}
	n := len(plan.CustomAmounts)
	if n == 0 {
		return 0, nil, fmt.Errorf("%w: custom plan has no quotas", ErrInvalidScheduleParameters)
	}
	amounts := make([]decimal.Decimal, n)
	seen := make([]bool, n)
	for _, qa := range plan.CustomAmounts {
		if qa.Number < 1 || qa.Number > n || seen[qa.Number-1] {
			return 0, nil, fmt.Errorf("%w: custom quota number %d out of sequence", ErrInvalidScheduleParameters, qa.Number)
		}
		seen[qa.Number-1] = true
		amounts[qa.Number-1] = qa.Amount
	}
	return n, amounts, nil
}
