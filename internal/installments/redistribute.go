package installments

import (
	"fmt"
)

// Calculate regenerates the schedule of sale under plan and replays every
// payment against it.
func Calculate(sale Sale, plan PaymentPlan, payments []Payment) (Redistribution, error) {
	financed := sale.Financed()
	if financed.IsNegative() {
		return Redistribution{}, fmt.Errorf("%w: initial payment %s exceeds total value %s", ErrInvalidScheduleParameters, sale.InitialPayment, sale.TotalValue)
	}
	n, custom, err := PlanAmounts(plan)
	if err != nil {
		return Redistribution{}, err
	}
	schedule, err := GenerateSchedule(financed, n, sale.SaleDate, custom)
	if err != nil {
		return Redistribution{}, err
	}
	alloc, err := Allocate(sale.ID, schedule.Installments, payments)
	if err != nil {
		return Redistribution{}, err
	}
	return Redistribution{Schedule: schedule, Allocation: alloc}, nil
}

// Redistribute rebuilds the schedule after a plan change and re-applies the
// full payment history from scratch. It fails with ErrPlanConflict when the
// payments already made exceed what the new plan finances; the caller keeps
// its previous details in that case.
func Redistribute(sale Sale, plan PaymentPlan, payments []Payment) (Redistribution, error) {
	financed := sale.Financed()
	if financed.IsNegative() {
		return Redistribution{}, fmt.Errorf("%w: initial payment %s exceeds total value %s", ErrInvalidScheduleParameters, sale.InitialPayment, sale.TotalValue)
	}
	paid := SumPayments(payments)
	if paid.GreaterThan(financed) {
		return Redistribution{}, fmt.Errorf("%w: paid %s exceeds financed %s", ErrPlanConflict, paid.StringFixed(CurrencyPlaces), financed.StringFixed(CurrencyPlaces))
	}
	result, err := Calculate(sale, plan, payments)
	if err != nil {
		return Redistribution{}, err
	}
	if result.Allocation.HasOverpayment() {
		return Redistribution{}, fmt.Errorf("%w: paid %s exceeds scheduled %s", ErrPlanConflict, paid.StringFixed(CurrencyPlaces), result.Schedule.Total.StringFixed(CurrencyPlaces))
	}
	return result, nil
}
