package installments

import "github.com/shopspring/decimal"

// CurrencyPlaces is the precision of every monetary amount.
const CurrencyPlaces = 2

// Round rounds an amount to currency precision.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyPlaces)
}

// Sum adds amounts.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// SumPayments adds the amounts of payments.
func SumPayments(payments []Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total
}

// SumQuotas adds the nominal values of installments.
func SumQuotas(items []Installment) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.QuotaValue)
	}
	return total
}
