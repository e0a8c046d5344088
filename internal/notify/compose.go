package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/message"

	"github.com/lotsales/lotsales/internal/installments"
	"github.com/lotsales/lotsales/internal/sales"
	"github.com/lotsales/lotsales/jobs"
)

// Compose renders the overdue notice for a client. Numbers follow the
// printer's locale.
func Compose(p *message.Printer, info *sales.ClientOverdue, asOf time.Time) jobs.SendEmailPayload {
	var b strings.Builder
	b.WriteString(p.Sprintf("Dear %s,\n\n", info.Client.Name))
	b.WriteString(p.Sprintf("As of %s the following installments are overdue:\n\n", asOf.Format("2006-01-02")))
	for _, q := range info.Quotas {
		b.WriteString(p.Sprintf("- %s lot %s, quota %d due %s: %s (%d days overdue)\n",
			q.ProjectName, q.LotCode, q.QuotaNumber, q.DueDate.Format("2006-01-02"),
			money(p, q.Balance), q.DaysOverdue))
	}
	b.WriteString(p.Sprintf("\nTotal overdue: %s\n", money(p, info.TotalOverdueAmount)))
	b.WriteString(p.Sprintf("Please contact us to settle the outstanding balance.\n"))

	return jobs.SendEmailPayload{
		To:      info.Client.Email,
		Subject: p.Sprintf("%d overdue installment(s) totalling %s", info.TotalOverdueQuotas, money(p, info.TotalOverdueAmount)),
		Body:    b.String(),
	}
}

// money groups the whole part with the printer's locale and appends the
// cents from the decimal digits, so no float conversion is involved.
func money(p *message.Printer, amount decimal.Decimal) string {
	rounded := amount.Round(installments.CurrencyPlaces)
	abs := rounded.Abs()
	whole := abs.Truncate(0)
	if !whole.BigInt().IsInt64() {
		return rounded.StringFixed(installments.CurrencyPlaces)
	}
	cents := abs.Sub(whole).Shift(installments.CurrencyPlaces).IntPart()
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
	}
	return sign + p.Sprintf("%d", whole.IntPart()) + decimalSeparator(p) + fmt.Sprintf("%0*d", installments.CurrencyPlaces, cents)
}

func decimalSeparator(p *message.Printer) string {
	return strings.Trim(p.Sprintf("%.1f", 1.5), "15")
}
