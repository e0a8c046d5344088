package installments

import (
	"time"

	"github.com/shopspring/decimal"
)

// Classify marks unpaid installments due before asOf as overdue and fills
// DaysOverdue. The input slice is not modified.
func Classify(items []Installment, asOf time.Time) []Installment {
	out := make([]Installment, len(items))
	copy(out, items)
	day := Date(asOf)
	for i := range out {
		out[i].DaysOverdue = 0
		if out[i].Status == StatusOverdue {
			out[i].Status = statusOf(out[i])
		}
		if out[i].Status == StatusPaid {
			continue
		}
		due := Date(out[i].DueDate)
		if due.Before(day) {
			out[i].Status = StatusOverdue
			out[i].DaysOverdue = DaysBetween(due, day)
		}
	}
	return out
}

// Bucket is one aging range with its aggregates.
type Bucket struct {
	Label       string          `json:"label"`
	MinDays     int             `json:"min_days"`
	MaxDays     int             `json:"max_days,omitempty"`
	Count       int             `json:"count"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// AgingReport groups overdue installments by days overdue.
type AgingReport struct {
	AsOf             time.Time       `json:"as_of"`
	Buckets          []Bucket        `json:"buckets"`
	TotalCount       int             `json:"total_count"`
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
}

var bucketBounds = []struct {
	label    string
	min, max int
}{
	{"1-30", 1, 30},
	{"31-60", 31, 60},
	{"61-90", 61, 90},
	{"90+", 91, 0},
}

// NewAgingReport returns an empty report with every bucket present.
func NewAgingReport(asOf time.Time) AgingReport {
	report := AgingReport{AsOf: Date(asOf), TotalOutstanding: decimal.Zero}
	for _, b := range bucketBounds {
		report.Buckets = append(report.Buckets, Bucket{Label: b.label, MinDays: b.min, MaxDays: b.max, Outstanding: decimal.Zero})
	}
	return report
}

// BucketFor returns the bucket index for days overdue, or -1 when not overdue.
func BucketFor(days int) int {
	if days <= 0 {
		return -1
	}
	for i, b := range bucketBounds {
		if b.max == 0 || days <= b.max {
			return i
		}
	}
	return len(bucketBounds) - 1
}

// Add folds classified installments into the report.
func (r *AgingReport) Add(items []Installment) {
	for _, it := range items {
		if it.Status != StatusOverdue {
			continue
		}
		idx := BucketFor(it.DaysOverdue)
		if idx < 0 {
			continue
		}
		r.Buckets[idx].Count++
		r.Buckets[idx].Outstanding = r.Buckets[idx].Outstanding.Add(it.Balance)
		r.TotalCount++
		r.TotalOutstanding = r.TotalOutstanding.Add(it.Balance)
	}
}

// Aging builds a report from classified installments.
func Aging(items []Installment, asOf time.Time) AgingReport {
	report := NewAgingReport(asOf)
	report.Add(items)
	return report
}

// SaleInstallments pairs a sale with its classified installments.
type SaleInstallments struct {
	Sale         Sale
	Installments []Installment
}

// ClientOverdueInfo aggregates overdue quotas across a client's active sales.
type ClientOverdueInfo struct {
	ClientID           int64           `json:"client_id"`
	TotalOverdueAmount decimal.Decimal `json:"total_overdue_amount"`
	TotalOverdueQuotas int             `json:"total_overdue_quotas"`
	OldestDaysOverdue  int             `json:"oldest_days_overdue"`
	LastNotifiedAt     *time.Time      `json:"last_notified_at,omitempty"`
}

// HasOverdue reports whether the client owes any overdue quota.
func (c ClientOverdueInfo) HasOverdue() bool {
	return c.TotalOverdueQuotas > 0
}

// SummarizeClient aggregates the overdue installments of the client's active
// sales. Sales in other states are ignored.
func SummarizeClient(clientID int64, sales []SaleInstallments, lastNotified *time.Time) ClientOverdueInfo {
	info := ClientOverdueInfo{ClientID: clientID, TotalOverdueAmount: decimal.Zero, LastNotifiedAt: lastNotified}
	for _, s := range sales {
		if s.Sale.Status != SaleActive {
			continue
		}
		for _, it := range s.Installments {
			if it.Status != StatusOverdue {
				continue
			}
			info.TotalOverdueQuotas++
			info.TotalOverdueAmount = info.TotalOverdueAmount.Add(it.Balance)
			if it.DaysOverdue > info.OldestDaysOverdue {
				info.OldestDaysOverdue = it.DaysOverdue
			}
		}
	}
	return info
}
