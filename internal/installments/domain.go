package installments

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates the state of a single installment.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
	StatusOverdue       Status = "OVERDUE"
)

// SaleStatus enumerates sale lifecycle states.
type SaleStatus string

const (
	SaleActive    SaleStatus = "ACTIVE"
	SaleCancelled SaleStatus = "CANCELLED"
	SaleWithdrawn SaleStatus = "WITHDRAWN"
	SaleDeeded    SaleStatus = "DEEDED"
)

// CanTransition reports whether a sale may move from s to next. Sales only
// move forward out of ACTIVE.
func (s SaleStatus) CanTransition(next SaleStatus) bool {
	if s != SaleActive {
		return false
	}
	switch next {
	case SaleCancelled, SaleWithdrawn, SaleDeeded:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s SaleStatus) Valid() bool {
	switch s {
	case SaleActive, SaleCancelled, SaleWithdrawn, SaleDeeded:
		return true
	}
	return false
}

// Sale carries the fields of a sale the engine needs.
type Sale struct {
	ID             int64
	ClientID       int64
	SaleDate       time.Time
	TotalValue     decimal.Decimal
	InitialPayment decimal.Decimal
	TotalRaised    decimal.Decimal
	Status         SaleStatus
}

// Financed returns the amount spread across installments.
func (s Sale) Financed() decimal.Decimal {
	return s.TotalValue.Sub(s.InitialPayment)
}

// QuotaAmount is one explicit amount of a custom plan.
type QuotaAmount struct {
	Number int             `json:"number"`
	Amount decimal.Decimal `json:"amount"`
}

// PaymentPlan describes how a sale is split. A nil NumberQuotas marks a
// custom plan whose quotas come from CustomAmounts.
type PaymentPlan struct {
	ID            int64
	Name          string
	NumberQuotas  *int
	CustomAmounts []QuotaAmount
}

// IsCustom reports whether the plan carries explicit per-quota amounts.
func (p PaymentPlan) IsCustom() bool {
	return p.NumberQuotas == nil
}

// Payment is a recorded payment against a sale.
type Payment struct {
	ID     int64
	SaleID int64
	PaidAt time.Time
	Amount decimal.Decimal
}

// Installment is a derived quota row.
type Installment struct {
	QuotaNumber int             `json:"quota_number"`
	QuotaValue  decimal.Decimal `json:"quota_value"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	Balance     decimal.Decimal `json:"balance"`
	DueDate     time.Time       `json:"due_date"`
	Status      Status          `json:"status"`
	DaysOverdue int             `json:"days_overdue"`
}

// Detail links part of a payment to one quota of a sale.
type Detail struct {
	PaymentID     int64           `json:"payment_id"`
	SaleID        int64           `json:"sale_id"`
	QuotaNumber   int             `json:"quota_number"`
	CoveredAmount decimal.Decimal `json:"covered_amount"`
}

// Credit records the part of a payment that found no open balance.
type Credit struct {
	PaymentID int64
	Amount    decimal.Decimal
}

// Warning flags a tolerated inconsistency in the inputs.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Schedule is the output of GenerateSchedule.
type Schedule struct {
	Installments []Installment   `json:"installments"`
	Total        decimal.Decimal `json:"total"`
	Warnings     []Warning       `json:"warnings,omitempty"`
}

// Allocation is the output of Allocate.
type Allocation struct {
	Installments []Installment
	Details      []Detail
	Applied      decimal.Decimal
	Overpayment  decimal.Decimal
	Credits      []Credit
}

// HasOverpayment reports whether any payment amount was left unapplied.
func (a Allocation) HasOverpayment() bool {
	return a.Overpayment.IsPositive()
}

// Redistribution is the output of Redistribute.
type Redistribution struct {
	Schedule   Schedule
	Allocation Allocation
}
