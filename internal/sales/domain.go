package sales

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lotsales/lotsales/internal/installments"
)

// Client is a buyer of lots.
type Client struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Sale is the canonical sale shape. Client, project and lot descriptors are
// always joined in by the repository.
type Sale struct {
	ID             int64                   `json:"id"`
	ClientID       int64                   `json:"client_id"`
	ClientName     string                  `json:"client_name"`
	ClientEmail    string                  `json:"client_email"`
	LotID          int64                   `json:"lot_id"`
	LotCode        string                  `json:"lot_code"`
	ProjectName    string                  `json:"project_name"`
	PlanID         int64                   `json:"plan_id"`
	SaleDate       time.Time               `json:"sale_date"`
	TotalValue     decimal.Decimal         `json:"total_value"`
	InitialPayment decimal.Decimal         `json:"initial_payment"`
	TotalRaised    decimal.Decimal         `json:"total_raised"`
	Status         installments.SaleStatus `json:"status"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// Core returns the fields the installment engine works on.
func (s Sale) Core() installments.Sale {
	return installments.Sale{
		ID:             s.ID,
		ClientID:       s.ClientID,
		SaleDate:       s.SaleDate,
		TotalValue:     s.TotalValue,
		InitialPayment: s.InitialPayment,
		TotalRaised:    s.TotalRaised,
		Status:         s.Status,
	}
}

// PaymentPlan is a stored plan. NumberQuotas is nil for custom plans.
type PaymentPlan struct {
	ID            int64                      `json:"id"`
	Name          string                     `json:"name"`
	NumberQuotas  *int                       `json:"number_quotas"`
	CustomAmounts []installments.QuotaAmount `json:"custom_amounts,omitempty"`
}

// Core returns the plan in engine form.
func (p PaymentPlan) Core() installments.PaymentPlan {
	return installments.PaymentPlan{
		ID:            p.ID,
		Name:          p.Name,
		NumberQuotas:  p.NumberQuotas,
		CustomAmounts: p.CustomAmounts,
	}
}

// Payment is a recorded payment.
type Payment struct {
	ID             int64           `json:"id"`
	SaleID         int64           `json:"sale_id"`
	PaidAt         time.Time       `json:"paid_at"`
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"method"`
	ReferenceMonth *string         `json:"reference_month,omitempty"`
	Observation    *string         `json:"observation,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func corePayments(payments []Payment) []installments.Payment {
	out := make([]installments.Payment, 0, len(payments))
	for _, p := range payments {
		out = append(out, installments.Payment{ID: p.ID, SaleID: p.SaleID, PaidAt: p.PaidAt, Amount: p.Amount})
	}
	return out
}

// CalculatedInstallment is the read model of a quota handed to reporting and
// notification consumers.
type CalculatedInstallment struct {
	SaleID      int64               `json:"sale_id"`
	ClientID    int64               `json:"client_id"`
	ProjectName string              `json:"project_name"`
	LotCode     string              `json:"lot_code"`
	QuotaNumber int                 `json:"quota_number"`
	QuotaValue  decimal.Decimal     `json:"quota_value"`
	PaidAmount  decimal.Decimal     `json:"paid_amount"`
	Balance     decimal.Decimal     `json:"balance"`
	DueDate     time.Time           `json:"due_date"`
	Status      installments.Status `json:"status"`
	DaysOverdue int                 `json:"days_overdue"`
}

// InstallmentView is the full calculated state of a sale.
type InstallmentView struct {
	Sale         Sale                    `json:"sale"`
	Plan         PaymentPlan             `json:"plan"`
	AsOf         time.Time               `json:"as_of"`
	Installments []CalculatedInstallment `json:"installments"`
	Warnings     []string                `json:"warnings,omitempty"`
	Paid         decimal.Decimal         `json:"paid"`
	Outstanding  decimal.Decimal         `json:"outstanding"`
}

// buildView expects items already classified as of asOf.
func buildView(sale Sale, plan PaymentPlan, result installments.Redistribution, items []installments.Installment, asOf time.Time) *InstallmentView {
	view := &InstallmentView{
		Sale:         sale,
		Plan:         plan,
		AsOf:         installments.Date(asOf),
		Installments: make([]CalculatedInstallment, 0, len(items)),
		Paid:         result.Allocation.Applied,
		Outstanding:  decimal.Zero,
	}
	for _, w := range result.Schedule.Warnings {
		view.Warnings = append(view.Warnings, w.Message)
	}
	for _, it := range items {
		view.Outstanding = view.Outstanding.Add(it.Balance)
		view.Installments = append(view.Installments, CalculatedInstallment{
			SaleID:      sale.ID,
			ClientID:    sale.ClientID,
			ProjectName: sale.ProjectName,
			LotCode:     sale.LotCode,
			QuotaNumber: it.QuotaNumber,
			QuotaValue:  it.QuotaValue,
			PaidAmount:  it.PaidAmount,
			Balance:     it.Balance,
			DueDate:     it.DueDate,
			Status:      it.Status,
			DaysOverdue: it.DaysOverdue,
		})
	}
	return view
}

// ClientOverdue pairs a client with its overdue aggregate and the overdue
// quotas behind it.
type ClientOverdue struct {
	Client Client `json:"client"`
	installments.ClientOverdueInfo
	Quotas []CalculatedInstallment `json:"quotas"`
}

// PaymentInput carries a new or edited payment.
type PaymentInput struct {
	Amount         decimal.Decimal
	PaidAt         time.Time
	Method         string
	ReferenceMonth *string
	Observation    *string
}

// PaymentReceipt is returned after a payment write.
type PaymentReceipt struct {
	Payment Payment               `json:"payment"`
	Details []installments.Detail `json:"details"`
	View    *InstallmentView      `json:"installments"`
}

// PlanChange edits the plan and optionally the price of a sale.
type PlanChange struct {
	Name           string
	NumberQuotas   *int
	CustomAmounts  []installments.QuotaAmount
	TotalValue     *decimal.Decimal
	InitialPayment *decimal.Decimal
}
