package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lotsales/lotsales/internal/installments"
	"github.com/lotsales/lotsales/internal/platform/db"
)

var (
	ErrNotFound         = errors.New("sales: record not found")
	ErrInvalidStatus    = errors.New("sales: invalid status transition")
	ErrSaleClosed       = errors.New("sales: sale is not active")
	ErrSaleBusy         = errors.New("sales: sale is being modified")
	ErrDuplicatePayment = errors.New("sales: payment already recorded")
	ErrInvalidInput     = errors.New("sales: invalid input")
	ErrPaymentNotFound  = errors.New("sales: payment not found")
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository provides PostgreSQL backed persistence for sales.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the writes of a sale mutation.
type TxRepository interface {
	LockSale(ctx context.Context, id int64) (*Sale, error)
	GetPlan(ctx context.Context, id int64) (*PaymentPlan, error)
	ListPayments(ctx context.Context, saleID int64) ([]Payment, error)
	InsertPayment(ctx context.Context, payment Payment) (int64, error)
	UpdatePayment(ctx context.Context, payment Payment) error
	DeletePayment(ctx context.Context, saleID, paymentID int64) error
	CreatePlan(ctx context.Context, plan PaymentPlan) (int64, error)
	UpdateSaleTerms(ctx context.Context, saleID, planID int64, totalValue, initialPayment decimal.Decimal) error
	UpdateSaleTotalRaised(ctx context.Context, saleID int64, totalRaised decimal.Decimal) error
	UpdateSaleStatus(ctx context.Context, saleID int64, status installments.SaleStatus) error
	ReplaceDetails(ctx context.Context, saleID int64, details []installments.Detail) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const saleColumns = `s.id, s.client_id, c.name, c.email, s.lot_id, l.code, p.name, s.plan_id, s.sale_date,
	s.total_value, s.initial_payment, s.total_raised, s.status, s.created_at, s.updated_at
FROM sales s
JOIN clients c ON c.id = s.client_id
JOIN lots l ON l.id = s.lot_id
JOIN projects p ON p.id = l.project_id`

func scanSale(row pgx.Row) (*Sale, error) {
	var s Sale
	if err := row.Scan(&s.ID, &s.ClientID, &s.ClientName, &s.ClientEmail, &s.LotID, &s.LotCode, &s.ProjectName, &s.PlanID, &s.SaleDate,
		&s.TotalValue, &s.InitialPayment, &s.TotalRaised, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func querySales(ctx context.Context, q querier, where string, args ...any) ([]Sale, error) {
	rows, err := q.Query(ctx, `SELECT `+saleColumns+` `+where+` ORDER BY s.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSale returns the canonical sale shape.
func (r *Repository) GetSale(ctx context.Context, id int64) (*Sale, error) {
	return scanSale(r.pool.QueryRow(ctx, `SELECT `+saleColumns+` WHERE s.id = $1`, id))
}

// ListClientSales returns every sale of a client.
func (r *Repository) ListClientSales(ctx context.Context, clientID int64) ([]Sale, error) {
	return querySales(ctx, r.pool, `WHERE s.client_id = $1`, clientID)
}

// ListActiveSales returns every active sale.
func (r *Repository) ListActiveSales(ctx context.Context) ([]Sale, error) {
	return querySales(ctx, r.pool, `WHERE s.status = $1`, installments.SaleActive)
}

// GetClient returns a client by ID.
func (r *Repository) GetClient(ctx context.Context, id int64) (*Client, error) {
	var c Client
	err := r.pool.QueryRow(ctx, `SELECT id, name, email, COALESCE(phone, ''), created_at FROM clients WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListClientsWithActiveSales returns clients owning at least one active sale.
func (r *Repository) ListClientsWithActiveSales(ctx context.Context) ([]Client, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT c.id, c.name, c.email, COALESCE(c.phone, ''), c.created_at
FROM clients c JOIN sales s ON s.client_id = c.id
WHERE s.status = $1 ORDER BY c.id`, installments.SaleActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Client
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LastNotification returns when the client was last sent an overdue notice.
func (r *Repository) LastNotification(ctx context.Context, clientID int64) (*time.Time, error) {
	var at time.Time
	err := r.pool.QueryRow(ctx, `SELECT last_notified_at FROM client_notifications WHERE client_id = $1`, clientID).Scan(&at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &at, nil
}

// MarkNotified stamps the last overdue notice sent to a client.
func (r *Repository) MarkNotified(ctx context.Context, clientID int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO client_notifications (client_id, last_notified_at) VALUES ($1, $2)
ON CONFLICT (client_id) DO UPDATE SET last_notified_at = EXCLUDED.last_notified_at`, clientID, at)
	return err
}

// GetPlan returns a plan with its custom quota amounts.
func (r *Repository) GetPlan(ctx context.Context, id int64) (*PaymentPlan, error) {
	return getPlan(ctx, r.pool, id)
}

// ListPayments returns the payments of a sale ordered by date then ID.
func (r *Repository) ListPayments(ctx context.Context, saleID int64) ([]Payment, error) {
	return listPayments(ctx, r.pool, saleID)
}

// ListDetails returns the persisted allocation of a sale.
func (r *Repository) ListDetails(ctx context.Context, saleID int64) ([]installments.Detail, error) {
	rows, err := r.pool.Query(ctx, `SELECT payment_id, sale_id, quota_number, covered_amount FROM payment_details
WHERE sale_id = $1 ORDER BY payment_id, quota_number`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []installments.Detail
	for rows.Next() {
		var d installments.Detail
		if err := rows.Scan(&d.PaymentID, &d.SaleID, &d.QuotaNumber, &d.CoveredAmount); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func getPlan(ctx context.Context, q querier, id int64) (*PaymentPlan, error) {
	var plan PaymentPlan
	var quotas *int32
	err := q.QueryRow(ctx, `SELECT id, name, number_quotas FROM payment_plans WHERE id = $1`, id).Scan(&plan.ID, &plan.Name, &quotas)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: plan %d", ErrNotFound, id)
		}
		return nil, err
	}
	if quotas != nil {
		n := int(*quotas)
		plan.NumberQuotas = &n
		return &plan, nil
	}
	rows, err := q.Query(ctx, `SELECT number, amount FROM payment_plan_quotas WHERE plan_id = $1 ORDER BY number`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var qa installments.QuotaAmount
		if err := rows.Scan(&qa.Number, &qa.Amount); err != nil {
			return nil, err
		}
		plan.CustomAmounts = append(plan.CustomAmounts, qa)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &plan, nil
}

func listPayments(ctx context.Context, q querier, saleID int64) ([]Payment, error) {
	rows, err := q.Query(ctx, `SELECT id, sale_id, paid_at, amount, method, reference_month, observation, created_at, updated_at
FROM payments WHERE sale_id = $1 ORDER BY paid_at, id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.SaleID, &p.PaidAt, &p.Amount, &p.Method, &p.ReferenceMonth, &p.Observation, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *txRepo) LockSale(ctx context.Context, id int64) (*Sale, error) {
	return scanSale(t.tx.QueryRow(ctx, `SELECT `+saleColumns+` WHERE s.id = $1 FOR UPDATE OF s`, id))
}

func (t *txRepo) GetPlan(ctx context.Context, id int64) (*PaymentPlan, error) {
	return getPlan(ctx, t.tx, id)
}

func (t *txRepo) ListPayments(ctx context.Context, saleID int64) ([]Payment, error) {
	return listPayments(ctx, t.tx, saleID)
}

func (t *txRepo) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO payments (sale_id, paid_at, amount, method, reference_month, observation, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW()) RETURNING id`, p.SaleID, p.PaidAt, p.Amount, p.Method, p.ReferenceMonth, p.Observation).Scan(&id)
	return id, err
}

func (t *txRepo) UpdatePayment(ctx context.Context, p Payment) error {
	tag, err := t.tx.Exec(ctx, `UPDATE payments SET paid_at=$1, amount=$2, method=$3, reference_month=$4, observation=$5, updated_at=NOW()
WHERE id=$6 AND sale_id=$7`, p.PaidAt, p.Amount, p.Method, p.ReferenceMonth, p.Observation, p.ID, p.SaleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (t *txRepo) DeletePayment(ctx context.Context, saleID, paymentID int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM payment_details WHERE payment_id=$1`, paymentID); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM payments WHERE id=$1 AND sale_id=$2`, paymentID, saleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (t *txRepo) CreatePlan(ctx context.Context, plan PaymentPlan) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO payment_plans (name, number_quotas) VALUES ($1, $2) RETURNING id`, plan.Name, plan.NumberQuotas).Scan(&id)
	if err != nil {
		return 0, err
	}
	if len(plan.CustomAmounts) == 0 {
		return id, nil
	}
	batch := &pgx.Batch{}
	for _, qa := range plan.CustomAmounts {
		batch.Queue(`INSERT INTO payment_plan_quotas (plan_id, number, amount) VALUES ($1, $2, $3)`, id, qa.Number, qa.Amount)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, err
	}
	return id, nil
}

func (t *txRepo) UpdateSaleTerms(ctx context.Context, saleID, planID int64, totalValue, initialPayment decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE sales SET plan_id=$1, total_value=$2, initial_payment=$3, updated_at=NOW() WHERE id=$4`, planID, totalValue, initialPayment, saleID)
	return err
}

func (t *txRepo) UpdateSaleTotalRaised(ctx context.Context, saleID int64, totalRaised decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE sales SET total_raised=$1, updated_at=NOW() WHERE id=$2`, totalRaised, saleID)
	return err
}

func (t *txRepo) UpdateSaleStatus(ctx context.Context, saleID int64, status installments.SaleStatus) error {
	_, err := t.tx.Exec(ctx, `UPDATE sales SET status=$1, updated_at=NOW() WHERE id=$2`, status, saleID)
	return err
}

// ReplaceDetails swaps the whole allocation of a sale. It only runs inside
// the caller's transaction so a failure leaves the previous rows in place.
func (t *txRepo) ReplaceDetails(ctx context.Context, saleID int64, details []installments.Detail) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM payment_details WHERE sale_id=$1`, saleID); err != nil {
		return fmt.Errorf("delete details: %w", err)
	}
	if len(details) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, d := range details {
		batch.Queue(`INSERT INTO payment_details (payment_id, sale_id, quota_number, covered_amount) VALUES ($1, $2, $3, $4)`,
			d.PaymentID, saleID, d.QuotaNumber, d.CoveredAmount)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert details: %w", err)
	}
	return nil
}
