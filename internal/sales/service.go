package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lotsales/lotsales/internal/installments"
	"github.com/lotsales/lotsales/internal/shared"
)

const (
	idempotencyModule = "sales.payment"
	defaultLockTTL    = 30 * time.Second
)

// RepositoryPort defines data access methods for the sales service.
type RepositoryPort interface {
	GetSale(ctx context.Context, id int64) (*Sale, error)
	GetPlan(ctx context.Context, id int64) (*PaymentPlan, error)
	GetClient(ctx context.Context, id int64) (*Client, error)
	ListPayments(ctx context.Context, saleID int64) ([]Payment, error)
	ListDetails(ctx context.Context, saleID int64) ([]installments.Detail, error)
	ListClientSales(ctx context.Context, clientID int64) ([]Sale, error)
	ListActiveSales(ctx context.Context) ([]Sale, error)
	LastNotification(ctx context.Context, clientID int64) (*time.Time, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Locker serialises concurrent writers of the same sale.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// IdempotencyPort rejects replayed payment submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// AuditRecorder persists the audit trail of sale mutations.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MutationObserver receives the outcome of every sale mutation.
type MutationObserver interface {
	ObserveSaleMutation(action, outcome string, elapsed time.Duration)
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Locker      Locker
	Idempotency IdempotencyPort
	Cache       *ReportCache
	Audit       AuditRecorder
	Observer    MutationObserver
	Logger      *slog.Logger
	Clock       func() time.Time
	LockTTL     time.Duration
}

// Service coordinates persistence with the installment engine.
type Service struct {
	repo        RepositoryPort
	locker      Locker
	idempotency IdempotencyPort
	cache       *ReportCache
	auditor     AuditRecorder
	observer    MutationObserver
	logger      *slog.Logger
	now         func() time.Time
	lockTTL     time.Duration
	reports     singleflight.Group
}

// NewService builds Service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	s := &Service{
		repo:        repo,
		locker:      cfg.Locker,
		idempotency: cfg.Idempotency,
		cache:       cfg.Cache,
		auditor:     cfg.Audit,
		observer:    cfg.Observer,
		logger:      cfg.Logger,
		now:         cfg.Clock,
		lockTTL:     cfg.LockTTL,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.lockTTL <= 0 {
		s.lockTTL = defaultLockTTL
	}
	return s
}

// ============================================================================
// READS
// ============================================================================

// GetSale returns a sale by ID.
func (s *Service) GetSale(ctx context.Context, id int64) (*Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// ListPayments returns the payments of a sale.
func (s *Service) ListPayments(ctx context.Context, saleID int64) ([]Payment, error) {
	if _, err := s.repo.GetSale(ctx, saleID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, saleID)
}

// ListDetails returns the persisted payment-to-quota allocation of a sale.
func (s *Service) ListDetails(ctx context.Context, saleID int64) ([]installments.Detail, error) {
	if _, err := s.repo.GetSale(ctx, saleID); err != nil {
		return nil, err
	}
	return s.repo.ListDetails(ctx, saleID)
}

// Installments computes the installment view of a sale as of a date. A zero
// asOf means today.
func (s *Service) Installments(ctx context.Context, saleID int64, asOf time.Time) (*InstallmentView, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	view, _, err := s.calculate(ctx, *sale, s.asOf(asOf))
	return view, err
}

// ClientOverdue aggregates the overdue quotas of a client's active sales.
func (s *Service) ClientOverdue(ctx context.Context, clientID int64, asOf time.Time) (*ClientOverdue, error) {
	client, err := s.repo.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	sales, err := s.repo.ListClientSales(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("list client sales: %w", err)
	}
	asOf = s.asOf(asOf)
	var pairs []installments.SaleInstallments
	quotas := []CalculatedInstallment{}
	for _, sale := range sales {
		if sale.Status != installments.SaleActive {
			continue
		}
		view, items, err := s.calculate(ctx, sale, asOf)
		if err != nil {
			return nil, fmt.Errorf("sale %d: %w", sale.ID, err)
		}
		pairs = append(pairs, installments.SaleInstallments{Sale: sale.Core(), Installments: items})
		for _, q := range view.Installments {
			if q.Status == installments.StatusOverdue {
				quotas = append(quotas, q)
			}
		}
	}
	last, err := s.repo.LastNotification(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("last notification: %w", err)
	}
	return &ClientOverdue{
		Client:            *client,
		ClientOverdueInfo: installments.SummarizeClient(clientID, pairs, last),
		Quotas:            quotas,
	}, nil
}

// AgingReport buckets the overdue quotas of every active sale. Concurrent
// callers for the same day share one computation and the result is cached
// until the next write.
func (s *Service) AgingReport(ctx context.Context, asOf time.Time) (installments.AgingReport, error) {
	day := installments.Date(s.asOf(asOf))
	dayKey := day.Format("2006-01-02")
	v, err, _ := s.reports.Do(dayKey, func() (any, error) {
		key, err := s.cache.BuildKey(ctx, "aging", dayKey)
		if err != nil {
			return installments.AgingReport{}, err
		}
		var report installments.AgingReport
		err = s.cache.FetchJSON(ctx, key, &report, func(ctx context.Context) (any, error) {
			return s.buildAging(ctx, day)
		})
		return report, err
	})
	if err != nil {
		return installments.AgingReport{}, err
	}
	return v.(installments.AgingReport), nil
}

func (s *Service) buildAging(ctx context.Context, day time.Time) (installments.AgingReport, error) {
	sales, err := s.repo.ListActiveSales(ctx)
	if err != nil {
		return installments.AgingReport{}, fmt.Errorf("list active sales: %w", err)
	}
	report := installments.NewAgingReport(day)
	for _, sale := range sales {
		_, items, err := s.calculate(ctx, sale, day)
		if err != nil {
			return installments.AgingReport{}, fmt.Errorf("sale %d: %w", sale.ID, err)
		}
		report.Add(items)
	}
	return report, nil
}

func (s *Service) calculate(ctx context.Context, sale Sale, asOf time.Time) (*InstallmentView, []installments.Installment, error) {
	plan, err := s.repo.GetPlan(ctx, sale.PlanID)
	if err != nil {
		return nil, nil, err
	}
	payments, err := s.repo.ListPayments(ctx, sale.ID)
	if err != nil {
		return nil, nil, err
	}
	result, err := installments.Calculate(sale.Core(), plan.Core(), corePayments(payments))
	if err != nil {
		return nil, nil, err
	}
	items := installments.Classify(result.Allocation.Installments, asOf)
	return buildView(sale, *plan, result, items, asOf), items, nil
}

func (s *Service) asOf(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t
}

// ============================================================================
// WRITES
// ============================================================================

// RecordPayment stores a payment and re-allocates the whole payment history
// of the sale. A payment larger than the outstanding balance is rejected
// with installments.ErrOverpayment and nothing is written.
func (s *Service) RecordPayment(ctx context.Context, saleID int64, input PaymentInput, idempotencyKey string) (*PaymentReceipt, error) {
	if err := validatePayment(input); err != nil {
		return nil, err
	}
	if idempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idempotencyKey, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return nil, ErrDuplicatePayment
			}
			return nil, fmt.Errorf("check idempotency: %w", err)
		}
	}

	var receipt *PaymentReceipt
	err := s.mutate(ctx, "payment.recorded", saleID, func(ctx context.Context, tx TxRepository, sale *Sale) error {
		if sale.Status != installments.SaleActive {
			return ErrSaleClosed
		}
		payment := newPayment(saleID, input)
		id, err := tx.InsertPayment(ctx, payment)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		payment.ID = id
		plan, result, err := s.reallocate(ctx, tx, sale)
		if err != nil {
			return err
		}
		receipt = s.receipt(*sale, *plan, payment, result)
		return nil
	})
	if err != nil {
		if idempotencyKey != "" && s.idempotency != nil {
			if delErr := s.idempotency.Delete(context.WithoutCancel(ctx), idempotencyKey, idempotencyModule); delErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", idempotencyKey), slog.Any("error", delErr))
			}
		}
		return nil, err
	}
	s.logger.Info("payment recorded",
		slog.Int64("sale_id", saleID),
		slog.Int64("payment_id", receipt.Payment.ID),
		slog.String("amount", receipt.Payment.Amount.StringFixed(installments.CurrencyPlaces)))
	s.audit(ctx, "payment.recorded", saleID, map[string]any{
		"payment_id": receipt.Payment.ID,
		"amount":     receipt.Payment.Amount.StringFixed(installments.CurrencyPlaces),
	})
	return receipt, nil
}

// UpdatePayment edits a recorded payment and re-allocates the sale.
func (s *Service) UpdatePayment(ctx context.Context, saleID, paymentID int64, input PaymentInput) (*PaymentReceipt, error) {
	if err := validatePayment(input); err != nil {
		return nil, err
	}
	var receipt *PaymentReceipt
	err := s.mutate(ctx, "payment.updated", saleID, func(ctx context.Context, tx TxRepository, sale *Sale) error {
		if sale.Status != installments.SaleActive {
			return ErrSaleClosed
		}
		payment := newPayment(saleID, input)
		payment.ID = paymentID
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		plan, result, err := s.reallocate(ctx, tx, sale)
		if err != nil {
			return err
		}
		receipt = s.receipt(*sale, *plan, payment, result)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment updated", slog.Int64("sale_id", saleID), slog.Int64("payment_id", paymentID))
	s.audit(ctx, "payment.updated", saleID, map[string]any{
		"payment_id": paymentID,
		"amount":     receipt.Payment.Amount.StringFixed(installments.CurrencyPlaces),
	})
	return receipt, nil
}

// DeletePayment removes a payment and re-allocates the sale.
func (s *Service) DeletePayment(ctx context.Context, saleID, paymentID int64) (*InstallmentView, error) {
	var view *InstallmentView
	err := s.mutate(ctx, "payment.deleted", saleID, func(ctx context.Context, tx TxRepository, sale *Sale) error {
		if sale.Status != installments.SaleActive {
			return ErrSaleClosed
		}
		if err := tx.DeletePayment(ctx, saleID, paymentID); err != nil {
			return err
		}
		plan, result, err := s.reallocate(ctx, tx, sale)
		if err != nil {
			return err
		}
		now := s.now()
		view = buildView(*sale, *plan, result, installments.Classify(result.Allocation.Installments, now), now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment deleted", slog.Int64("sale_id", saleID), slog.Int64("payment_id", paymentID))
	s.audit(ctx, "payment.deleted", saleID, map[string]any{"payment_id": paymentID})
	return view, nil
}

// ChangePlan replaces the plan (and optionally the price) of a sale,
// regenerating its schedule and re-applying every payment. When the payments
// already made exceed the new financed amount it fails with
// installments.ErrPlanConflict and the previous plan and details stay.
func (s *Service) ChangePlan(ctx context.Context, saleID int64, change PlanChange) (*InstallmentView, error) {
	if err := validatePlanChange(change); err != nil {
		return nil, err
	}
	var view *InstallmentView
	err := s.mutate(ctx, "plan.changed", saleID, func(ctx context.Context, tx TxRepository, sale *Sale) error {
		if sale.Status != installments.SaleActive {
			return ErrSaleClosed
		}
		updated := *sale
		if change.TotalValue != nil {
			updated.TotalValue = *change.TotalValue
		}
		if change.InitialPayment != nil {
			updated.InitialPayment = *change.InitialPayment
		}
		plan := PaymentPlan{Name: planName(change), NumberQuotas: change.NumberQuotas, CustomAmounts: change.CustomAmounts}

		payments, err := tx.ListPayments(ctx, sale.ID)
		if err != nil {
			return fmt.Errorf("list payments: %w", err)
		}
		result, err := installments.Redistribute(updated.Core(), plan.Core(), corePayments(payments))
		if err != nil {
			return err
		}

		planID, err := tx.CreatePlan(ctx, plan)
		if err != nil {
			return fmt.Errorf("create plan: %w", err)
		}
		plan.ID = planID
		updated.PlanID = planID
		if err := tx.UpdateSaleTerms(ctx, sale.ID, planID, updated.TotalValue, updated.InitialPayment); err != nil {
			return fmt.Errorf("update sale terms: %w", err)
		}
		if err := s.persistAllocation(ctx, tx, &updated, result); err != nil {
			return err
		}
		now := s.now()
		view = buildView(updated, plan, result, installments.Classify(result.Allocation.Installments, now), now)
		return nil
	})
	if err != nil {
		if errors.Is(err, installments.ErrPlanConflict) {
			s.logger.Warn("plan change rejected", slog.Int64("sale_id", saleID), slog.Any("error", err))
		}
		return nil, err
	}
	s.logger.Info("plan changed", slog.Int64("sale_id", saleID), slog.Int64("plan_id", view.Plan.ID))
	s.audit(ctx, "plan.changed", saleID, map[string]any{
		"plan_id":     view.Plan.ID,
		"outstanding": view.Outstanding.StringFixed(installments.CurrencyPlaces),
	})
	return view, nil
}

// ChangeStatus moves a sale forward in its lifecycle.
func (s *Service) ChangeStatus(ctx context.Context, saleID int64, status installments.SaleStatus) (*Sale, error) {
	var out *Sale
	err := s.mutate(ctx, "sale.status_changed", saleID, func(ctx context.Context, tx TxRepository, sale *Sale) error {
		if !sale.Status.CanTransition(status) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidStatus, sale.Status, status)
		}
		if err := tx.UpdateSaleStatus(ctx, saleID, status); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		sale.Status = status
		out = sale
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("sale status changed", slog.Int64("sale_id", saleID), slog.String("status", string(status)))
	s.audit(ctx, "sale.status_changed", saleID, map[string]any{"status": string(status)})
	return out, nil
}

func (s *Service) mutate(ctx context.Context, action string, saleID int64, fn func(context.Context, TxRepository, *Sale) error) (err error) {
	if s.observer != nil {
		start := time.Now()
		defer func() {
			s.observer.ObserveSaleMutation(action, mutationOutcome(err), time.Since(start))
		}()
	}
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, shared.SaleLockKey(saleID), s.lockTTL)
		if err != nil {
			if errors.Is(err, shared.ErrLockNotAcquired) {
				return fmt.Errorf("%w: sale %d", ErrSaleBusy, saleID)
			}
			return fmt.Errorf("lock sale: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release sale lock", slog.Int64("sale_id", saleID), slog.Any("error", err))
			}
		}()
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		return fn(ctx, tx, sale)
	})
	if err != nil {
		return err
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("bump report cache", slog.Any("error", err))
	}
	return nil
}

func mutationOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, installments.ErrOverpayment):
		return "overpayment"
	case errors.Is(err, installments.ErrPlanConflict):
		return "plan_conflict"
	case errors.Is(err, ErrSaleBusy):
		return "busy"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPaymentNotFound):
		return "not_found"
	case errors.Is(err, ErrSaleClosed), errors.Is(err, ErrInvalidStatus),
		errors.Is(err, installments.ErrInvalidScheduleParameters), errors.Is(err, installments.ErrInvalidPayment):
		return "rejected"
	default:
		return "error"
	}
}

// audit records a committed mutation. Failures are logged and never undo the
// mutation.
func (s *Service) audit(ctx context.Context, action string, saleID int64, meta map[string]any) {
	if s.auditor == nil {
		return
	}
	entry := shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "sale",
		EntityID: strconv.FormatInt(saleID, 10),
		Meta:     meta,
		At:       s.now(),
	}
	if err := s.auditor.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("record audit log", slog.String("action", action), slog.Int64("sale_id", saleID), slog.Any("error", err))
	}
}

func (s *Service) reallocate(ctx context.Context, tx TxRepository, sale *Sale) (*PaymentPlan, installments.Redistribution, error) {
	plan, err := tx.GetPlan(ctx, sale.PlanID)
	if err != nil {
		return nil, installments.Redistribution{}, fmt.Errorf("get plan: %w", err)
	}
	payments, err := tx.ListPayments(ctx, sale.ID)
	if err != nil {
		return nil, installments.Redistribution{}, fmt.Errorf("list payments: %w", err)
	}
	result, err := installments.Calculate(sale.Core(), plan.Core(), corePayments(payments))
	if err != nil {
		return nil, installments.Redistribution{}, err
	}
	if result.Allocation.HasOverpayment() {
		return nil, installments.Redistribution{}, fmt.Errorf("%w: %s above the outstanding balance",
			installments.ErrOverpayment, result.Allocation.Overpayment.StringFixed(installments.CurrencyPlaces))
	}
	if err := s.persistAllocation(ctx, tx, sale, result); err != nil {
		return nil, installments.Redistribution{}, err
	}
	return plan, result, nil
}

func (s *Service) persistAllocation(ctx context.Context, tx TxRepository, sale *Sale, result installments.Redistribution) error {
	applied := result.Allocation.Applied
	if applied.GreaterThan(sale.TotalValue) {
		return fmt.Errorf("%w: raised %s above total value %s", installments.ErrOverpayment,
			applied.StringFixed(installments.CurrencyPlaces), sale.TotalValue.StringFixed(installments.CurrencyPlaces))
	}
	for _, w := range result.Schedule.Warnings {
		s.logger.Warn("schedule warning", slog.Int64("sale_id", sale.ID), slog.String("code", w.Code), slog.String("message", w.Message))
	}
	if err := tx.ReplaceDetails(ctx, sale.ID, result.Allocation.Details); err != nil {
		return fmt.Errorf("replace details: %w", err)
	}
	if err := tx.UpdateSaleTotalRaised(ctx, sale.ID, applied); err != nil {
		return fmt.Errorf("update total raised: %w", err)
	}
	sale.TotalRaised = applied
	return nil
}

func (s *Service) receipt(sale Sale, plan PaymentPlan, payment Payment, result installments.Redistribution) *PaymentReceipt {
	now := s.now()
	var details []installments.Detail
	for _, d := range result.Allocation.Details {
		if d.PaymentID == payment.ID {
			details = append(details, d)
		}
	}
	return &PaymentReceipt{
		Payment: payment,
		Details: details,
		View:    buildView(sale, plan, result, installments.Classify(result.Allocation.Installments, now), now),
	}
}

func newPayment(saleID int64, input PaymentInput) Payment {
	return Payment{
		SaleID:         saleID,
		PaidAt:         installments.Date(input.PaidAt),
		Amount:         installments.Round(input.Amount),
		Method:         input.Method,
		ReferenceMonth: input.ReferenceMonth,
		Observation:    input.Observation,
	}
}

func validatePayment(input PaymentInput) error {
	if !input.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if input.PaidAt.IsZero() {
		return fmt.Errorf("%w: payment date required", ErrInvalidInput)
	}
	if input.Method == "" {
		return fmt.Errorf("%w: payment method required", ErrInvalidInput)
	}
	return nil
}

func validatePlanChange(change PlanChange) error {
	custom := len(change.CustomAmounts) > 0
	if (change.NumberQuotas == nil) == !custom {
		return fmt.Errorf("%w: provide either number_quotas or custom_amounts", ErrInvalidInput)
	}
	if change.NumberQuotas != nil && *change.NumberQuotas < 1 {
		return fmt.Errorf("%w: number_quotas must be at least 1", ErrInvalidInput)
	}
	if change.TotalValue != nil && !change.TotalValue.IsPositive() {
		return fmt.Errorf("%w: total_value must be positive", ErrInvalidInput)
	}
	if change.InitialPayment != nil && change.InitialPayment.IsNegative() {
		return fmt.Errorf("%w: initial_payment must not be negative", ErrInvalidInput)
	}
	if change.TotalValue != nil && change.InitialPayment != nil && change.InitialPayment.GreaterThan(*change.TotalValue) {
		return fmt.Errorf("%w: initial_payment exceeds total_value", ErrInvalidInput)
	}
	return nil
}

func planName(change PlanChange) string {
	if change.Name != "" {
		return change.Name
	}
	if change.NumberQuotas != nil {
		return fmt.Sprintf("%d quotas", *change.NumberQuotas)
	}
	return fmt.Sprintf("custom %d quotas", len(change.CustomAmounts))
}
