package sales

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/lotsales/lotsales/internal/installments"
	"github.com/lotsales/lotsales/internal/platform/httpx"
	"github.com/lotsales/lotsales/internal/shared"
)

const (
	dateLayout           = "2006-01-02"
	idempotencyKeyHeader = "Idempotency-Key"
)

// Handler exposes the sales JSON API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(shared.ActorMiddleware)
		r.Route("/sales/{saleID}", func(r chi.Router) {
			r.Get("/", h.showSale)
			r.Get("/installments", h.showInstallments)
			r.Get("/details", h.listDetails)
			r.Get("/payments", h.listPayments)
			r.Post("/payments", h.createPayment)
			r.Put("/payments/{paymentID}", h.updatePayment)
			r.Delete("/payments/{paymentID}", h.deletePayment)
			r.Put("/plan", h.changePlan)
			r.Put("/status", h.changeStatus)
		})
		r.Get("/clients/{clientID}/overdue", h.clientOverdue)
		r.Get("/reports/aging", h.agingReport)
		r.Post("/schedules/preview", h.previewSchedule)
	})
}

type paymentRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	PaidAt         string          `json:"paid_at" validate:"required,datetime=2006-01-02"`
	Method         string          `json:"method" validate:"required,max=32"`
	ReferenceMonth *string         `json:"reference_month" validate:"omitempty,datetime=2006-01"`
	Observation    *string         `json:"observation" validate:"omitempty,max=500"`
}

type planRequest struct {
	Name           string                     `json:"name" validate:"omitempty,max=120"`
	NumberQuotas   *int                       `json:"number_quotas" validate:"omitempty,min=1,max=600"`
	CustomAmounts  []installments.QuotaAmount `json:"custom_amounts" validate:"omitempty,max=600"`
	TotalValue     *decimal.Decimal           `json:"total_value"`
	InitialPayment *decimal.Decimal           `json:"initial_payment"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=CANCELLED WITHDRAWN DEEDED"`
}

type previewRequest struct {
	TotalFinanced decimal.Decimal   `json:"total_financed"`
	NumberQuotas  int               `json:"number_quotas" validate:"required,min=1,max=600"`
	StartDate     string            `json:"start_date" validate:"required,datetime=2006-01-02"`
	CustomAmounts []decimal.Decimal `json:"custom_amounts" validate:"omitempty,max=600"`
}

// ============================================================================
// READ HANDLERS
// ============================================================================

func (h *Handler) showSale(w http.ResponseWriter, r *http.Request) {
	saleID, ok := h.pathID(w, r, "saleID")
	if !ok {
		return
	}
	sale, err := h.service.GetSale(r.Context(), saleID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) showInstallments(w http.ResponseWriter, r *http.Request) {
	saleID, ok := h.pathID(w, r, "saleID")
	if !ok {
		return
	}
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}
	view, err := h.service.Installments(r.Context(), saleID, asOf)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) listDetails(w http.ResponseWriter, r *http.Request) {
	saleID, ok := h.pathID(w, r, "saleID")
	if !ok {
		return
	}
	details, err := h.service.ListDetails(r.Context(), saleID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"details": details})
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	saleID, ok := h.pathID(w, r, "saleID")
	if !ok {
		return
	}
	payments, err := h.service.ListPayments(r.Context(), saleID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	page := shared.PaginationFromQuery(r.URL.Query(), len(payments))
	start, end := page.Bounds()
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": payments[start:end], "pagination": page})
}

func (h *Handler) clientOverdue(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.pathID(w, r, "clientID")
	if !ok {
		return
	}
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}
	overdue, err := h.service.ClientOverdue(r.Context(), clientID, asOf)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, overdue)
}

func (h *Handler) agingReport(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}
	report, err := h.service.AgingReport(r.Context(), asOf)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) previewSchedule(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, _ := time.Parse(dateLayout, req.StartDate)
	schedule, err := installments.GenerateSchedule(req.TotalFinanced, req.NumberQuotas, start, req.CustomAmounts)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, schedule)
}

// ============================================================================
// WRITE HANDLERS
// ============================================================================

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	saleID, ok := h.pathID(w, r, "saleID")
	if !ok {
		return
	}
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	receipt, err := h.service.RecordPayment(r.Context(), saleID, req.input(), key)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, receipt)
}

func (h *Handler) updatePayment(w http.ResponseWriter, r *http.Request) {
	saleID, ok := h.pathID(w, r, "saleID")
	if !ok {
		return
	}
	paymentID, ok := h.pathID(w, r, "paymentID")
	if !ok {
		return
	}
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	receipt, err := h.service.UpdatePayment(r.Context(), saleID, paymentID, req.input())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, receipt)
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	saleID, ok := h.pathID(w, r, "saleID")
	if !ok {
		return
	}
	paymentID, ok := h.pathID(w, r, "paymentID")
	if !ok {
		return
	}
	view, err := h.service.DeletePayment(r.Context(), saleID, paymentID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) changePlan(w http.ResponseWriter, r *http.Request) {
	saleID, ok := h.pathID(w, r, "saleID")
	if !ok {
		return
	}
	var req planRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.service.ChangePlan(r.Context(), saleID, PlanChange{
		Name:           req.Name,
		NumberQuotas:   req.NumberQuotas,
		CustomAmounts:  req.CustomAmounts,
		TotalValue:     req.TotalValue,
		InitialPayment: req.InitialPayment,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	saleID, ok := h.pathID(w, r, "saleID")
	if !ok {
		return
	}
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}
	sale, err := h.service.ChangeStatus(r.Context(), saleID, installments.SaleStatus(req.Status))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

// ============================================================================
// HELPERS
// ============================================================================

func (req paymentRequest) input() PaymentInput {
	paidAt, _ := time.Parse(dateLayout, req.PaidAt)
	return PaymentInput{
		Amount:         req.Amount,
		PaidAt:         paidAt,
		Method:         req.Method,
		ReferenceMonth: req.ReferenceMonth,
		Observation:    req.Observation,
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := httpx.DecodeJSON(r, dest); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return false
	}
	if err := h.validator.Struct(dest); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fieldErr := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %s", fieldErr.Field(), fieldErr.Tag()))
			}
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", strings.Join(msgs, "; "))
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", fmt.Sprintf("%s must be a positive integer", name))
		return 0, false
	}
	return id, true
}

func (h *Handler) asOf(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return time.Time{}, true
	}
	asOf, err := time.Parse(dateLayout, raw)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "as_of must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return asOf, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPaymentNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, installments.ErrInvalidScheduleParameters),
		errors.Is(err, installments.ErrInvalidPayment):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	case errors.Is(err, installments.ErrPlanConflict):
		httpx.Problem(w, http.StatusConflict, "Plan Conflict", err.Error())
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrSaleClosed):
		httpx.Problem(w, http.StatusConflict, "Invalid Sale Status", err.Error())
	case errors.Is(err, ErrSaleBusy):
		w.Header().Set("Retry-After", "1")
		httpx.Problem(w, http.StatusConflict, "Sale Busy", err.Error())
	case errors.Is(err, ErrDuplicatePayment):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, installments.ErrOverpayment):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Overpayment", err.Error())
	default:
		h.logger.Error("sales request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
