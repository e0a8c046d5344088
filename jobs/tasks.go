package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskOverdueScan walks clients with active sales and notifies the ones
	// owing overdue quotas.
	TaskOverdueScan = "notify:overdue_scan"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	if payload.To == "" {
		return nil, errors.New("jobs: email recipient required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// Mailer delivers composed emails.
type Mailer interface {
	Send(ctx context.Context, payload SendEmailPayload) error
}

// LogMailer writes emails to the log instead of delivering them.
type LogMailer struct {
	Logger *slog.Logger
}

// Send logs the email envelope.
func (m LogMailer) Send(ctx context.Context, payload SendEmailPayload) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "email dispatched",
		slog.String("to", payload.To),
		slog.String("subject", payload.Subject),
		slog.Int("body_bytes", len(payload.Body)))
	return nil
}

// NewSendEmailHandler processes TaskTypeSendEmail tasks with the given mailer.
func NewSendEmailHandler(mailer Mailer) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SendEmailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode email payload: %v: %w", err, asynq.SkipRetry)
		}
		if payload.To == "" {
			return fmt.Errorf("email without recipient: %w", asynq.SkipRetry)
		}
		return mailer.Send(ctx, payload)
	}
}

// OverdueScanPayload carries an optional reference date (YYYY-MM-DD). An
// empty date means the day the task runs.
type OverdueScanPayload struct {
	AsOf string `json:"as_of,omitempty"`
}

// Date parses AsOf, falling back to now.
func (p OverdueScanPayload) Date(now time.Time) (time.Time, error) {
	if p.AsOf == "" {
		return now, nil
	}
	return time.Parse("2006-01-02", p.AsOf)
}

// NewOverdueScanTask builds the overdue scan task.
func NewOverdueScanTask(asOf string) (*asynq.Task, error) {
	if asOf != "" {
		if _, err := time.Parse("2006-01-02", asOf); err != nil {
			return nil, fmt.Errorf("jobs: invalid scan date %q: %w", asOf, err)
		}
	}
	data, err := json.Marshal(OverdueScanPayload{AsOf: asOf})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverdueScan, data), nil
}

// KeyCleaner removes idempotency keys older than the retention window.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// NewIdempotencyCleanupTask builds the cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}

// NewIdempotencyCleanupHandler purges keys older than retention.
func NewIdempotencyCleanupHandler(cleaner KeyCleaner, retention time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		if retention <= 0 {
			return fmt.Errorf("idempotency retention must be positive: %w", asynq.SkipRetry)
		}
		purged, err := cleaner.Cleanup(ctx, retention)
		if err != nil {
			return fmt.Errorf("cleanup idempotency keys: %w", err)
		}
		logger.InfoContext(ctx, "idempotency keys purged", slog.Int64("purged", purged), slog.Duration("retention", retention))
		return nil
	}
}
