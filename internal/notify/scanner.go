// Package notify emails clients that owe overdue quotas.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	jobmetrics "github.com/lotsales/lotsales/internal/jobs"
	"github.com/lotsales/lotsales/internal/sales"
	"github.com/lotsales/lotsales/jobs"
)

// ClientSource lists the clients to scan and stamps notifications.
type ClientSource interface {
	ListClientsWithActiveSales(ctx context.Context) ([]sales.Client, error)
	MarkNotified(ctx context.Context, clientID int64, at time.Time) error
}

// OverdueReader computes a client's overdue aggregate.
type OverdueReader interface {
	ClientOverdue(ctx context.Context, clientID int64, asOf time.Time) (*sales.ClientOverdue, error)
}

// Enqueuer queues outgoing email.
type Enqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) (*asynq.TaskInfo, error)
}

// Config tunes the scanner.
type Config struct {
	Cooldown    time.Duration
	Concurrency int
	Locale      language.Tag
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

// Result summarises one scan.
type Result struct {
	Scanned  int
	Overdue  int
	Notified int
	Skipped  int
}

// Scanner finds clients with overdue quotas and queues a notice for each.
type Scanner struct {
	source   ClientSource
	reader   OverdueReader
	enqueuer Enqueuer
	cfg      Config
}

// NewScanner builds a Scanner.
func NewScanner(source ClientSource, reader OverdueReader, enqueuer Enqueuer, cfg Config) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Locale == language.Und {
		cfg.Locale = language.English
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scanner{source: source, reader: reader, enqueuer: enqueuer, cfg: cfg}
}

// Run scans every client with an active sale as of asOf. A client notified
// less than Cooldown ago is skipped. The first infrastructure error aborts the
// scan; clients already stamped keep their stamp so a retry does not resend.
func (s *Scanner) Run(ctx context.Context, asOf time.Time) (Result, error) {
	clients, err := s.source.ListClientsWithActiveSales(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list clients: %w", err)
	}

	var overdue, notified, cooldown, noEmail atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, client := range clients {
		g.Go(func() error {
			info, err := s.reader.ClientOverdue(gctx, client.ID, asOf)
			if err != nil {
				return fmt.Errorf("client %d: %w", client.ID, err)
			}
			if !info.HasOverdue() {
				return nil
			}
			overdue.Add(1)
			if s.inCooldown(info.LastNotifiedAt, asOf) {
				cooldown.Add(1)
				return nil
			}
			if client.Email == "" {
				s.cfg.Logger.Warn("overdue client without email", slog.Int64("client_id", client.ID))
				noEmail.Add(1)
				return nil
			}
			payload := Compose(message.NewPrinter(s.cfg.Locale), info, asOf)
			if _, err := s.enqueuer.EnqueueSendEmail(gctx, payload); err != nil {
				return fmt.Errorf("enqueue notice for client %d: %w", client.ID, err)
			}
			if err := s.source.MarkNotified(gctx, client.ID, asOf); err != nil {
				return fmt.Errorf("mark client %d notified: %w", client.ID, err)
			}
			notified.Add(1)
			return nil
		})
	}
	err = g.Wait()

	s.cfg.Metrics.AddNotifications(jobmetrics.OutcomeSent, int(notified.Load()))
	s.cfg.Metrics.AddNotifications(jobmetrics.OutcomeCooldown, int(cooldown.Load()))
	s.cfg.Metrics.AddNotifications(jobmetrics.OutcomeNoEmail, int(noEmail.Load()))

	result := Result{
		Scanned:  len(clients),
		Overdue:  int(overdue.Load()),
		Notified: int(notified.Load()),
		Skipped:  int(cooldown.Load() + noEmail.Load()),
	}
	return result, err
}

func (s *Scanner) inCooldown(last *time.Time, asOf time.Time) bool {
	if last == nil || s.cfg.Cooldown <= 0 {
		return false
	}
	return asOf.Sub(*last) < s.cfg.Cooldown
}
