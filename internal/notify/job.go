package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/lotsales/lotsales/internal/jobs"
	"github.com/lotsales/lotsales/jobs"
)

// Job runs the overdue scan as an asynq task.
type Job struct {
	Scanner *Scanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewJob initialises the overdue scan handler.
func NewJob(scanner *Scanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *Job {
	return &Job{
		Scanner: scanner,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the overdue scan.
func (j *Job) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Scanner == nil {
		return errors.New("overdue scan: handler not configured")
	}
	var payload jobs.OverdueScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode scan payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	start := j.now()
	asOf, err := payload.Date(start)
	if err != nil {
		return fmt.Errorf("scan date: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(jobs.TaskOverdueScan)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("as_of", asOf.Format("2006-01-02")))
	logger.Info("starting overdue scan")

	result, err := j.Scanner.Run(ctx, asOf)
	if err != nil {
		logger.Error("overdue scan failed", slog.Int("notified", result.Notified), slog.Any("error", err))
		return err
	}
	logger.Info("completed overdue scan",
		slog.Int("clients", result.Scanned),
		slog.Int("overdue", result.Overdue),
		slog.Int("notified", result.Notified),
		slog.Int("skipped", result.Skipped),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *Job) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", jobs.TaskOverdueScan))
	}
	return slog.Default().With(slog.String("job", jobs.TaskOverdueScan))
}

func (j *Job) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
