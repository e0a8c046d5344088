package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/lotsales/lotsales/internal/installments"
	jobmetrics "github.com/lotsales/lotsales/internal/jobs"
	"github.com/lotsales/lotsales/internal/sales"
	"github.com/lotsales/lotsales/jobs"
)

// ============================================================================
// FAKES
// ============================================================================

type fakeSource struct {
	mu       sync.Mutex
	clients  []sales.Client
	notified map[int64]time.Time
	markErr  error
}

func (f *fakeSource) ListClientsWithActiveSales(ctx context.Context) ([]sales.Client, error) {
	return f.clients, nil
}

func (f *fakeSource) MarkNotified(ctx context.Context, clientID int64, at time.Time) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notified == nil {
		f.notified = make(map[int64]time.Time)
	}
	f.notified[clientID] = at
	return nil
}

type fakeReader struct {
	overdue map[int64]*sales.ClientOverdue
}

func (f *fakeReader) ClientOverdue(ctx context.Context, clientID int64, asOf time.Time) (*sales.ClientOverdue, error) {
	info, ok := f.overdue[clientID]
	if !ok {
		return &sales.ClientOverdue{ClientOverdueInfo: installments.ClientOverdueInfo{ClientID: clientID, TotalOverdueAmount: decimal.Zero}}, nil
	}
	return info, nil
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	sent []jobs.SendEmailPayload
}

func (f *fakeEnqueuer) EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
	return &asynq.TaskInfo{Queue: jobs.QueueDefault}, nil
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func overdueFor(client sales.Client, last *time.Time, balances ...string) *sales.ClientOverdue {
	out := &sales.ClientOverdue{
		Client: client,
		ClientOverdueInfo: installments.ClientOverdueInfo{
			ClientID:           client.ID,
			TotalOverdueAmount: decimal.Zero,
			LastNotifiedAt:     last,
		},
	}
	for i, b := range balances {
		amount := decimal.RequireFromString(b)
		out.Quotas = append(out.Quotas, sales.CalculatedInstallment{
			ClientID:    client.ID,
			ProjectName: "Jardim Sul",
			LotCode:     "A-05",
			QuotaNumber: i + 1,
			Balance:     amount,
			DueDate:     day("2024-03-15"),
			Status:      installments.StatusOverdue,
			DaysOverdue: 47,
		})
		out.TotalOverdueQuotas++
		out.TotalOverdueAmount = out.TotalOverdueAmount.Add(amount)
		out.OldestDaysOverdue = 47
	}
	return out
}

func newFixture(t *testing.T) (*fakeSource, *fakeReader, *fakeEnqueuer) {
	t.Helper()
	ana := sales.Client{ID: 1, Name: "Ana", Email: "ana@example.com"}
	bruno := sales.Client{ID: 2, Name: "Bruno", Email: "bruno@example.com"}
	carla := sales.Client{ID: 3, Name: "Carla", Email: "carla@example.com"}
	dario := sales.Client{ID: 4, Name: "Dario"}
	recent := day("2024-04-28")
	source := &fakeSource{clients: []sales.Client{ana, bruno, carla, dario}}
	reader := &fakeReader{overdue: map[int64]*sales.ClientOverdue{
		1: overdueFor(ana, nil, "5000", "10000"),
		3: overdueFor(carla, &recent, "250"),
		4: overdueFor(dario, nil, "99"),
	}}
	return source, reader, &fakeEnqueuer{}
}

// ============================================================================
// TESTS
// ============================================================================

func TestScannerNotifiesOverdueClients(t *testing.T) {
	source, reader, enqueuer := newFixture(t)
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	scanner := NewScanner(source, reader, enqueuer, Config{Cooldown: 7 * 24 * time.Hour, Concurrency: 2, Metrics: metrics})

	result, err := scanner.Run(context.Background(), day("2024-05-01"))
	require.NoError(t, err)

	assert.Equal(t, Result{Scanned: 4, Overdue: 3, Notified: 1, Skipped: 2}, result)
	require.Len(t, enqueuer.sent, 1)
	assert.Equal(t, "ana@example.com", enqueuer.sent[0].To)
	assert.Equal(t, map[int64]time.Time{1: day("2024-05-01")}, source.notified)
}

func TestScannerCooldownExpires(t *testing.T) {
	source, reader, enqueuer := newFixture(t)
	scanner := NewScanner(source, reader, enqueuer, Config{Cooldown: 48 * time.Hour})

	result, err := scanner.Run(context.Background(), day("2024-05-01"))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Notified)
	assert.Contains(t, source.notified, int64(3))
}

func TestScannerStopsOnInfrastructureError(t *testing.T) {
	source, reader, enqueuer := newFixture(t)
	boom := errors.New("db gone")
	source.markErr = boom
	scanner := NewScanner(source, reader, enqueuer, Config{Concurrency: 1})

	_, err := scanner.Run(context.Background(), day("2024-05-01"))
	require.ErrorIs(t, err, boom)
}

func TestComposeLocalizesAmounts(t *testing.T) {
	info := overdueFor(sales.Client{ID: 1, Name: "Ana", Email: "ana@example.com"}, nil, "5000", "10000.5")

	payload := Compose(message.NewPrinter(language.English), info, day("2024-05-01"))
	assert.Equal(t, "ana@example.com", payload.To)
	assert.Equal(t, "2 overdue installment(s) totalling 15,000.50", payload.Subject)
	assert.Contains(t, payload.Body, "Dear Ana,")
	assert.Contains(t, payload.Body, "Jardim Sul lot A-05, quota 1 due 2024-03-15: 5,000.00 (47 days overdue)")
	assert.Contains(t, payload.Body, "Total overdue: 15,000.50")
}

func TestMoneyKeepsLargeAmountsExact(t *testing.T) {
	en := message.NewPrinter(language.English)
	assert.Equal(t, "12,345,678,901,234,567.89", money(en, decimal.RequireFromString("12345678901234567.89")))
	assert.Equal(t, "0.05", money(en, decimal.RequireFromString("0.045")))
	assert.Equal(t, "-1,000.10", money(en, decimal.RequireFromString("-1000.1")))

	de := message.NewPrinter(language.German)
	assert.Equal(t, "1.234,50", money(de, decimal.RequireFromString("1234.5")))
}

func TestJobHandleRunsScan(t *testing.T) {
	source, reader, enqueuer := newFixture(t)
	job := NewJob(NewScanner(source, reader, enqueuer, Config{}), nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := jobs.NewOverdueScanTask("2024-05-01")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Len(t, enqueuer.sent, 2)
	assert.Equal(t, day("2024-05-01"), source.notified[1])
}

func TestJobHandleRejectsBadPayload(t *testing.T) {
	source, reader, enqueuer := newFixture(t)
	job := NewJob(NewScanner(source, reader, enqueuer, Config{}), nil, nil)

	raw, err := json.Marshal(jobs.OverdueScanPayload{AsOf: "May 1st"})
	require.NoError(t, err)
	err = job.Handle(context.Background(), asynq.NewTask(jobs.TaskOverdueScan, raw))
	require.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, enqueuer.sent)
}
