package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vipul43/shadowcal-worker/internal/config"
	"github.com/vipul43/shadowcal-worker/internal/models"
	"github.com/vipul43/shadowcal-worker/internal/report"
	"github.com/vipul43/shadowcal-worker/internal/service"
)

type statusUpdate struct {
	jobID     string
	status    models.SyncJobStatus
	lastError *string
}

type mockJobRepository struct {
	pending     []models.SyncJob
	failed      []models.SyncJob
	processing  []models.SyncJob
	maxAttempts int
	staleBefore time.Time
	updates     []statusUpdate
	attempts    map[string]int
}

func (m *mockJobRepository) GetPendingJobs(ctx context.Context, limit int) ([]models.SyncJob, error) {
	return m.pending, nil
}

func (m *mockJobRepository) GetFailedJobs(ctx context.Context, maxAttempts int, limit int) ([]models.SyncJob, error) {
	m.maxAttempts = maxAttempts
	return m.failed, nil
}

func (m *mockJobRepository) GetProcessingJobs(ctx context.Context, staleBefore time.Time, limit int) ([]models.SyncJob, error) {
	m.staleBefore = staleBefore
	return m.processing, nil
}

func (m *mockJobRepository) UpdateStatus(ctx context.Context, jobID string, status models.SyncJobStatus, lastError *string) error {
	m.updates = append(m.updates, statusUpdate{jobID: jobID, status: status, lastError: lastError})
	return nil
}

func (m *mockJobRepository) IncrementAttempts(ctx context.Context, jobID string) error {
	if m.attempts == nil {
		m.attempts = make(map[string]int)
	}
	m.attempts[jobID]++
	return nil
}

func (m *mockJobRepository) finalStatus(jobID string) (models.SyncJobStatus, *string) {
	var status models.SyncJobStatus
	var lastError *string
	for _, u := range m.updates {
		if u.jobID == jobID {
			status = u.status
			lastError = u.lastError
		}
	}
	return status, lastError
}

type mockAccountProcessor struct {
	processed []int64
	err       error
}

func (m *mockAccountProcessor) ProcessAccount(ctx context.Context, accountID int64) ([]models.Calendar, error) {
	m.processed = append(m.processed, accountID)
	return []models.Calendar{{ID: 1}}, m.err
}

type mockSyncer struct {
	synced []int64
	err    error
}

func (m *mockSyncer) PerformSync(ctx context.Context, pairID int64) (*service.CastResult, error) {
	m.synced = append(m.synced, pairID)
	if m.err != nil {
		return nil, m.err
	}
	return &service.CastResult{Candidates: 2, Pushed: 2, Batches: 1}, nil
}

type mockReporter struct {
	accountReports []report.AccountSnapshot
	pairReports    []report.PairSnapshot
}

func (m *mockReporter) ReportAccountError(ctx context.Context, err error, snapshot report.AccountSnapshot) {
	m.accountReports = append(m.accountReports, snapshot)
}

func (m *mockReporter) ReportPairError(ctx context.Context, err error, snapshot report.PairSnapshot) {
	m.pairReports = append(m.pairReports, snapshot)
}

type mockSnapshots struct{}

func (mockSnapshots) Account(ctx context.Context, accountID int64) report.AccountSnapshot {
	return report.AccountSnapshot{ID: accountID, Email: "owner@example.com"}
}

func (mockSnapshots) Pair(ctx context.Context, pairID int64) report.PairSnapshot {
	return report.PairSnapshot{ID: pairID, FromCalendarID: 1, ToCalendarID: 2}
}

type harness struct {
	watcher  *Watcher
	jobs     *mockJobRepository
	accounts *mockAccountProcessor
	syncer   *mockSyncer
	reporter *mockReporter
}

func newHarness() *harness {
	h := &harness{
		jobs:     &mockJobRepository{},
		accounts: &mockAccountProcessor{},
		syncer:   &mockSyncer{},
		reporter: &mockReporter{},
	}
	cfg := config.Default()
	h.watcher = New(cfg, h.jobs, h.accounts, h.syncer, h.reporter, mockSnapshots{})
	return h
}

func TestProcessAllPendingJobs_Dispatch(t *testing.T) {
	h := newHarness()
	h.jobs.pending = []models.SyncJob{
		{ID: "job-1", Kind: models.JobRefreshCalendars, TargetID: 7, Status: models.StatusPending},
		{ID: "job-2", Kind: models.JobCastSyncPair, TargetID: 3, Status: models.StatusPending},
	}

	if err := h.watcher.processAllPendingJobs(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(h.accounts.processed) != 1 || h.accounts.processed[0] != 7 {
		t.Errorf("expected account 7 processed, got %v", h.accounts.processed)
	}
	if len(h.syncer.synced) != 1 || h.syncer.synced[0] != 3 {
		t.Errorf("expected pair 3 synced, got %v", h.syncer.synced)
	}

	for _, id := range []string{"job-1", "job-2"} {
		status, _ := h.jobs.finalStatus(id)
		if status != models.StatusCompleted {
			t.Errorf("expected %s completed, got %s", id, status)
		}
		if h.jobs.attempts[id] != 1 {
			t.Errorf("expected 1 attempt for %s, got %d", id, h.jobs.attempts[id])
		}
	}

	if h.jobs.updates[0].status != models.StatusProcessing {
		t.Errorf("expected job marked processing first, got %s", h.jobs.updates[0].status)
	}
}

func TestProcessAllPendingJobs_FailureIsRecordedAndReported(t *testing.T) {
	tests := []struct {
		name           string
		job            models.SyncJob
		accountErr     error
		syncErr        error
		accountReports int
		pairReports    int
	}{
		{
			name:           "calendar refresh failure",
			job:            models.SyncJob{ID: "job-1", Kind: models.JobRefreshCalendars, TargetID: 7},
			accountErr:     errors.New("token revoked"),
			accountReports: 1,
		},
		{
			name:        "cast failure",
			job:         models.SyncJob{ID: "job-1", Kind: models.JobCastSyncPair, TargetID: 3},
			syncErr:     service.ErrCastingUnsyncedCalendars,
			pairReports: 1,
		},
		{
			name: "unknown kind",
			job:  models.SyncJob{ID: "job-1", Kind: "reticulate_splines", TargetID: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.jobs.pending = []models.SyncJob{tt.job}
			h.accounts.err = tt.accountErr
			h.syncer.err = tt.syncErr

			if err := h.watcher.processAllPendingJobs(context.Background()); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			status, lastError := h.jobs.finalStatus("job-1")
			if status != models.StatusFailed {
				t.Errorf("expected job failed, got %s", status)
			}
			if lastError == nil || *lastError == "" {
				t.Error("expected last error to be recorded")
			}

			if len(h.reporter.accountReports) != tt.accountReports {
				t.Errorf("expected %d account report(s), got %d", tt.accountReports, len(h.reporter.accountReports))
			}
			if len(h.reporter.pairReports) != tt.pairReports {
				t.Errorf("expected %d pair report(s), got %d", tt.pairReports, len(h.reporter.pairReports))
			}
			if tt.pairReports > 0 && h.reporter.pairReports[0].ID != 3 {
				t.Errorf("expected report for pair 3, got %d", h.reporter.pairReports[0].ID)
			}
		})
	}
}

func TestProcessAllPendingJobs_RetriesAndStaleJobs(t *testing.T) {
	h := newHarness()
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	h.watcher.now = func() time.Time { return now }

	h.jobs.failed = []models.SyncJob{{ID: "failed", Kind: models.JobCastSyncPair, TargetID: 1, Status: models.StatusFailed, Attempts: 1}}
	h.jobs.processing = []models.SyncJob{{ID: "stuck", Kind: models.JobCastSyncPair, TargetID: 2, Status: models.StatusProcessing}}

	if err := h.watcher.processAllPendingJobs(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if h.jobs.maxAttempts != 3 {
		t.Errorf("expected failed jobs limited to 3 attempts, got %d", h.jobs.maxAttempts)
	}
	if !h.jobs.staleBefore.Equal(now.Add(-StaleAfter)) {
		t.Errorf("expected stale cutoff %s, got %s", now.Add(-StaleAfter), h.jobs.staleBefore)
	}
	if len(h.syncer.synced) != 2 {
		t.Errorf("expected both retried jobs to run, got %v", h.syncer.synced)
	}
}

func TestProcessAllPendingJobs_StopsOnCancel(t *testing.T) {
	h := newHarness()
	h.jobs.pending = []models.SyncJob{
		{ID: "job-1", Kind: models.JobCastSyncPair, TargetID: 1},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.watcher.processAllPendingJobs(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(h.syncer.synced) != 0 {
		t.Errorf("expected no job to run after cancel, got %v", h.syncer.synced)
	}
}
