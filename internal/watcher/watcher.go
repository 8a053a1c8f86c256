package watcher

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/vipul43/shadowcal-worker/internal/config"
	"github.com/vipul43/shadowcal-worker/internal/models"
	"github.com/vipul43/shadowcal-worker/internal/report"
	"github.com/vipul43/shadowcal-worker/internal/service"
)

const (
	jobsPerPoll = 10
	// StaleAfter is how long a job may stay in processing before it is picked up again
	StaleAfter = 10 * time.Minute
)

// JobRepository interface for dependency injection
type JobRepository interface {
	GetPendingJobs(ctx context.Context, limit int) ([]models.SyncJob, error)
	GetFailedJobs(ctx context.Context, maxAttempts int, limit int) ([]models.SyncJob, error)
	GetProcessingJobs(ctx context.Context, staleBefore time.Time, limit int) ([]models.SyncJob, error)
	UpdateStatus(ctx context.Context, jobID string, status models.SyncJobStatus, lastError *string) error
	IncrementAttempts(ctx context.Context, jobID string) error
}

type AccountProcessor interface {
	ProcessAccount(ctx context.Context, accountID int64) ([]models.Calendar, error)
}

type PairSyncer interface {
	PerformSync(ctx context.Context, pairID int64) (*service.CastResult, error)
}

type SnapshotSource interface {
	Account(ctx context.Context, accountID int64) report.AccountSnapshot
	Pair(ctx context.Context, pairID int64) report.PairSnapshot
}

type Watcher struct {
	cfg              *config.Config
	jobs             JobRepository
	accountProcessor AccountProcessor
	syncer           PairSyncer
	reporter         report.Reporter
	snapshots        SnapshotSource
	now              func() time.Time
}

func New(
	cfg *config.Config,
	jobs JobRepository,
	accountProcessor AccountProcessor,
	syncer PairSyncer,
	reporter report.Reporter,
	snapshots SnapshotSource,
) *Watcher {
	return &Watcher{
		cfg:              cfg,
		jobs:             jobs,
		accountProcessor: accountProcessor,
		syncer:           syncer,
		reporter:         reporter,
		snapshots:        snapshots,
		now:              time.Now,
	}
}

// Start begins watching for calendar refresh and sync pair jobs
func (w *Watcher) Start(ctx context.Context) error {
	log.Println("Starting watcher for calendar refresh and sync pair jobs...")

	// Process any pending jobs from previous runs
	if err := w.processAllPendingJobs(ctx); err != nil {
		log.Printf("Warning: failed to process pending jobs on startup: %v", err)
	}

	// Start polling loop
	ticker := time.NewTicker(time.Duration(w.cfg.PollInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Watcher shutting down...")
			return ctx.Err()
		case <-ticker.C:
			if err := w.processAllPendingJobs(ctx); err != nil {
				log.Printf("Error processing jobs: %v", err)
			}
		}
	}
}

// processAllPendingJobs processes pending, retryable failed, and stale processing jobs
func (w *Watcher) processAllPendingJobs(ctx context.Context) error {
	pendingJobs, err := w.jobs.GetPendingJobs(ctx, jobsPerPoll)
	if err != nil {
		return err
	}

	// Get failed jobs for retry
	failedJobs, err := w.jobs.GetFailedJobs(ctx, w.cfg.MaxRetries, jobsPerPoll)
	if err != nil {
		return err
	}

	// Get processing jobs (stuck jobs from crashes)
	processingJobs, err := w.jobs.GetProcessingJobs(ctx, w.now().Add(-StaleAfter), jobsPerPoll)
	if err != nil {
		return err
	}

	// Combine all lists
	jobs := append(pendingJobs, failedJobs...)
	jobs = append(jobs, processingJobs...)

	if len(jobs) == 0 {
		return nil
	}

	log.Printf("Found %d job(s) to process (pending: %d, failed: %d, processing: %d)",
		len(jobs), len(pendingJobs), len(failedJobs), len(processingJobs))

	for _, job := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.processJob(ctx, job); err != nil {
			log.Printf("Failed to process job %s: %v", job.ID, err)
		}
	}

	return nil
}

// processJob marks the job processing, runs it and records the outcome
func (w *Watcher) processJob(ctx context.Context, job models.SyncJob) error {
	statusMsg := ""
	if job.Status == models.StatusProcessing {
		statusMsg = " (stuck in processing)"
	} else if job.Status == models.StatusFailed {
		statusMsg = fmt.Sprintf(" (failed, attempt %d)", job.Attempts)
	}
	log.Printf("Processing %s job %s for target %d%s", job.Kind, job.ID, job.TargetID, statusMsg)

	if err := w.jobs.UpdateStatus(ctx, job.ID, models.StatusProcessing, nil); err != nil {
		return fmt.Errorf("failed to mark job processing: %w", err)
	}
	if err := w.jobs.IncrementAttempts(ctx, job.ID); err != nil {
		log.Printf("Warning: failed to increment attempts for job %s: %v", job.ID, err)
	}

	runErr := w.run(ctx, job)
	if runErr != nil {
		w.report(ctx, job, runErr)

		errMsg := runErr.Error()
		if err := w.jobs.UpdateStatus(ctx, job.ID, models.StatusFailed, &errMsg); err != nil {
			log.Printf("Warning: failed to mark job %s failed: %v", job.ID, err)
		}
		return runErr
	}

	if err := w.jobs.UpdateStatus(ctx, job.ID, models.StatusCompleted, nil); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	return nil
}

func (w *Watcher) run(ctx context.Context, job models.SyncJob) error {
	switch job.Kind {
	case models.JobRefreshCalendars:
		calendars, err := w.accountProcessor.ProcessAccount(ctx, job.TargetID)
		if err != nil {
			return err
		}
		log.Printf("Refreshed %d calendar(s) for account %d", len(calendars), job.TargetID)
		return nil

	case models.JobCastSyncPair:
		result, err := w.syncer.PerformSync(ctx, job.TargetID)
		if err != nil {
			return err
		}
		log.Printf("Synced pair %d: %d candidate(s), %d pushed in %d batch(es)",
			job.TargetID, result.Candidates, result.Pushed, result.Batches)
		return nil

	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func (w *Watcher) report(ctx context.Context, job models.SyncJob, err error) {
	switch job.Kind {
	case models.JobRefreshCalendars:
		w.reporter.ReportAccountError(ctx, err, w.snapshots.Account(ctx, job.TargetID))
	case models.JobCastSyncPair:
		w.reporter.ReportPairError(ctx, err, w.snapshots.Pair(ctx, job.TargetID))
	default:
		log.Printf("Warning: not reporting failure of unknown job kind %q", job.Kind)
	}
}
