package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/shadowcal-worker/internal/models"
)

var ErrSyncJobNotFound = errors.New("sync job not found")

const syncJobColumns = `id, kind, target_id, status, attempts, last_error, created_at, updated_at, processed_at`

type SyncJobRepository struct {
	db *sql.DB
}

func NewSyncJobRepository(db *sql.DB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

// GetPendingJobs retrieves pending jobs, oldest first
func (r *SyncJobRepository) GetPendingJobs(ctx context.Context, limit int) ([]models.SyncJob, error) {
	query := `
		SELECT ` + syncJobColumns + `
		FROM sync_jobs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, models.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending jobs: %w", err)
	}
	defer rows.Close()

	return r.scanJobs(rows)
}

// GetFailedJobs retrieves failed jobs that still have attempts left.
// Least recently tried jobs come first.
func (r *SyncJobRepository) GetFailedJobs(ctx context.Context, maxAttempts int, limit int) ([]models.SyncJob, error) {
	query := `
		SELECT ` + syncJobColumns + `
		FROM sync_jobs
		WHERE status = $1 AND attempts < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, models.StatusFailed, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed jobs: %w", err)
	}
	defer rows.Close()

	return r.scanJobs(rows)
}

// GetProcessingJobs retrieves jobs stuck in processing state since before staleBefore,
// typically left behind by a worker that stopped mid-job
func (r *SyncJobRepository) GetProcessingJobs(ctx context.Context, staleBefore time.Time, limit int) ([]models.SyncJob, error) {
	query := `
		SELECT ` + syncJobColumns + `
		FROM sync_jobs
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, models.StatusProcessing, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query processing jobs: %w", err)
	}
	defer rows.Close()

	return r.scanJobs(rows)
}

// Enqueue creates a pending job unless an unfinished job of the same kind and
// target already exists. It reports whether a job was created.
func (r *SyncJobRepository) Enqueue(ctx context.Context, kind models.SyncJobKind, targetID int64) (bool, error) {
	now := time.Now()
	query := `
		INSERT INTO sync_jobs (id, kind, target_id, status, attempts, created_at, updated_at)
		SELECT $1::uuid, $2::varchar, $3::bigint, $4::varchar, 0, $5::timestamptz, $5::timestamptz
		WHERE NOT EXISTS (
			SELECT 1 FROM sync_jobs
			WHERE kind = $2 AND target_id = $3 AND status IN ($4, $6)
		)
	`

	result, err := r.db.ExecContext(ctx, query,
		uuid.New().String(),
		kind,
		targetID,
		models.StatusPending,
		now,
		models.StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue %s job: %w", kind, err)
	}

	created, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return created > 0, nil
}

// GetByID retrieves a job by ID
func (r *SyncJobRepository) GetByID(ctx context.Context, jobID string) (*models.SyncJob, error) {
	query := `
		SELECT ` + syncJobColumns + `
		FROM sync_jobs
		WHERE id = $1
	`

	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	defer rows.Close()

	jobs, err := r.scanJobs(rows)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, ErrSyncJobNotFound
	}
	return &jobs[0], nil
}

// UpdateStatus updates the job status
func (r *SyncJobRepository) UpdateStatus(ctx context.Context, jobID string, status models.SyncJobStatus, lastError *string) error {
	var processedAt *time.Time
	if status == models.StatusCompleted || status == models.StatusFailed {
		now := time.Now()
		processedAt = &now
	}

	query := `
		UPDATE sync_jobs
		SET status = $1,
		    last_error = $2,
		    processed_at = COALESCE($3, processed_at),
		    updated_at = $4
		WHERE id = $5
	`

	result, err := r.db.ExecContext(ctx, query, status, lastError, processedAt, time.Now(), jobID)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSyncJobNotFound
	}

	return nil
}

// IncrementAttempts increments the retry attempt counter
func (r *SyncJobRepository) IncrementAttempts(ctx context.Context, jobID string) error {
	query := `
		UPDATE sync_jobs
		SET attempts = attempts + 1, updated_at = $1
		WHERE id = $2
	`

	_, err := r.db.ExecContext(ctx, query, time.Now(), jobID)
	if err != nil {
		return fmt.Errorf("failed to increment attempts: %w", err)
	}
	return nil
}

// scanJobs scans database rows into SyncJob slice
func (r *SyncJobRepository) scanJobs(rows *sql.Rows) ([]models.SyncJob, error) {
	var jobs []models.SyncJob

	for rows.Next() {
		var job models.SyncJob
		err := rows.Scan(
			&job.ID,
			&job.Kind,
			&job.TargetID,
			&job.Status,
			&job.Attempts,
			&job.LastError,
			&job.CreatedAt,
			&job.UpdatedAt,
			&job.ProcessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return jobs, nil
}
