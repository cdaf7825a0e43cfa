package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tomehq/tome/common/db"
	"github.com/tomehq/tome/common/models"
)

// ErrStateMoved is returned when a guarded transition finds the job no
// longer in the expected state. The worker holding the job must abandon
// it: someone cancelled, superseded, or took over the job.
var ErrStateMoved = errors.New("job state moved")

// ScanJobRepository handles database operations for scan jobs
type ScanJobRepository struct {
	db *db.DB
}

// NewScanJobRepository creates a new scan job repository
func NewScanJobRepository(database *db.DB) *ScanJobRepository {
	return &ScanJobRepository{db: database}
}

const jobColumns = `job_id, project_id, trigger, base_commit, head_commit, commits,
	state, stage_attempts, error_kind, error_message, change_summary,
	cancel_requested, claimed_by, lease_expires_at, created_at, updated_at`

// Create inserts a new scan job. Returns ErrDuplicate when a job for the
// same (project, head commit) already exists: the unique index is the
// authoritative webhook dedup.
func (r *ScanJobRepository) Create(ctx context.Context, job *models.ScanJob) error {
	query := `
		INSERT INTO scan_job (job_id, project_id, trigger, base_commit, head_commit, commits, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id, head_commit) DO NOTHING
	`

	tag, err := r.db.Exec(
		ctx,
		query,
		job.JobID,
		job.ProjectID,
		job.Trigger,
		job.BaseCommit,
		job.HeadCommit,
		job.Commits,
		job.State,
	)
	if err != nil {
		return fmt.Errorf("failed to create scan job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}

	return nil
}

// ErrDuplicate is returned when a job for the same (project, head commit)
// pair already exists
var ErrDuplicate = errors.New("duplicate scan job")

// GetByID retrieves a job by its ID
func (r *ScanJobRepository) GetByID(ctx context.Context, jobID uuid.UUID) (*models.ScanJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scan_job WHERE job_id = $1`

	job, err := scanJob(r.db.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get scan job: %w", err)
	}

	return job, nil
}

// FindQueued returns the unstarted queued job for a project, if any.
// Intake uses it to supersede a stale successor.
func (r *ScanJobRepository) FindQueued(ctx context.Context, projectID uuid.UUID) (*models.ScanJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scan_job
		WHERE project_id = $1 AND state = 'queued'
		ORDER BY created_at LIMIT 1`

	job, err := scanJob(r.db.QueryRow(ctx, query, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find queued job: %w", err)
	}

	return job, nil
}

// ListByProject retrieves jobs for a project, newest first
func (r *ScanJobRepository) ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.ScanJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scan_job
		WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scan jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ScanJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scan jobs: %w", err)
	}

	return jobs, nil
}

// ClaimNext claims the oldest queued job whose project has no other
// active job, moving it to diffing under a lease. Returns ErrNotFound
// when nothing is claimable. Single-flight per project is enforced here:
// a queued successor stays queued until its predecessor terminates.
func (r *ScanJobRepository) ClaimNext(ctx context.Context, workerID string, lease time.Duration) (*models.ScanJob, error) {
	query := `
		UPDATE scan_job
		SET state = 'diffing', stage_attempts = 0, claimed_by = $1,
			lease_expires_at = now() + $2, updated_at = now()
		WHERE job_id = (
			SELECT s.job_id FROM scan_job s
			WHERE s.state = 'queued' AND s.cancel_requested = false
				AND NOT EXISTS (
					SELECT 1 FROM scan_job a
					WHERE a.project_id = s.project_id
						AND a.state NOT IN ('queued', 'completed', 'failed')
				)
			ORDER BY s.created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRow(ctx, query, workerID, lease))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return job, nil
}

// ClaimResumable takes over a mid-pipeline job whose lease expired,
// so a crashed worker's job resumes at its last persisted state.
func (r *ScanJobRepository) ClaimResumable(ctx context.Context, workerID string, lease time.Duration) (*models.ScanJob, error) {
	query := `
		UPDATE scan_job
		SET claimed_by = $1, lease_expires_at = now() + $2, updated_at = now()
		WHERE job_id = (
			SELECT job_id FROM scan_job
			WHERE state NOT IN ('queued', 'completed', 'failed')
				AND lease_expires_at < now()
			ORDER BY updated_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRow(ctx, query, workerID, lease))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to claim resumable job: %w", err)
	}

	return job, nil
}

// Transition moves a job from one state to the next, guarded by the
// current state. ErrStateMoved means the persisted state no longer
// matches and the in-flight work must be discarded.
func (r *ScanJobRepository) Transition(ctx context.Context, jobID uuid.UUID, from, to models.JobState) error {
	query := `
		UPDATE scan_job
		SET state = $3, stage_attempts = 0, updated_at = now()
		WHERE job_id = $1 AND state = $2 AND cancel_requested = false
	`

	tag, err := r.db.Exec(ctx, query, jobID, from, to)
	if err != nil {
		return fmt.Errorf("failed to transition job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateMoved
	}

	return nil
}

// RecordAttempt bumps the stage attempt counter and notes the error of
// the failed attempt without leaving the current state.
func (r *ScanJobRepository) RecordAttempt(ctx context.Context, jobID uuid.UUID, state models.JobState, errKind, errMessage string) error {
	query := `
		UPDATE scan_job
		SET stage_attempts = stage_attempts + 1, error_kind = $3, error_message = $4, updated_at = now()
		WHERE job_id = $1 AND state = $2
	`

	tag, err := r.db.Exec(ctx, query, jobID, state, errKind, truncate(errMessage, 2000))
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateMoved
	}

	return nil
}

// MarkFailed terminates a job with the triggering error recorded
func (r *ScanJobRepository) MarkFailed(ctx context.Context, jobID uuid.UUID, errKind, errMessage string) error {
	query := `
		UPDATE scan_job
		SET state = 'failed', error_kind = $2, error_message = $3, updated_at = now()
		WHERE job_id = $1 AND state NOT IN ('completed', 'failed')
	`

	tag, err := r.db.Exec(ctx, query, jobID, errKind, truncate(errMessage, 2000))
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateMoved
	}

	return nil
}

// MarkCompleted terminates a job successfully
func (r *ScanJobRepository) MarkCompleted(ctx context.Context, jobID uuid.UUID, from models.JobState) error {
	query := `
		UPDATE scan_job
		SET state = 'completed', error_kind = '', error_message = '', updated_at = now()
		WHERE job_id = $1 AND state = $2
	`

	tag, err := r.db.Exec(ctx, query, jobID, from)
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateMoved
	}

	return nil
}

// SupersedeQueued fails an unstarted queued job because a newer head
// commit replaced it. Only queued jobs can be superseded.
func (r *ScanJobRepository) SupersedeQueued(ctx context.Context, jobID uuid.UUID, byHead string) error {
	query := `
		UPDATE scan_job
		SET state = 'failed', error_kind = 'superseded',
			error_message = 'superseded by newer push ' || $2, updated_at = now()
		WHERE job_id = $1 AND state = 'queued'
	`

	tag, err := r.db.Exec(ctx, query, jobID, byHead)
	if err != nil {
		return fmt.Errorf("failed to supersede job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateMoved
	}

	return nil
}

// SaveChangeSummary snapshots the classification result on the job so a
// resumed job does not redo classification
func (r *ScanJobRepository) SaveChangeSummary(ctx context.Context, jobID uuid.UUID, summary []models.ChangeSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal change summary: %w", err)
	}

	query := `UPDATE scan_job SET change_summary = $2, updated_at = now() WHERE job_id = $1`

	if _, err := r.db.Exec(ctx, query, jobID, payload); err != nil {
		return fmt.Errorf("failed to save change summary: %w", err)
	}

	return nil
}

// RequestCancel flags a claimed job for cancellation, or fails an
// unclaimed one outright. Returns the state the job was found in.
func (r *ScanJobRepository) RequestCancel(ctx context.Context, jobID uuid.UUID) (models.JobState, error) {
	// Unclaimed queued jobs terminate immediately
	queuedQuery := `
		UPDATE scan_job
		SET state = 'failed', error_kind = 'cancelled', error_message = 'cancelled by operator', updated_at = now()
		WHERE job_id = $1 AND state = 'queued'
	`
	tag, err := r.db.Exec(ctx, queuedQuery, jobID)
	if err != nil {
		return "", fmt.Errorf("failed to cancel job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return models.StateQueued, nil
	}

	// Running jobs get the flag; the owning worker observes it at the
	// next guarded transition and abandons in-flight work.
	flagQuery := `
		UPDATE scan_job
		SET cancel_requested = true, updated_at = now()
		WHERE job_id = $1 AND state NOT IN ('completed', 'failed')
		RETURNING state
	`
	var state models.JobState
	err = r.db.QueryRow(ctx, flagQuery, jobID).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to flag cancellation: %w", err)
	}

	return state, nil
}

// FinishCancelled terminates a job whose cancel flag was observed
func (r *ScanJobRepository) FinishCancelled(ctx context.Context, jobID uuid.UUID) error {
	query := `
		UPDATE scan_job
		SET state = 'failed', error_kind = 'cancelled', error_message = 'cancelled by operator', updated_at = now()
		WHERE job_id = $1 AND cancel_requested = true AND state NOT IN ('completed', 'failed')
	`

	if _, err := r.db.Exec(ctx, query, jobID); err != nil {
		return fmt.Errorf("failed to finish cancellation: %w", err)
	}

	return nil
}

// RenewLease extends the claim on a job mid-pipeline
func (r *ScanJobRepository) RenewLease(ctx context.Context, jobID uuid.UUID, workerID string, lease time.Duration) error {
	query := `
		UPDATE scan_job
		SET lease_expires_at = now() + $3, updated_at = now()
		WHERE job_id = $1 AND claimed_by = $2 AND state NOT IN ('queued', 'completed', 'failed')
	`

	tag, err := r.db.Exec(ctx, query, jobID, workerID, lease)
	if err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateMoved
	}

	return nil
}

func scanJob(row pgx.Row) (*models.ScanJob, error) {
	job := &models.ScanJob{}
	var summary []byte

	err := row.Scan(
		&job.JobID,
		&job.ProjectID,
		&job.Trigger,
		&job.BaseCommit,
		&job.HeadCommit,
		&job.Commits,
		&job.State,
		&job.StageAttempts,
		&job.ErrorKind,
		&job.ErrorMessage,
		&summary,
		&job.CancelRequested,
		&job.ClaimedBy,
		&job.LeaseExpiresAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &job.ChangeSummary); err != nil {
			return nil, fmt.Errorf("failed to decode change summary: %w", err)
		}
	}

	return job, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
