package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tomehq/tome/common/db"
	"github.com/tomehq/tome/common/models"
)

// PRRecordRepository handles database operations for pull request records
type PRRecordRepository struct {
	db *db.DB
}

// NewPRRecordRepository creates a new PR record repository
func NewPRRecordRepository(database *db.DB) *PRRecordRepository {
	return &PRRecordRepository{db: database}
}

const prColumns = `pr_id, job_id, branch, pr_number, pr_url, state, created_at, updated_at`

// Create inserts a PR record. The job_id unique constraint guarantees at
// most one record per scan job, so a resumed publish stage upserts.
func (r *PRRecordRepository) Create(ctx context.Context, rec *models.PRRecord) error {
	query := `
		INSERT INTO pr_record (pr_id, job_id, branch, pr_number, pr_url, state)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id) DO UPDATE
		SET branch = EXCLUDED.branch, pr_number = EXCLUDED.pr_number,
			pr_url = EXCLUDED.pr_url, state = EXCLUDED.state, updated_at = now()
	`

	_, err := r.db.Exec(ctx, query, rec.PRID, rec.JobID, rec.Branch, rec.PRNumber, rec.PRURL, rec.State)
	if err != nil {
		return fmt.Errorf("failed to create pr record: %w", err)
	}

	return nil
}

// GetByJob retrieves the PR record for a scan job
func (r *PRRecordRepository) GetByJob(ctx context.Context, jobID uuid.UUID) (*models.PRRecord, error) {
	query := `SELECT ` + prColumns + ` FROM pr_record WHERE job_id = $1`

	rec, err := scanPRRecord(r.db.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pr record: %w", err)
	}

	return rec, nil
}

// UpdateState moves a PR record to a new publication state
func (r *PRRecordRepository) UpdateState(ctx context.Context, prID uuid.UUID, state models.PRState) error {
	query := `UPDATE pr_record SET state = $2, updated_at = now() WHERE pr_id = $1`

	tag, err := r.db.Exec(ctx, query, prID, state)
	if err != nil {
		return fmt.Errorf("failed to update pr record state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// FindOpenByProject returns still-open PR records from earlier jobs of a
// project, oldest first. The publish stage supersedes them.
func (r *PRRecordRepository) FindOpenByProject(ctx context.Context, projectID uuid.UUID, excludeJob uuid.UUID) ([]*models.PRRecord, error) {
	query := `
		SELECT ` + prColumns + `
		FROM pr_record p
		JOIN scan_job s ON s.job_id = p.job_id
		WHERE s.project_id = $1 AND p.job_id <> $2 AND p.state = 'open'
		ORDER BY p.created_at
	`

	rows, err := r.db.Query(ctx, query, projectID, excludeJob)
	if err != nil {
		return nil, fmt.Errorf("failed to find open pr records: %w", err)
	}
	defer rows.Close()

	var records []*models.PRRecord
	for rows.Next() {
		rec, err := scanPRRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pr record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pr records: %w", err)
	}

	return records, nil
}

func scanPRRecord(row pgx.Row) (*models.PRRecord, error) {
	rec := &models.PRRecord{}
	err := row.Scan(
		&rec.PRID,
		&rec.JobID,
		&rec.Branch,
		&rec.PRNumber,
		&rec.PRURL,
		&rec.State,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
