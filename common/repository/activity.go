package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tomehq/tome/common/db"
	"github.com/tomehq/tome/common/models"
)

// ActivityRepository appends to and reads the activity log. Rows are
// never mutated or deleted by the core.
type ActivityRepository struct {
	db *db.DB
}

// NewActivityRepository creates a new activity repository
func NewActivityRepository(database *db.DB) *ActivityRepository {
	return &ActivityRepository{db: database}
}

// Append writes one activity record
func (r *ActivityRepository) Append(ctx context.Context, projectID uuid.UUID, jobID *uuid.UUID, stage, outcome, detail string) error {
	query := `
		INSERT INTO activity (project_id, job_id, stage, outcome, detail)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := r.db.Exec(ctx, query, projectID, jobID, stage, outcome, detail); err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}

	return nil
}

// ListByProject retrieves recent activity for a project, newest first
func (r *ActivityRepository) ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.ActivityRecord, error) {
	query := `
		SELECT activity_id, project_id, job_id, stage, outcome, detail, created_at
		FROM activity
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	var records []*models.ActivityRecord
	for rows.Next() {
		rec := &models.ActivityRecord{}
		err := rows.Scan(&rec.ActivityID, &rec.ProjectID, &rec.JobID, &rec.Stage, &rec.Outcome, &rec.Detail, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity: %w", err)
	}

	return records, nil
}
