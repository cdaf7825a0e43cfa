package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tomehq/tome/common/db"
	"github.com/tomehq/tome/common/models"
)

// GapRepository handles database operations for detected gaps
type GapRepository struct {
	db *db.DB
}

// NewGapRepository creates a new gap repository
func NewGapRepository(database *db.DB) *GapRepository {
	return &GapRepository{db: database}
}

// CreateBatch inserts the gaps detected for a job in one transaction.
// Gaps are immutable once created.
func (r *GapRepository) CreateBatch(ctx context.Context, gaps []*models.Gap) error {
	if len(gaps) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin gap batch: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO gap (gap_id, job_id, doc_path, section, kind, description, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (gap_id) DO NOTHING
	`

	for _, g := range gaps {
		if _, err := tx.Exec(ctx, query, g.GapID, g.JobID, g.DocPath, g.Section, g.Kind, g.Description, g.Confidence); err != nil {
			return fmt.Errorf("failed to insert gap: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit gap batch: %w", err)
	}

	return nil
}

// ListByJob retrieves the gaps detected by one scan job
func (r *GapRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Gap, error) {
	query := `
		SELECT gap_id, job_id, doc_path, section, kind, description, confidence, created_at
		FROM gap
		WHERE job_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list gaps: %w", err)
	}
	defer rows.Close()

	var gaps []*models.Gap
	for rows.Next() {
		g := &models.Gap{}
		err := rows.Scan(&g.GapID, &g.JobID, &g.DocPath, &g.Section, &g.Kind, &g.Description, &g.Confidence, &g.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gap: %w", err)
		}
		gaps = append(gaps, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating gaps: %w", err)
	}

	return gaps, nil
}

// ListByProject retrieves gaps across all of a project's jobs, newest first
func (r *GapRepository) ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.Gap, error) {
	query := `
		SELECT g.gap_id, g.job_id, g.doc_path, g.section, g.kind, g.description, g.confidence, g.created_at
		FROM gap g
		JOIN scan_job s ON s.job_id = g.job_id
		WHERE s.project_id = $1
		ORDER BY g.created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list project gaps: %w", err)
	}
	defer rows.Close()

	var gaps []*models.Gap
	for rows.Next() {
		g := &models.Gap{}
		err := rows.Scan(&g.GapID, &g.JobID, &g.DocPath, &g.Section, &g.Kind, &g.Description, &g.Confidence, &g.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gap: %w", err)
		}
		gaps = append(gaps, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating gaps: %w", err)
	}

	return gaps, nil
}
