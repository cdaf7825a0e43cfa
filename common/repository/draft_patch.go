package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tomehq/tome/common/db"
	"github.com/tomehq/tome/common/models"
)

// DraftPatchRepository handles database operations for generated patches
type DraftPatchRepository struct {
	db *db.DB
}

// NewDraftPatchRepository creates a new draft patch repository
func NewDraftPatchRepository(database *db.DB) *DraftPatchRepository {
	return &DraftPatchRepository{db: database}
}

// Create inserts a draft patch. Idempotent on patch ID so a resumed
// generating stage can re-persist without duplicating.
func (r *DraftPatchRepository) Create(ctx context.Context, p *models.DraftPatch) error {
	query := `
		INSERT INTO draft_patch (patch_id, gap_id, doc_path, content, style_notes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (patch_id) DO NOTHING
	`

	_, err := r.db.Exec(ctx, query, p.PatchID, p.GapID, p.DocPath, p.Content, p.StyleNotes)
	if err != nil {
		return fmt.Errorf("failed to create draft patch: %w", err)
	}

	return nil
}

// ListByJob retrieves the patches generated for one scan job
func (r *DraftPatchRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.DraftPatch, error) {
	query := `
		SELECT p.patch_id, p.gap_id, p.doc_path, p.content, p.style_notes, p.created_at
		FROM draft_patch p
		JOIN gap g ON g.gap_id = p.gap_id
		WHERE g.job_id = $1
		ORDER BY p.created_at
	`

	rows, err := r.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list draft patches: %w", err)
	}
	defer rows.Close()

	var patches []*models.DraftPatch
	for rows.Next() {
		p := &models.DraftPatch{}
		err := rows.Scan(&p.PatchID, &p.GapID, &p.DocPath, &p.Content, &p.StyleNotes, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan draft patch: %w", err)
		}
		patches = append(patches, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating draft patches: %w", err)
	}

	return patches, nil
}
