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

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// ProjectRepository handles database operations for registered projects
type ProjectRepository struct {
	db *db.DB
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(database *db.DB) *ProjectRepository {
	return &ProjectRepository{db: database}
}

const projectColumns = `project_id, name, scm_owner, scm_repo, docs_paths, source_paths,
	classify_rule, target_branch, credential_ref, webhook_secret_ref, status,
	total_gaps, total_prs, created_at, updated_at`

// Create inserts a new project
func (r *ProjectRepository) Create(ctx context.Context, p *models.Project) error {
	query := `
		INSERT INTO project (project_id, name, scm_owner, scm_repo, docs_paths, source_paths,
			classify_rule, target_branch, credential_ref, webhook_secret_ref, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		p.ProjectID,
		p.Name,
		p.SCMOwner,
		p.SCMRepo,
		p.DocsPaths,
		p.SourcePaths,
		p.ClassifyRule,
		p.TargetBranch,
		p.CredentialRef,
		p.WebhookSecretRef,
		p.Status,
	)

	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	return nil
}

// GetByID retrieves a project by its ID
func (r *ProjectRepository) GetByID(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM project WHERE project_id = $1`

	p, err := scanProject(r.db.QueryRow(ctx, query, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return p, nil
}

// GetByRepo resolves a repository identity to its active project.
// Used by webhook intake to map inbound notifications.
func (r *ProjectRepository) GetByRepo(ctx context.Context, owner, repo string) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM project
		WHERE scm_owner = $1 AND scm_repo = $2 AND status = 'active'`

	p, err := scanProject(r.db.QueryRow(ctx, query, owner, repo))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project by repo: %w", err)
	}

	return p, nil
}

// List retrieves active projects, newest first
func (r *ProjectRepository) List(ctx context.Context) ([]*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM project
		WHERE status = 'active' ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}

	return projects, nil
}

// UpdateConfig persists a reconfigured project. Only the configuration
// columns are writable; counters belong to the pipeline.
func (r *ProjectRepository) UpdateConfig(ctx context.Context, p *models.Project) error {
	query := `
		UPDATE project
		SET name = $2, docs_paths = $3, source_paths = $4, classify_rule = $5,
			target_branch = $6, credential_ref = $7, webhook_secret_ref = $8, status = $9,
			updated_at = now()
		WHERE project_id = $1
	`

	tag, err := r.db.Exec(
		ctx,
		query,
		p.ProjectID,
		p.Name,
		p.DocsPaths,
		p.SourcePaths,
		p.ClassifyRule,
		p.TargetBranch,
		p.CredentialRef,
		p.WebhookSecretRef,
		p.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// AddCounters bumps the aggregate gap/PR counters for the stats surface
func (r *ProjectRepository) AddCounters(ctx context.Context, projectID uuid.UUID, gaps, prs int64) error {
	query := `
		UPDATE project
		SET total_gaps = total_gaps + $2, total_prs = total_prs + $3, updated_at = now()
		WHERE project_id = $1
	`

	if _, err := r.db.Exec(ctx, query, projectID, gaps, prs); err != nil {
		return fmt.Errorf("failed to update project counters: %w", err)
	}

	return nil
}

// Stats aggregates counts across all entities
type Stats struct {
	Projects int64 `json:"projects"`
	Jobs     int64 `json:"jobs"`
	Gaps     int64 `json:"gaps"`
	PRs      int64 `json:"prs"`
}

// GetStats returns aggregate counts for the operational surface
func (r *ProjectRepository) GetStats(ctx context.Context) (*Stats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM project WHERE status = 'active'),
			(SELECT COUNT(*) FROM scan_job),
			(SELECT COUNT(*) FROM gap),
			(SELECT COUNT(*) FROM pr_record WHERE state IN ('open', 'merged'))
	`

	stats := &Stats{}
	err := r.db.QueryRow(ctx, query).Scan(&stats.Projects, &stats.Jobs, &stats.Gaps, &stats.PRs)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	return stats, nil
}

func scanProject(row pgx.Row) (*models.Project, error) {
	p := &models.Project{}
	err := row.Scan(
		&p.ProjectID,
		&p.Name,
		&p.SCMOwner,
		&p.SCMRepo,
		&p.DocsPaths,
		&p.SourcePaths,
		&p.ClassifyRule,
		&p.TargetBranch,
		&p.CredentialRef,
		&p.WebhookSecretRef,
		&p.Status,
		&p.TotalGaps,
		&p.TotalPRs,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}
