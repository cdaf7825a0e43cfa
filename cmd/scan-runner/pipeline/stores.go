package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tomehq/tome/common/models"
	"github.com/tomehq/tome/common/repository"
)

// JobStore is the scan-job persistence surface the pipeline drives.
// Guarded writes return repository.ErrStateMoved when the persisted
// state no longer matches, which is how cancellation and takeover are
// observed.
type JobStore interface {
	GetByID(ctx context.Context, jobID uuid.UUID) (*models.ScanJob, error)
	Transition(ctx context.Context, jobID uuid.UUID, from, to models.JobState) error
	RecordAttempt(ctx context.Context, jobID uuid.UUID, state models.JobState, errKind, errMessage string) error
	MarkFailed(ctx context.Context, jobID uuid.UUID, errKind, errMessage string) error
	MarkCompleted(ctx context.Context, jobID uuid.UUID, from models.JobState) error
	SaveChangeSummary(ctx context.Context, jobID uuid.UUID, summary []models.ChangeSummary) error
	FinishCancelled(ctx context.Context, jobID uuid.UUID) error
	RenewLease(ctx context.Context, jobID uuid.UUID, workerID string, lease time.Duration) error
}

// ProjectStore resolves the project a job belongs to and keeps its
// aggregate counters.
type ProjectStore interface {
	GetByID(ctx context.Context, projectID uuid.UUID) (*models.Project, error)
	AddCounters(ctx context.Context, projectID uuid.UUID, gaps, prs int64) error
}

// GapStore persists detected gaps.
type GapStore interface {
	CreateBatch(ctx context.Context, gaps []*models.Gap) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Gap, error)
}

// PatchStore persists generated doc patches.
type PatchStore interface {
	Create(ctx context.Context, p *models.DraftPatch) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.DraftPatch, error)
}

// PRStore persists pull-request records.
type PRStore interface {
	Create(ctx context.Context, rec *models.PRRecord) error
	GetByJob(ctx context.Context, jobID uuid.UUID) (*models.PRRecord, error)
	UpdateState(ctx context.Context, prID uuid.UUID, state models.PRState) error
	FindOpenByProject(ctx context.Context, projectID uuid.UUID, excludeJob uuid.UUID) ([]*models.PRRecord, error)
}

// ActivityStore appends per-stage outcomes to the project timeline.
type ActivityStore interface {
	Append(ctx context.Context, projectID uuid.UUID, jobID *uuid.UUID, stage, outcome, detail string) error
}

// TextGenerator is the generation capability the classify and generate
// stages consume. Satisfied by backend.Gateway.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, structured bool) (string, error)
}

// errStateMoved re-exported for readability inside this package
var errStateMoved = repository.ErrStateMoved
