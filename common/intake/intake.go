package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tomehq/tome/common/faults"
	"github.com/tomehq/tome/common/logger"
	"github.com/tomehq/tome/common/models"
	"github.com/tomehq/tome/common/repository"
)

// WakeKey is the Redis list workers block on. Intake pushes the job ID
// after enqueue so an idle worker picks it up without waiting for the
// poll interval.
const WakeKey = "tome:jobs:wake"

// dedupTTL bounds the Redis fast-path dedup entries. The Postgres
// unique index on (project_id, head_commit) stays authoritative after
// the key expires.
const dedupTTL = 24 * time.Hour

// ProjectStore is the project lookup surface intake needs.
type ProjectStore interface {
	GetByRepo(ctx context.Context, owner, repo string) (*models.Project, error)
}

// JobStore is the scan-job surface intake needs.
type JobStore interface {
	Create(ctx context.Context, job *models.ScanJob) error
	FindQueued(ctx context.Context, projectID uuid.UUID) (*models.ScanJob, error)
	SupersedeQueued(ctx context.Context, jobID uuid.UUID, byHead string) error
}

// ActivityStore records intake outcomes on the project timeline.
type ActivityStore interface {
	Append(ctx context.Context, projectID uuid.UUID, jobID *uuid.UUID, stage, outcome, detail string) error
}

// Deduper is the Redis fast path for duplicate deliveries.
type Deduper interface {
	SetNX(ctx context.Context, key, value string, expiry time.Duration) (bool, error)
}

// Waker signals workers that a job is waiting.
type Waker interface {
	Push(ctx context.Context, key, value string) error
}

// PushEvent is a normalized push notification from the provider webhook.
type PushEvent struct {
	Owner   string   `json:"owner"`
	Repo    string   `json:"repo"`
	Ref     string   `json:"ref"`
	Before  string   `json:"before"`
	After   string   `json:"after"`
	Commits []string `json:"commits"`
	Deleted bool     `json:"deleted"`
}

// Branch returns the short branch name for a refs/heads ref, or ""
// for tag and other refs.
func (e *PushEvent) Branch() string {
	const prefix = "refs/heads/"
	if !strings.HasPrefix(e.Ref, prefix) {
		return ""
	}
	return strings.TrimPrefix(e.Ref, prefix)
}

// Submission is a request to enqueue one scan job. Push events and
// manual triggers both reduce to this.
type Submission struct {
	Trigger    models.JobTrigger
	BaseCommit string
	HeadCommit string
	Commits    []string
}

// ErrIgnored means the event was valid but enqueues nothing: wrong
// branch, branch deletion, or archived project.
var ErrIgnored = errors.New("event ignored")

// ErrDuplicate mirrors the repository sentinel so handlers only import
// this package.
var ErrDuplicate = repository.ErrDuplicate

// ServiceOpts contains options for creating an intake Service.
type ServiceOpts struct {
	Projects ProjectStore
	Jobs     JobStore
	Activity ActivityStore
	Dedup    Deduper
	Waker    Waker
	Logger   *logger.Logger
}

// Service turns verified webhook deliveries and manual triggers into
// queued scan jobs. It owns dedup and queued-job supersession; it never
// touches a job past the queued state.
type Service struct {
	projects ProjectStore
	jobs     JobStore
	activity ActivityStore
	dedup    Deduper
	waker    Waker
	log      *logger.Logger
}

// NewService creates a new intake service with options pattern
func NewService(opts *ServiceOpts) *Service {
	return &Service{
		projects: opts.Projects,
		jobs:     opts.Jobs,
		activity: opts.Activity,
		dedup:    opts.Dedup,
		waker:    opts.Waker,
		log:      opts.Logger,
	}
}

// ResolveProject maps repository coordinates to a registered project.
// The handler needs the project before signature verification because
// the shared secret is per project.
func (s *Service) ResolveProject(ctx context.Context, owner, repo string) (*models.Project, error) {
	project, err := s.projects.GetByRepo(ctx, owner, repo)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, faults.Wrap(faults.KindUnknownProject, "intake.resolve",
				fmt.Errorf("no project registered for %s/%s", owner, repo))
		}
		return nil, fmt.Errorf("failed to resolve project: %w", err)
	}
	return project, nil
}

// SubmitPush enqueues a scan job for a verified push event. Pushes to
// branches other than the project's target branch and branch deletions
// return ErrIgnored.
func (s *Service) SubmitPush(ctx context.Context, project *models.Project, event *PushEvent) (*models.ScanJob, error) {
	if event.Deleted {
		return nil, ErrIgnored
	}
	if event.Branch() != project.TargetBranch {
		s.log.Debug("push to non-target branch ignored",
			"project_id", project.ProjectID,
			"ref", event.Ref)
		return nil, ErrIgnored
	}
	return s.Submit(ctx, project, Submission{
		Trigger:    models.TriggerPush,
		BaseCommit: event.Before,
		HeadCommit: event.After,
		Commits:    event.Commits,
	})
}

// Submit enqueues one scan job. Steps:
//  1. Redis SetNX fast-path dedup on (project, head).
//  2. Supersede an unstarted queued predecessor, if any.
//  3. Insert the job; the unique index on (project_id, head_commit)
//     is the authoritative dedup and makes redelivery a no-op.
//  4. Record activity and wake a worker.
func (s *Service) Submit(ctx context.Context, project *models.Project, sub Submission) (*models.ScanJob, error) {
	if project.Status != models.ProjectActive {
		return nil, ErrIgnored
	}

	// 1. Fast-path dedup. A Redis failure here is not fatal: the
	// unique index below still rejects the duplicate row.
	dedupKey := fmt.Sprintf("intake:dedup:%s:%s", project.ProjectID, sub.HeadCommit)
	fresh, err := s.dedup.SetNX(ctx, dedupKey, string(sub.Trigger), dedupTTL)
	if err != nil {
		s.log.Warn("dedup fast path unavailable, relying on unique index", "error", err)
	} else if !fresh {
		s.log.Info("duplicate delivery dropped",
			"project_id", project.ProjectID,
			"head_commit", sub.HeadCommit)
		return nil, ErrDuplicate
	}

	// 2. At most one queued successor is retained per project. An
	// older queued job that never started is strictly worse than the
	// new one: its head is already stale. No queued predecessor is the
	// common case and surfaces as ErrNotFound.
	queued, err := s.jobs.FindQueued(ctx, project.ProjectID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check queued jobs: %w", err)
	}
	if queued != nil {
		if queued.HeadCommit == sub.HeadCommit {
			return nil, ErrDuplicate
		}
		if err := s.jobs.SupersedeQueued(ctx, queued.JobID, sub.HeadCommit); err != nil {
			return nil, fmt.Errorf("failed to supersede queued job: %w", err)
		}
		s.log.Info("queued job superseded",
			"project_id", project.ProjectID,
			"job_id", queued.JobID,
			"new_head", sub.HeadCommit)
		_ = s.activity.Append(ctx, project.ProjectID, &queued.JobID,
			"intake", "superseded", "replaced by newer head "+short(sub.HeadCommit))
	}

	// 3. Insert. ON CONFLICT DO NOTHING surfaces as ErrDuplicate.
	job := &models.ScanJob{
		JobID:      uuid.New(),
		ProjectID:  project.ProjectID,
		Trigger:    sub.Trigger,
		BaseCommit: sub.BaseCommit,
		HeadCommit: sub.HeadCommit,
		Commits:    sub.Commits,
		State:      models.StateQueued,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to enqueue scan job: %w", err)
	}

	s.log.Info("scan job queued",
		"job_id", job.JobID,
		"project_id", project.ProjectID,
		"trigger", job.Trigger,
		"head_commit", short(job.HeadCommit))

	// 4. Activity row, then wake. Either failing leaves a valid
	// queued job that the poll loop will find.
	if err := s.activity.Append(ctx, project.ProjectID, &job.JobID,
		"intake", "queued", string(sub.Trigger)+" "+short(sub.HeadCommit)); err != nil {
		s.log.Warn("failed to record intake activity", "error", err)
	}
	if err := s.waker.Push(ctx, WakeKey, job.JobID.String()); err != nil {
		s.log.Warn("failed to wake workers, poll loop will pick up", "error", err)
	}

	return job, nil
}

func short(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
