package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomehq/tome/common/faults"
	"github.com/tomehq/tome/common/logger"
	"github.com/tomehq/tome/common/models"
	"github.com/tomehq/tome/common/repository"
)

type fakeProjects struct {
	byRepo map[string]*models.Project
}

func (f *fakeProjects) GetByRepo(ctx context.Context, owner, repo string) (*models.Project, error) {
	if p, ok := f.byRepo[owner+"/"+repo]; ok {
		return p, nil
	}
	return nil, repository.ErrNotFound
}

type fakeJobs struct {
	queued     *models.ScanJob
	created    []*models.ScanJob
	superseded []uuid.UUID
	createErr  error
	findErr    error
}

func (f *fakeJobs) Create(ctx context.Context, job *models.ScanJob) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, job)
	return nil
}

// FindQueued mirrors the repository contract: no queued job is
// ErrNotFound, not a nil row.
func (f *fakeJobs) FindQueued(ctx context.Context, projectID uuid.UUID) (*models.ScanJob, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	if f.queued == nil {
		return nil, repository.ErrNotFound
	}
	return f.queued, nil
}

func (f *fakeJobs) SupersedeQueued(ctx context.Context, jobID uuid.UUID, byHead string) error {
	f.superseded = append(f.superseded, jobID)
	f.queued = nil
	return nil
}

type fakeActivity struct {
	outcomes []string
}

func (f *fakeActivity) Append(ctx context.Context, projectID uuid.UUID, jobID *uuid.UUID, stage, outcome, detail string) error {
	f.outcomes = append(f.outcomes, outcome)
	return nil
}

type fakeDedup struct {
	seen map[string]bool
	err  error
}

func (f *fakeDedup) SetNX(ctx context.Context, key, value string, expiry time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type fakeWaker struct {
	pushed []string
}

func (f *fakeWaker) Push(ctx context.Context, key, value string) error {
	f.pushed = append(f.pushed, value)
	return nil
}

type intakeFixture struct {
	svc      *Service
	projects *fakeProjects
	jobs     *fakeJobs
	activity *fakeActivity
	dedup    *fakeDedup
	waker    *fakeWaker
	project  *models.Project
}

func newFixture(t *testing.T) *intakeFixture {
	t.Helper()

	project := &models.Project{
		ProjectID:    uuid.New(),
		SCMOwner:     "acme",
		SCMRepo:      "widget",
		TargetBranch: "main",
		Status:       models.ProjectActive,
	}

	f := &intakeFixture{
		projects: &fakeProjects{byRepo: map[string]*models.Project{"acme/widget": project}},
		jobs:     &fakeJobs{},
		activity: &fakeActivity{},
		dedup:    &fakeDedup{},
		waker:    &fakeWaker{},
		project:  project,
	}
	f.svc = NewService(&ServiceOpts{
		Projects: f.projects,
		Jobs:     f.jobs,
		Activity: f.activity,
		Dedup:    f.dedup,
		Waker:    f.waker,
		Logger:   logger.New("error", "text"),
	})
	return f
}

func pushEvent(before, after string) *PushEvent {
	return &PushEvent{
		Owner:   "acme",
		Repo:    "widget",
		Ref:     "refs/heads/main",
		Before:  before,
		After:   after,
		Commits: []string{after},
	}
}

func TestResolveProject(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.ResolveProject(context.Background(), "acme", "widget")
	require.NoError(t, err)
	assert.Equal(t, f.project.ProjectID, p.ProjectID)
}

func TestResolveProject_Unknown(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ResolveProject(context.Background(), "acme", "other")
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.KindUnknownProject))
}

func TestSubmitPush_Enqueues(t *testing.T) {
	f := newFixture(t)

	job, err := f.svc.SubmitPush(context.Background(), f.project, pushEvent("aaa111", "bbb222"))
	require.NoError(t, err)

	assert.Equal(t, models.StateQueued, job.State)
	assert.Equal(t, models.TriggerPush, job.Trigger)
	assert.Equal(t, "aaa111", job.BaseCommit)
	assert.Equal(t, "bbb222", job.HeadCommit)

	require.Len(t, f.jobs.created, 1)
	assert.Equal(t, []string{"queued"}, f.activity.outcomes)
	assert.Equal(t, []string{job.JobID.String()}, f.waker.pushed)
}

func TestSubmitPush_BranchDeletion(t *testing.T) {
	f := newFixture(t)

	event := pushEvent("aaa111", "0000000000000000000000000000000000000000")
	event.Deleted = true

	_, err := f.svc.SubmitPush(context.Background(), f.project, event)
	assert.ErrorIs(t, err, ErrIgnored)
	assert.Empty(t, f.jobs.created)
}

func TestSubmitPush_NonTargetBranch(t *testing.T) {
	f := newFixture(t)

	event := pushEvent("aaa111", "bbb222")
	event.Ref = "refs/heads/feature/foo"

	_, err := f.svc.SubmitPush(context.Background(), f.project, event)
	assert.ErrorIs(t, err, ErrIgnored)
}

func TestSubmitPush_TagRef(t *testing.T) {
	f := newFixture(t)

	event := pushEvent("aaa111", "bbb222")
	event.Ref = "refs/tags/v1.0.0"

	_, err := f.svc.SubmitPush(context.Background(), f.project, event)
	assert.ErrorIs(t, err, ErrIgnored)
}

func TestSubmit_InactiveProject(t *testing.T) {
	f := newFixture(t)
	f.project.Status = models.ProjectArchived

	_, err := f.svc.SubmitPush(context.Background(), f.project, pushEvent("aaa111", "bbb222"))
	assert.ErrorIs(t, err, ErrIgnored)
}

func TestSubmit_DuplicateDelivery(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SubmitPush(context.Background(), f.project, pushEvent("aaa111", "bbb222"))
	require.NoError(t, err)

	_, err = f.svc.SubmitPush(context.Background(), f.project, pushEvent("aaa111", "bbb222"))
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Len(t, f.jobs.created, 1)
}

func TestSubmit_DedupOutageFallsToUniqueIndex(t *testing.T) {
	f := newFixture(t)
	f.dedup.err = errors.New("redis down")
	f.jobs.createErr = repository.ErrDuplicate

	_, err := f.svc.SubmitPush(context.Background(), f.project, pushEvent("aaa111", "bbb222"))
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestSubmit_NoQueuedPredecessorEnqueues(t *testing.T) {
	f := newFixture(t)
	f.jobs.findErr = repository.ErrNotFound

	job, err := f.svc.Submit(context.Background(), f.project, Submission{
		Trigger:    models.TriggerManual,
		BaseCommit: "aaa111",
		HeadCommit: "bbb222",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StateQueued, job.State)
	assert.Empty(t, f.jobs.superseded)
}

func TestSubmit_QueuedLookupFailure(t *testing.T) {
	f := newFixture(t)
	f.jobs.findErr = errors.New("connection refused")

	_, err := f.svc.Submit(context.Background(), f.project, Submission{
		Trigger:    models.TriggerManual,
		BaseCommit: "aaa111",
		HeadCommit: "bbb222",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to check queued jobs")
	assert.Empty(t, f.jobs.created)
}

func TestSubmit_SupersedesQueuedPredecessor(t *testing.T) {
	f := newFixture(t)
	stale := &models.ScanJob{
		JobID:      uuid.New(),
		ProjectID:  f.project.ProjectID,
		HeadCommit: "bbb222",
		State:      models.StateQueued,
	}
	f.jobs.queued = stale

	job, err := f.svc.SubmitPush(context.Background(), f.project, pushEvent("bbb222", "ccc333"))
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{stale.JobID}, f.jobs.superseded)
	assert.Equal(t, "ccc333", job.HeadCommit)
	assert.Equal(t, []string{"superseded", "queued"}, f.activity.outcomes)
}

func TestSubmit_QueuedSameHeadIsDuplicate(t *testing.T) {
	f := newFixture(t)
	f.jobs.queued = &models.ScanJob{
		JobID:      uuid.New(),
		ProjectID:  f.project.ProjectID,
		HeadCommit: "bbb222",
		State:      models.StateQueued,
	}
	// distinct dedup key so the fast path does not short-circuit
	f.dedup.seen = map[string]bool{}

	_, err := f.svc.Submit(context.Background(), f.project, Submission{
		Trigger:    models.TriggerManual,
		BaseCommit: "aaa111",
		HeadCommit: "bbb222",
	})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Empty(t, f.jobs.superseded)
}

func TestPushEventBranch(t *testing.T) {
	assert.Equal(t, "main", (&PushEvent{Ref: "refs/heads/main"}).Branch())
	assert.Equal(t, "feature/x", (&PushEvent{Ref: "refs/heads/feature/x"}).Branch())
	assert.Equal(t, "", (&PushEvent{Ref: "refs/tags/v1"}).Branch())
}
