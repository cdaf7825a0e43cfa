package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomehq/tome/common/models"
	"github.com/tomehq/tome/common/repository"
	"github.com/tomehq/tome/common/scm"
)

// fakeSCM is an in-memory provider. Files and branches are tracked so
// tests can assert what a publish pushed.
type fakeSCM struct {
	diff     string
	docs     map[string]string
	branches map[string]string
	files    map[string]string // branch/path -> content
	pulls    map[int]*scm.PullRequest
	comments map[int][]string
	nextPR   int

	compareErr error
	branchErr  error
	putErr     error
	pullErr    error
}

func newFakeSCM() *fakeSCM {
	return &fakeSCM{
		branches: make(map[string]string),
		files:    make(map[string]string),
		pulls:    make(map[int]*scm.PullRequest),
		comments: make(map[int][]string),
		nextPR:   100,
	}
}

func (f *fakeSCM) CompareDiff(ctx context.Context, t scm.Target, base, head string) (string, error) {
	return f.diff, f.compareErr
}

func (f *fakeSCM) GetFileContent(ctx context.Context, t scm.Target, path, ref string) (string, error) {
	if c, ok := f.docs[path]; ok {
		return c, nil
	}
	return "", scm.ErrFileNotFound
}

func (f *fakeSCM) ListDocFiles(ctx context.Context, t scm.Target, roots []string, ref string) (map[string]string, error) {
	return f.docs, nil
}

func (f *fakeSCM) GetBranchSHA(ctx context.Context, t scm.Target, branch string) (string, error) {
	if sha, ok := f.branches[branch]; ok {
		return sha, nil
	}
	return "headsha", nil
}

func (f *fakeSCM) CreateBranch(ctx context.Context, t scm.Target, branch, fromSHA string) error {
	if f.branchErr != nil {
		return f.branchErr
	}
	f.branches[branch] = fromSHA
	return nil
}

func (f *fakeSCM) PutFile(ctx context.Context, t scm.Target, path, content, message, branch string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.files[branch+"/"+path] = content
	return nil
}

func (f *fakeSCM) CreatePull(ctx context.Context, t scm.Target, input scm.PullRequestInput) (*scm.PullRequest, error) {
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	f.nextPR++
	pr := &scm.PullRequest{
		Number: f.nextPR,
		URL:    fmt.Sprintf("https://example.com/pr/%d", f.nextPR),
		State:  "open",
	}
	f.pulls[pr.Number] = pr
	return pr, nil
}

func (f *fakeSCM) GetPull(ctx context.Context, t scm.Target, number int) (*scm.PullRequest, error) {
	if pr, ok := f.pulls[number]; ok {
		return pr, nil
	}
	return nil, scm.ErrFileNotFound
}

func (f *fakeSCM) CreateIssueComment(ctx context.Context, t scm.Target, number int, body string) error {
	f.comments[number] = append(f.comments[number], body)
	return nil
}

func (f *fakeSCM) VerifyAccess(ctx context.Context, t scm.Target) error { return nil }

// fakePRStore mirrors the upsert-by-job semantics of the real repository
type fakePRStore struct {
	byJob map[uuid.UUID]*models.PRRecord
	open  []*models.PRRecord
}

func newFakePRStore() *fakePRStore {
	return &fakePRStore{byJob: make(map[uuid.UUID]*models.PRRecord)}
}

func (f *fakePRStore) Create(ctx context.Context, rec *models.PRRecord) error {
	cp := *rec
	f.byJob[rec.JobID] = &cp
	return nil
}

func (f *fakePRStore) GetByJob(ctx context.Context, jobID uuid.UUID) (*models.PRRecord, error) {
	if rec, ok := f.byJob[jobID]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakePRStore) UpdateState(ctx context.Context, prID uuid.UUID, state models.PRState) error {
	for _, rec := range f.byJob {
		if rec.PRID == prID {
			rec.State = state
		}
	}
	for _, rec := range f.open {
		if rec.PRID == prID {
			rec.State = state
		}
	}
	return nil
}

func (f *fakePRStore) FindOpenByProject(ctx context.Context, projectID uuid.UUID, excludeJob uuid.UUID) ([]*models.PRRecord, error) {
	var out []*models.PRRecord
	for _, rec := range f.open {
		if rec.JobID != excludeJob && rec.State == models.PROpen {
			out = append(out, rec)
		}
	}
	return out, nil
}

func publishFixture() (*Publisher, *fakeSCM, *fakePRStore) {
	sc := newFakeSCM()
	prs := newFakePRStore()
	pub := NewPublisher(&PublisherOpts{
		SCM:          sc,
		PRs:          prs,
		BranchPrefix: "tome/",
		Logger:       pipelineLog(),
	})
	pub.now = func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }
	return pub, sc, prs
}

func publishJob() *models.ScanJob {
	return &models.ScanJob{
		JobID:      uuid.New(),
		ProjectID:  uuid.New(),
		BaseCommit: "aaa1112222333344445555666677778888999900",
		HeadCommit: "bbb1112222333344445555666677778888999900",
		State:      models.StatePublishing,
	}
}

func publishProject(job *models.ScanJob) *models.Project {
	return &models.Project{
		ProjectID:    job.ProjectID,
		TargetBranch: "main",
		Status:       models.ProjectActive,
	}
}

func TestPublish_OpensPullRequest(t *testing.T) {
	pub, sc, prs := publishFixture()
	job := publishJob()
	project := publishProject(job)

	gap := staleGap()
	gap.JobID = job.JobID
	patch := &models.DraftPatch{
		PatchID: uuid.New(),
		GapID:   gap.GapID,
		DocPath: "docs/api.md",
		Content: "# API\nnew content\n",
	}

	rec, opened, err := pub.Publish(context.Background(), job, project, scm.Target{}, []*models.Gap{gap}, []*models.DraftPatch{patch})
	require.NoError(t, err)
	assert.True(t, opened)

	assert.Equal(t, 101, rec.PRNumber)
	assert.Equal(t, models.PROpen, rec.State)
	assert.Equal(t, "tome/docs-update-20260314-093000-"+job.JobID.String()[:8], rec.Branch)

	assert.Equal(t, job.HeadCommit, sc.branches[rec.Branch])
	assert.Equal(t, "# API\nnew content\n", sc.files[rec.Branch+"/docs/api.md"])

	stored, err := prs.GetByJob(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.PROpen, stored.State)
}

func TestPublish_ResumeWithOpenPRReconcilesOnly(t *testing.T) {
	pub, sc, prs := publishFixture()
	job := publishJob()
	project := publishProject(job)

	sc.pulls[42] = &scm.PullRequest{Number: 42, State: "closed", Merged: true}
	prs.Create(context.Background(), &models.PRRecord{
		PRID:     uuid.New(),
		JobID:    job.JobID,
		Branch:   "tome/docs-update-old",
		PRNumber: 42,
		State:    models.PROpen,
	})

	rec, opened, err := pub.Publish(context.Background(), job, project, scm.Target{}, nil, nil)
	require.NoError(t, err)
	assert.False(t, opened, "resume must not count as a new pr")
	assert.Equal(t, 42, rec.PRNumber)

	stored, _ := prs.GetByJob(context.Background(), job.JobID)
	assert.Equal(t, models.PRMerged, stored.State)
	assert.Empty(t, sc.branches, "no new branch on resume")
}

func TestPublish_ResumeWithDeletedPRRecordsClosed(t *testing.T) {
	pub, sc, prs := publishFixture()
	job := publishJob()
	project := publishProject(job)

	// PR 42 is not in the provider's store: deleted on the remote
	prs.Create(context.Background(), &models.PRRecord{
		PRID:     uuid.New(),
		JobID:    job.JobID,
		Branch:   "tome/docs-update-old",
		PRNumber: 42,
		State:    models.PROpen,
	})

	rec, opened, err := pub.Publish(context.Background(), job, project, scm.Target{}, nil, nil)
	require.NoError(t, err)
	assert.False(t, opened)
	assert.Equal(t, models.PRClosed, rec.State)

	stored, _ := prs.GetByJob(context.Background(), job.JobID)
	assert.Equal(t, models.PRClosed, stored.State)
	assert.Empty(t, sc.branches, "no new branch when reconciling a deleted pr")
}

func TestPublish_ResumeWithPendingRecordReusesBranch(t *testing.T) {
	pub, sc, prs := publishFixture()
	job := publishJob()
	project := publishProject(job)

	pending := &models.PRRecord{
		PRID:   uuid.New(),
		JobID:  job.JobID,
		Branch: "tome/docs-update-crashed",
		State:  models.PRPending,
	}
	prs.Create(context.Background(), pending)

	rec, opened, err := pub.Publish(context.Background(), job, project, scm.Target{}, nil, nil)
	require.NoError(t, err)
	assert.True(t, opened)
	assert.Equal(t, "tome/docs-update-crashed", rec.Branch, "pending record's branch is reused")
	assert.Contains(t, sc.branches, "tome/docs-update-crashed")
}

func TestPublish_SupersedesPriorOpenPR(t *testing.T) {
	pub, sc, prs := publishFixture()
	job := publishJob()
	project := publishProject(job)

	old := &models.PRRecord{
		PRID:     uuid.New(),
		JobID:    uuid.New(),
		PRNumber: 90,
		State:    models.PROpen,
	}
	prs.open = append(prs.open, old)

	rec, opened, err := pub.Publish(context.Background(), job, project, scm.Target{}, nil, nil)
	require.NoError(t, err)
	assert.True(t, opened)

	assert.Equal(t, models.PRSuperseded, old.State)
	require.Len(t, sc.comments[90], 1)
	assert.Equal(t, fmt.Sprintf("Superseded by #%d (%s).", rec.PRNumber, rec.PRURL), sc.comments[90][0])
}

func TestPublish_ProviderFailureLeavesPendingRecord(t *testing.T) {
	pub, sc, prs := publishFixture()
	job := publishJob()
	project := publishProject(job)

	sc.pullErr = fmt.Errorf("boom")

	_, opened, err := pub.Publish(context.Background(), job, project, scm.Target{}, nil, nil)
	require.Error(t, err)
	assert.False(t, opened)

	stored, err := prs.GetByJob(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.PRPending, stored.State)
	assert.Zero(t, stored.PRNumber)
}

func TestPRBody(t *testing.T) {
	job := publishJob()
	drafted := staleGap()
	skipped := staleGap()
	skipped.Kind = models.GapAmbiguous
	skipped.Description = "unclear which doc owns this"

	body := prBody(job, []*models.Gap{drafted, skipped}, []*models.DraftPatch{
		{GapID: drafted.GapID, DocPath: drafted.DocPath},
	})

	assert.Contains(t, body, "### Gaps addressed")
	assert.Contains(t, body, "docs/api.md § Authentication")
	assert.Contains(t, body, "### Needs human review")
	assert.Contains(t, body, "unclear which doc owns this")
}
