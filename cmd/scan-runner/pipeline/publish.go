package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tomehq/tome/common/logger"
	"github.com/tomehq/tome/common/models"
	"github.com/tomehq/tome/common/repository"
	"github.com/tomehq/tome/common/scm"
)

// Publisher pushes drafted patches to a branch and opens the pull
// request, superseding still-open PRs from earlier jobs.
type Publisher struct {
	scm          scm.Client
	prs          PRStore
	branchPrefix string
	log          *logger.Logger
	now          func() time.Time
}

// PublisherOpts contains options for creating a Publisher
type PublisherOpts struct {
	SCM          scm.Client
	PRs          PRStore
	BranchPrefix string
	Logger       *logger.Logger
}

// NewPublisher creates a new publisher
func NewPublisher(opts *PublisherOpts) *Publisher {
	return &Publisher{
		scm:          opts.SCM,
		prs:          opts.PRs,
		branchPrefix: opts.BranchPrefix,
		log:          opts.Logger,
		now:          time.Now,
	}
}

// Publish is idempotent per job. The PR record is persisted in the
// pending state before the pull request is opened, so a resume after a
// crash verifies remote state instead of opening a duplicate:
//
//   - record already has a PR number: reconcile its state from the
//     provider and stop; a remotely closed or merged PR is recorded as
//     such, never reopened
//   - record exists without a number: reuse its branch (branch creation
//     treats already-exists as success) and continue
//
// After opening, still-open PRs from earlier jobs of the project are
// marked superseded and get a pointer comment.
func (p *Publisher) Publish(ctx context.Context, job *models.ScanJob, project *models.Project, target scm.Target, gaps []*models.Gap, patches []*models.DraftPatch) (*models.PRRecord, bool, error) {
	rec, err := p.prs.GetByJob(ctx, job.JobID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to load pr record: %w", err)
	}

	if rec != nil && rec.PRNumber > 0 {
		return rec, false, p.reconcile(ctx, target, rec)
	}

	if rec == nil {
		rec = &models.PRRecord{
			PRID:   uuid.New(),
			JobID:  job.JobID,
			Branch: p.branchName(job),
			State:  models.PRPending,
		}
		if err := p.prs.Create(ctx, rec); err != nil {
			return nil, false, err
		}
	}

	if err := p.scm.CreateBranch(ctx, target, rec.Branch, job.HeadCommit); err != nil {
		return nil, false, err
	}

	// One commit per file, contents API. PutFile overwrites, so a
	// half-pushed branch from a crashed attempt converges.
	for _, patch := range patches {
		msg := fmt.Sprintf("docs: update %s", patch.DocPath)
		if err := p.scm.PutFile(ctx, target, patch.DocPath, patch.Content, msg, rec.Branch); err != nil {
			return nil, false, err
		}
	}

	pr, err := p.scm.CreatePull(ctx, target, scm.PullRequestInput{
		Title: fmt.Sprintf("docs: update for %s", short(job.HeadCommit)),
		Body:  prBody(job, gaps, patches),
		Head:  rec.Branch,
		Base:  project.TargetBranch,
	})
	if err != nil {
		return nil, false, err
	}

	rec.PRNumber = pr.Number
	rec.PRURL = pr.URL
	rec.State = models.PROpen
	if err := p.prs.Create(ctx, rec); err != nil {
		return nil, false, err
	}

	p.log.Info("pull request opened",
		"job_id", job.JobID,
		"pr_number", pr.Number,
		"branch", rec.Branch)

	p.supersedePrior(ctx, project, target, rec)

	return rec, true, nil
}

// reconcile refreshes a previously opened PR's state from the provider.
// A PR deleted on the remote is recorded as closed rather than failing
// the job.
func (p *Publisher) reconcile(ctx context.Context, target scm.Target, rec *models.PRRecord) error {
	pr, err := p.scm.GetPull(ctx, target, rec.PRNumber)
	if err != nil {
		if errors.Is(err, scm.ErrFileNotFound) {
			p.log.Warn("pull request gone on remote, recording closed",
				"pr_number", rec.PRNumber)
			rec.State = models.PRClosed
			return p.prs.UpdateState(ctx, rec.PRID, models.PRClosed)
		}
		return err
	}

	state := rec.State
	switch {
	case pr.Merged:
		state = models.PRMerged
	case pr.State == "closed":
		state = models.PRClosed
	case pr.State == "open":
		state = models.PROpen
	}
	if state == rec.State {
		return nil
	}

	rec.State = state
	return p.prs.UpdateState(ctx, rec.PRID, state)
}

// supersedePrior closes the book on older open PRs. Failures here are
// logged, not fatal: the new PR is already open and a later job will
// sweep again.
func (p *Publisher) supersedePrior(ctx context.Context, project *models.Project, target scm.Target, current *models.PRRecord) {
	prior, err := p.prs.FindOpenByProject(ctx, project.ProjectID, current.JobID)
	if err != nil {
		p.log.Warn("failed to list prior open prs", "error", err)
		return
	}

	for _, old := range prior {
		if err := p.prs.UpdateState(ctx, old.PRID, models.PRSuperseded); err != nil {
			p.log.Warn("failed to mark pr superseded", "pr_number", old.PRNumber, "error", err)
			continue
		}
		note := fmt.Sprintf("Superseded by #%d (%s).", current.PRNumber, current.PRURL)
		if err := p.scm.CreateIssueComment(ctx, target, old.PRNumber, note); err != nil {
			p.log.Warn("failed to comment on superseded pr", "pr_number", old.PRNumber, "error", err)
		}
	}
}

func (p *Publisher) branchName(job *models.ScanJob) string {
	stamp := p.now().UTC().Format("20060102-150405")
	return fmt.Sprintf("%sdocs-update-%s-%s", p.branchPrefix, stamp, job.JobID.String()[:8])
}

func prBody(job *models.ScanJob, gaps []*models.Gap, patches []*models.DraftPatch) string {
	patched := make(map[uuid.UUID]bool, len(patches))
	for _, patch := range patches {
		patched[patch.GapID] = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Documentation updates for `%s`.\n\n", short(job.HeadCommit))
	b.WriteString("### Gaps addressed\n")
	for _, g := range gaps {
		if !patched[g.GapID] {
			continue
		}
		loc := g.DocPath
		if g.Section != "" {
			loc += " § " + g.Section
		}
		fmt.Fprintf(&b, "- **%s** `%s`: %s\n", g.Kind, loc, g.Description)
	}

	var skipped []*models.Gap
	for _, g := range gaps {
		if !patched[g.GapID] {
			skipped = append(skipped, g)
		}
	}
	if len(skipped) > 0 {
		b.WriteString("\n### Needs human review\n")
		for _, g := range skipped {
			fmt.Fprintf(&b, "- **%s** `%s`: %s\n", g.Kind, g.DocPath, g.Description)
		}
	}

	return b.String()
}

func short(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
