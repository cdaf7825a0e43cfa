package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomehq/tome/common/config"
	"github.com/tomehq/tome/common/faults"
	"github.com/tomehq/tome/common/logger"
	"github.com/tomehq/tome/common/models"
	"github.com/tomehq/tome/common/pathfilter"
	"github.com/tomehq/tome/common/scm"
)

// errAbandon means the persisted job state no longer belongs to this
// worker (cancellation, supersession, or lease takeover). In-flight
// work is discarded; nothing about the job may be written.
var errAbandon = errors.New("job abandoned")

// errTerminal means the job was marked failed; the run is over.
var errTerminal = errors.New("job failed terminally")

// Orchestrator drives one claimed scan job through the pipeline:
// diffing, classifying, detecting_gaps, generating, publishing,
// completed. Every transition is persisted before the next stage's
// external call, so a crashed run resumes at its last persisted state.
type Orchestrator struct {
	jobs     JobStore
	projects ProjectStore
	gaps     GapStore
	patches  PatchStore
	activity ActivityStore

	scm        scm.Client
	rules      *pathfilter.RuleEvaluator
	classifier *Classifier
	detector   *GapDetector
	generator  *Generator
	publisher  *Publisher

	cfg           config.PipelineConfig
	fallbackToken string
	workerID      string
	log           *logger.Logger

	// sleep is replaceable in tests so backoff does not slow them
	sleep func(ctx context.Context, d time.Duration) error
}

// OrchestratorOpts contains options for creating an Orchestrator
type OrchestratorOpts struct {
	Jobs     JobStore
	Projects ProjectStore
	Gaps     GapStore
	Patches  PatchStore
	Activity ActivityStore

	SCM        scm.Client
	Rules      *pathfilter.RuleEvaluator
	Classifier *Classifier
	Generator  *Generator
	Publisher  *Publisher

	Config        config.PipelineConfig
	FallbackToken string
	WorkerID      string
	Logger        *logger.Logger
}

// NewOrchestrator creates a new pipeline orchestrator
func NewOrchestrator(opts *OrchestratorOpts) *Orchestrator {
	return &Orchestrator{
		jobs:          opts.Jobs,
		projects:      opts.Projects,
		gaps:          opts.Gaps,
		patches:       opts.Patches,
		activity:      opts.Activity,
		scm:           opts.SCM,
		rules:         opts.Rules,
		classifier:    opts.Classifier,
		detector:      NewGapDetector(),
		generator:     opts.Generator,
		publisher:     opts.Publisher,
		cfg:           opts.Config,
		fallbackToken: opts.FallbackToken,
		workerID:      opts.WorkerID,
		log:           opts.Logger,
		sleep:         sleepCtx,
	}
}

// run carries the in-memory state of one pipeline run. Everything in it
// is re-derivable from persisted state, which is what makes crash
// resume possible.
type run struct {
	job     *models.ScanJob
	project *models.Project
	target  scm.Target
	log     *logger.Logger

	changes []FileChange
	docs    map[string]string
}

// Run processes a claimed job until it reaches a terminal state or the
// worker loses ownership. It never returns an error for job-level
// failures; those are persisted on the job. The returned error is only
// context cancellation (shutdown), which leaves the job to lease
// takeover.
func (o *Orchestrator) Run(ctx context.Context, job *models.ScanJob) error {
	log := o.log.WithJobID(job.JobID.String()).WithProjectID(job.ProjectID.String())
	log.Info("running scan job", "state", job.State, "trigger", job.Trigger, "head", short(job.HeadCommit))

	project, err := o.projects.GetByID(ctx, job.ProjectID)
	if err != nil {
		o.failJob(ctx, &run{job: job, log: log}, job.State, faults.KindInternal,
			fmt.Errorf("failed to load project: %w", err))
		return nil
	}

	r := &run{
		job:     job,
		project: project,
		log:     log,
		target: scm.Target{
			Owner: project.SCMOwner,
			Repo:  project.SCMRepo,
			Token: scm.ResolveCredential(project.CredentialRef, o.fallbackToken),
		},
	}

	for !r.job.State.Terminal() {
		var err error
		switch r.job.State {
		case models.StateDiffing:
			err = o.runStage(ctx, r, models.StateDiffing, o.stageDiffing)
		case models.StateClassifying:
			err = o.runStage(ctx, r, models.StateClassifying, o.stageClassifying)
		case models.StateDetectingGaps:
			err = o.runStage(ctx, r, models.StateDetectingGaps, o.stageDetecting)
		case models.StateGenerating:
			err = o.runStage(ctx, r, models.StateGenerating, o.stageGenerating)
		case models.StatePublishing:
			err = o.runStage(ctx, r, models.StatePublishing, o.stagePublishing)
		default:
			o.failJob(ctx, r, r.job.State, faults.KindInternal,
				fmt.Errorf("job in unexpected state %q", r.job.State))
			return nil
		}

		switch {
		case err == nil:
		case errors.Is(err, errAbandon), errors.Is(err, errTerminal):
			return nil
		case ctx.Err() != nil:
			log.Info("shutdown mid-job, leaving to lease takeover", "state", r.job.State)
			return ctx.Err()
		default:
			o.failJob(ctx, r, r.job.State, faults.KindOf(err), err)
			return nil
		}
	}

	return nil
}

// runStage executes one stage under the retry budget. Retryable fault
// kinds back off exponentially and retry in place; fatal kinds and an
// exhausted budget terminate the job with the final kind recorded.
func (o *Orchestrator) runStage(ctx context.Context, r *run, state models.JobState, fn func(context.Context, *run) error) error {
	attempts := r.job.StageAttempts

	for {
		if err := o.jobs.RenewLease(ctx, r.job.JobID, o.workerID, o.cfg.LeaseDuration); err != nil {
			if errors.Is(err, errStateMoved) {
				return o.abandon(ctx, r, "lease lost")
			}
			return err
		}

		err := fn(ctx, r)
		if err == nil {
			return nil
		}
		if errors.Is(err, errStateMoved) {
			return o.abandon(ctx, r, "state moved under us")
		}
		if ctx.Err() != nil {
			return err
		}

		kind := faults.KindOf(err)
		attempts++

		if rerr := o.jobs.RecordAttempt(ctx, r.job.JobID, state, string(kind), err.Error()); rerr != nil {
			if errors.Is(rerr, errStateMoved) {
				return o.abandon(ctx, r, "state moved under us")
			}
			return rerr
		}

		if !kind.Retryable() {
			o.failJob(ctx, r, state, kind, err)
			return errTerminal
		}
		if attempts >= o.cfg.StageAttempts {
			o.failJob(ctx, r, state, kind,
				fmt.Errorf("stage retry budget exhausted after %d attempts: %w", attempts, err))
			return errTerminal
		}

		backoff := o.cfg.BackoffBase * (1 << (attempts - 1))
		r.log.Warn("stage attempt failed, backing off",
			"stage", state, "attempt", attempts, "kind", kind, "backoff", backoff, "error", err)
		if serr := o.sleep(ctx, backoff); serr != nil {
			return serr
		}
	}
}

// stageDiffing fetches and filters the diff. A job with no base commit
// (first manual scan of a project) has nothing to compare yet; it
// completes immediately, recording the baseline.
func (o *Orchestrator) stageDiffing(ctx context.Context, r *run) error {
	if noBase(r.job.BaseCommit) {
		return o.complete(ctx, r, models.StateDiffing, "baseline recorded, nothing to compare")
	}

	changes, err := o.fetchChanges(ctx, r)
	if err != nil {
		return err
	}
	r.changes = changes

	r.log.Info("diff acquired", "doc_relevant_candidates", len(changes))

	if err := o.jobs.Transition(ctx, r.job.JobID, models.StateDiffing, models.StateClassifying); err != nil {
		return err
	}
	r.job.State = models.StateClassifying
	return nil
}

// stageClassifying runs generation over the change groups and snapshots
// the summaries on the job before moving on. A resumed job that already
// has its snapshot skips the calls entirely.
func (o *Orchestrator) stageClassifying(ctx context.Context, r *run) error {
	summaries := r.job.ChangeSummary

	if summaries == nil {
		if r.changes == nil {
			// Resumed here after a crash: the diff was never persisted,
			// re-derive it. Compare is a read; refetching is safe.
			changes, err := o.fetchChanges(ctx, r)
			if err != nil {
				return err
			}
			r.changes = changes
		}

		if len(r.changes) == 0 {
			return o.complete(ctx, r, models.StateClassifying, "no files survived filtering")
		}

		groups := GroupChanges(r.changes, o.cfg.GroupFileLimit, o.cfg.MaxDiffBytes)
		var err error
		summaries, err = o.classifier.Classify(ctx, groups)
		if err != nil {
			return err
		}

		if err := o.jobs.SaveChangeSummary(ctx, r.job.JobID, summaries); err != nil {
			return err
		}
		r.job.ChangeSummary = summaries
	}

	if len(summaries) == 0 {
		return o.complete(ctx, r, models.StateClassifying, "no doc-relevant changes")
	}

	r.log.Info("changes classified", "doc_relevant", len(summaries))

	if err := o.jobs.Transition(ctx, r.job.JobID, models.StateClassifying, models.StateDetectingGaps); err != nil {
		return err
	}
	r.job.State = models.StateDetectingGaps
	return nil
}

// stageDetecting fetches the docs at head and runs gap detection. A
// resume that already persisted gaps reuses them.
func (o *Orchestrator) stageDetecting(ctx context.Context, r *run) error {
	existing, err := o.gaps.ListByJob(ctx, r.job.JobID)
	if err != nil {
		return err
	}

	if existing == nil {
		docs, err := o.fetchDocs(ctx, r)
		if err != nil {
			return err
		}

		detected := o.detector.Detect(r.job.JobID, r.job.ChangeSummary, docs)
		if err := o.gaps.CreateBatch(ctx, detected); err != nil {
			return err
		}
		if len(detected) > 0 {
			if err := o.projects.AddCounters(ctx, r.job.ProjectID, int64(len(detected)), 0); err != nil {
				r.log.Warn("failed to bump gap counter", "error", err)
			}
		}
		existing = detected
	}

	if len(existing) == 0 {
		return o.complete(ctx, r, models.StateDetectingGaps, "documentation already covers the changes")
	}

	r.log.Info("gaps detected", "count", len(existing))

	if err := o.jobs.Transition(ctx, r.job.JobID, models.StateDetectingGaps, models.StateGenerating); err != nil {
		return err
	}
	r.job.State = models.StateGenerating
	return nil
}

// stageGenerating drafts a patch for every gap that does not yet have
// one, so a resumed job only pays for what is missing.
func (o *Orchestrator) stageGenerating(ctx context.Context, r *run) error {
	gaps, err := o.gaps.ListByJob(ctx, r.job.JobID)
	if err != nil {
		return err
	}
	patches, err := o.patches.ListByJob(ctx, r.job.JobID)
	if err != nil {
		return err
	}

	drafted := make(map[string]bool, len(patches))
	for _, p := range patches {
		drafted[p.GapID.String()] = true
	}
	var pending []*models.Gap
	for _, g := range gaps {
		if !drafted[g.GapID.String()] {
			pending = append(pending, g)
		}
	}

	if len(pending) > 0 {
		docs, err := o.fetchDocs(ctx, r)
		if err != nil {
			return err
		}

		fresh, err := o.generator.Generate(ctx, pending, docs)
		if err != nil {
			return err
		}
		for _, p := range fresh {
			if err := o.patches.Create(ctx, p); err != nil {
				return err
			}
		}
		patches = append(patches, fresh...)
	}

	if len(patches) == 0 {
		return o.complete(ctx, r, models.StateGenerating, "no patches drafted")
	}

	r.log.Info("patches drafted", "count", len(patches))

	if err := o.jobs.Transition(ctx, r.job.JobID, models.StateGenerating, models.StatePublishing); err != nil {
		return err
	}
	r.job.State = models.StatePublishing
	return nil
}

func (o *Orchestrator) stagePublishing(ctx context.Context, r *run) error {
	gaps, err := o.gaps.ListByJob(ctx, r.job.JobID)
	if err != nil {
		return err
	}
	patches, err := o.patches.ListByJob(ctx, r.job.JobID)
	if err != nil {
		return err
	}

	rec, opened, err := o.publisher.Publish(ctx, r.job, r.project, r.target, gaps, patches)
	if err != nil {
		return err
	}
	if opened {
		if err := o.projects.AddCounters(ctx, r.job.ProjectID, 0, 1); err != nil {
			r.log.Warn("failed to bump pr counter", "error", err)
		}
	}

	detail := fmt.Sprintf("pull request #%d %s", rec.PRNumber, rec.State)
	return o.complete(ctx, r, models.StatePublishing, detail)
}

func (o *Orchestrator) fetchChanges(ctx context.Context, r *run) ([]FileChange, error) {
	raw, err := o.scm.CompareDiff(ctx, r.target, r.job.BaseCommit, r.job.HeadCommit)
	if err != nil {
		return nil, err
	}
	return ParseDiff(raw, r.project, o.rules)
}

func (o *Orchestrator) fetchDocs(ctx context.Context, r *run) (map[string]string, error) {
	if r.docs != nil {
		return r.docs, nil
	}
	docs, err := o.scm.ListDocFiles(ctx, r.target, r.project.DocsPaths, r.job.HeadCommit)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = map[string]string{}
	}
	r.docs = docs
	return docs, nil
}

// complete terminates the job successfully from the given state
func (o *Orchestrator) complete(ctx context.Context, r *run, from models.JobState, detail string) error {
	if err := o.jobs.MarkCompleted(ctx, r.job.JobID, from); err != nil {
		return err
	}
	r.job.State = models.StateCompleted

	r.log.Info("scan job completed", "stage", from, "detail", detail)
	if err := o.activity.Append(ctx, r.job.ProjectID, &r.job.JobID, string(from), "completed", detail); err != nil {
		r.log.Warn("failed to record completion activity", "error", err)
	}
	return nil
}

// failJob terminates the job with the final fault kind recorded. A job
// that raced to a terminal state under us is abandoned instead.
func (o *Orchestrator) failJob(ctx context.Context, r *run, state models.JobState, kind faults.Kind, cause error) {
	if err := o.jobs.MarkFailed(ctx, r.job.JobID, string(kind), cause.Error()); err != nil {
		if errors.Is(err, errStateMoved) {
			_ = o.abandon(ctx, r, "terminal race")
			return
		}
		r.log.Error("failed to mark job failed", "error", err)
		return
	}
	r.job.State = models.StateFailed

	// Credential rejections need an operator, not a retry
	if kind == faults.KindAuthFailed {
		r.log.Error("provider rejected credential, job failed", "stage", state, "error", cause)
	} else {
		r.log.Warn("scan job failed", "stage", state, "kind", kind, "error", cause)
	}

	if err := o.activity.Append(ctx, r.job.ProjectID, &r.job.JobID, string(state), "failed",
		fmt.Sprintf("%s: %v", kind, cause)); err != nil {
		r.log.Warn("failed to record failure activity", "error", err)
	}
}

// abandon gives up ownership after a guarded write found the persisted
// state changed. If the change was a cancellation request, this worker
// finishes the cancel; otherwise another actor owns the job now.
func (o *Orchestrator) abandon(ctx context.Context, r *run, why string) error {
	fresh, err := o.jobs.GetByID(ctx, r.job.JobID)
	if err != nil {
		r.log.Warn("abandoning job, state unreadable", "reason", why, "error", err)
		return errAbandon
	}

	if fresh.CancelRequested && !fresh.State.Terminal() {
		if err := o.jobs.FinishCancelled(ctx, r.job.JobID); err != nil {
			r.log.Warn("failed to finish cancellation", "error", err)
			return errAbandon
		}
		r.log.Info("scan job cancelled", "stage", fresh.State)
		if err := o.activity.Append(ctx, r.job.ProjectID, &r.job.JobID, string(fresh.State), "cancelled",
			"cancelled by operator"); err != nil {
			r.log.Warn("failed to record cancellation activity", "error", err)
		}
		return errAbandon
	}

	r.log.Info("abandoning job", "reason", why, "state", fresh.State)
	return errAbandon
}

// noBase reports whether the base commit is absent or the zero SHA a
// provider sends for a newly created branch.
func noBase(sha string) bool {
	if sha == "" {
		return true
	}
	for _, c := range sha {
		if c != '0' {
			return false
		}
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
