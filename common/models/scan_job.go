package models

import (
	"time"

	"github.com/google/uuid"
)

// JobState represents where a scan job sits in the pipeline
type JobState string

const (
	StateQueued        JobState = "queued"
	StateDiffing       JobState = "diffing"
	StateClassifying   JobState = "classifying"
	StateDetectingGaps JobState = "detecting_gaps"
	StateGenerating    JobState = "generating"
	StatePublishing    JobState = "publishing"
	StateCompleted     JobState = "completed"
	StateFailed        JobState = "failed"
)

// Terminal reports whether a job in this state is immutable
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Active reports whether the job counts against the per-project
// single-flight invariant. Queued jobs do not: one queued successor
// is retained while a predecessor runs.
func (s JobState) Active() bool {
	return !s.Terminal() && s != StateQueued
}

// JobTrigger records what created a scan job
type JobTrigger string

const (
	TriggerPush   JobTrigger = "push"
	TriggerManual JobTrigger = "manual"
	TriggerScan   JobTrigger = "full_scan"
)

// ChangeSummary is one classified, doc-relevant change from a diff.
// The slice is snapshotted on the job so a resumed job does not redo
// classification.
type ChangeSummary struct {
	File       string `json:"file"`
	ChangeType string `json:"change_type"`
	Summary    string `json:"summary"`
	Details    string `json:"details"`
}

// ScanJob is one pipeline run processing a single commit range for one
// project. Created by webhook intake or a manual trigger; exclusively
// mutated by the pipeline; terminal states are immutable.
// Maps to: scan_job table
type ScanJob struct {
	JobID     uuid.UUID  `db:"job_id" json:"job_id"`
	ProjectID uuid.UUID  `db:"project_id" json:"project_id"`
	Trigger   JobTrigger `db:"trigger" json:"trigger"`

	// Commit span. A multi-commit push is batched as one diff from
	// base to head; the individual commits are kept for the record.
	BaseCommit string   `db:"base_commit" json:"base_commit"`
	HeadCommit string   `db:"head_commit" json:"head_commit"`
	Commits    []string `db:"commits" json:"commits,omitempty"`

	State JobState `db:"state" json:"state"`

	// Attempts within the current stage; reset on each transition.
	StageAttempts int `db:"stage_attempts" json:"stage_attempts"`

	ErrorKind    string `db:"error_kind" json:"error_kind,omitempty"`
	ErrorMessage string `db:"error_message" json:"error_message,omitempty"`

	// Classification output, persisted once the classify stage commits.
	ChangeSummary []ChangeSummary `db:"change_summary" json:"change_summary,omitempty"`

	CancelRequested bool `db:"cancel_requested" json:"cancel_requested"`

	// Lease fields for crash takeover by another worker
	ClaimedBy      string     `db:"claimed_by" json:"claimed_by,omitempty"`
	LeaseExpiresAt *time.Time `db:"lease_expires_at" json:"lease_expires_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
