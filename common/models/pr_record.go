package models

import (
	"time"

	"github.com/google/uuid"
)

// PRState represents the publication state of a pull request record
type PRState string

const (
	PRPending    PRState = "pending"
	PROpen       PRState = "open"
	PRMerged     PRState = "merged"
	PRClosed     PRState = "closed"
	PRSuperseded PRState = "superseded"
)

// PRRecord tracks the pull request opened for a scan job. Created
// exactly once per successful job; updated only by provider
// reconciliation or explicit supersession by a newer job.
// Maps to: pr_record table
type PRRecord struct {
	PRID  uuid.UUID `db:"pr_id" json:"pr_id"`
	JobID uuid.UUID `db:"job_id" json:"job_id"`

	Branch   string `db:"branch" json:"branch"`
	PRNumber int    `db:"pr_number" json:"pr_number"`
	PRURL    string `db:"pr_url" json:"pr_url"`

	State PRState `db:"state" json:"state"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ActivityRecord is one append-only log entry written at every stage
// transition. Never mutated or deleted by the core.
// Maps to: activity table
type ActivityRecord struct {
	ActivityID int64      `db:"activity_id" json:"activity_id"`
	ProjectID  uuid.UUID  `db:"project_id" json:"project_id"`
	JobID      *uuid.UUID `db:"job_id" json:"job_id,omitempty"`

	Stage   string `db:"stage" json:"stage"`
	Outcome string `db:"outcome" json:"outcome"`
	Detail  string `db:"detail" json:"detail,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
