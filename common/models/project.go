package models

import (
	"time"

	"github.com/google/uuid"
)

// ProjectStatus represents the lifecycle status of a registered project
type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectArchived ProjectStatus = "archived"
)

// Project is a registered repository whose documentation Tome maintains.
// Created by registration, updated by reconfiguration, never mutated by
// the pipeline itself.
// Maps to: project table
type Project struct {
	ProjectID uuid.UUID `db:"project_id" json:"project_id"`

	Name string `db:"name" json:"name"`

	// Source-control coordinates
	SCMOwner string `db:"scm_owner" json:"scm_owner"`
	SCMRepo  string `db:"scm_repo" json:"scm_repo"`

	// Path filters: entries ending in '/' are recursive prefixes,
	// entries with glob metacharacters are matched per segment.
	DocsPaths   []string `db:"docs_paths" json:"docs_paths"`
	SourcePaths []string `db:"source_paths" json:"source_paths"`

	// Optional CEL expression over changed-file attributes
	// (path, additions, deletions) pre-filtering classification.
	ClassifyRule string `db:"classify_rule" json:"classify_rule,omitempty"`

	TargetBranch string `db:"target_branch" json:"target_branch"`

	// Opaque name of the credential slot holding the provider token.
	// Never the raw secret.
	CredentialRef string `db:"credential_ref" json:"credential_ref,omitempty"`

	// Opaque name of the slot holding the webhook shared secret.
	WebhookSecretRef string `db:"webhook_secret_ref" json:"webhook_secret_ref,omitempty"`

	Status ProjectStatus `db:"status" json:"status"`

	// Aggregate counters kept for the stats surface
	TotalGaps int64 `db:"total_gaps" json:"total_gaps"`
	TotalPRs  int64 `db:"total_prs" json:"total_prs"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
