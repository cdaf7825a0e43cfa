package models

import (
	"time"

	"github.com/google/uuid"
)

// GapKind classifies a detected documentation mismatch
type GapKind string

const (
	// GapMissing means no doc section discusses the changed behavior
	GapMissing GapKind = "missing"

	// GapStale means a section exists but contradicts the new behavior
	GapStale GapKind = "stale"

	// GapAmbiguous means the match is uncertain; surfaced for human
	// judgment rather than auto-drafted
	GapAmbiguous GapKind = "ambiguous"
)

// Gap is a detected mismatch between code behavior and current
// documentation. Immutable once created: a re-run creates a new scan
// job and new gaps, never edits old ones.
// Maps to: gap table
type Gap struct {
	GapID uuid.UUID `db:"gap_id" json:"gap_id"`
	JobID uuid.UUID `db:"job_id" json:"job_id"`

	DocPath string  `db:"doc_path" json:"doc_path"`
	Section string  `db:"section" json:"section,omitempty"`
	Kind    GapKind `db:"kind" json:"kind"`

	// What changed and why the doc no longer matches
	Description string `db:"description" json:"description"`

	Confidence float64 `db:"confidence" json:"confidence"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DraftPatch is generated replacement or insertion text addressing one
// gap. Immutable.
// Maps to: draft_patch table
type DraftPatch struct {
	PatchID uuid.UUID `db:"patch_id" json:"patch_id"`
	GapID   uuid.UUID `db:"gap_id" json:"gap_id"`

	DocPath    string `db:"doc_path" json:"doc_path"`
	Content    string `db:"content" json:"content"`
	StyleNotes string `db:"style_notes" json:"style_notes,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
