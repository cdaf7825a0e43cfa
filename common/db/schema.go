package db

import (
	"context"
	"fmt"
)

// schema holds the DDL for all persisted entities. Statements are
// idempotent so every service can run them at startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS project (
		project_id     UUID PRIMARY KEY,
		name           TEXT NOT NULL,
		scm_owner      TEXT NOT NULL,
		scm_repo       TEXT NOT NULL,
		docs_paths     TEXT[] NOT NULL DEFAULT '{docs/}',
		source_paths   TEXT[] NOT NULL DEFAULT '{src/}',
		classify_rule  TEXT NOT NULL DEFAULT '',
		target_branch  TEXT NOT NULL DEFAULT 'main',
		credential_ref TEXT NOT NULL DEFAULT '',
		webhook_secret_ref TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL DEFAULT 'active',
		total_gaps     BIGINT NOT NULL DEFAULT 0,
		total_prs      BIGINT NOT NULL DEFAULT 0,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS project_repo_idx
		ON project (scm_owner, scm_repo) WHERE status = 'active'`,

	`CREATE TABLE IF NOT EXISTS api_key (
		key_hash   TEXT PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES project(project_id),
		name       TEXT NOT NULL DEFAULT 'default',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS scan_job (
		job_id           UUID PRIMARY KEY,
		project_id       UUID NOT NULL REFERENCES project(project_id),
		trigger          TEXT NOT NULL DEFAULT 'push',
		base_commit      TEXT NOT NULL,
		head_commit      TEXT NOT NULL,
		commits          TEXT[] NOT NULL DEFAULT '{}',
		state            TEXT NOT NULL DEFAULT 'queued',
		stage_attempts   INT NOT NULL DEFAULT 0,
		error_kind       TEXT NOT NULL DEFAULT '',
		error_message    TEXT NOT NULL DEFAULT '',
		change_summary   JSONB,
		cancel_requested BOOLEAN NOT NULL DEFAULT false,
		claimed_by       TEXT NOT NULL DEFAULT '',
		lease_expires_at TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	// One job row per (project, head commit), even under webhook redelivery.
	`CREATE UNIQUE INDEX IF NOT EXISTS scan_job_head_idx
		ON scan_job (project_id, head_commit)`,

	// At most one claimed, non-terminal job per project (single-flight).
	// The one retained FIFO successor sits in 'queued' and is excluded.
	`CREATE UNIQUE INDEX IF NOT EXISTS scan_job_active_idx
		ON scan_job (project_id)
		WHERE state NOT IN ('queued', 'completed', 'failed')`,

	`CREATE INDEX IF NOT EXISTS scan_job_state_idx ON scan_job (state, created_at)`,

	`CREATE TABLE IF NOT EXISTS gap (
		gap_id      UUID PRIMARY KEY,
		job_id      UUID NOT NULL REFERENCES scan_job(job_id),
		doc_path    TEXT NOT NULL,
		section     TEXT NOT NULL DEFAULT '',
		kind        TEXT NOT NULL,
		description TEXT NOT NULL,
		confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS gap_job_idx ON gap (job_id)`,

	`CREATE TABLE IF NOT EXISTS draft_patch (
		patch_id    UUID PRIMARY KEY,
		gap_id      UUID NOT NULL REFERENCES gap(gap_id),
		doc_path    TEXT NOT NULL,
		content     TEXT NOT NULL,
		style_notes TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS pr_record (
		pr_id      UUID PRIMARY KEY,
		job_id     UUID NOT NULL UNIQUE REFERENCES scan_job(job_id),
		branch     TEXT NOT NULL,
		pr_number  INT NOT NULL DEFAULT 0,
		pr_url     TEXT NOT NULL DEFAULT '',
		state      TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS activity (
		activity_id BIGSERIAL PRIMARY KEY,
		project_id  UUID NOT NULL,
		job_id      UUID,
		stage       TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		detail      TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS activity_project_idx ON activity (project_id, created_at DESC)`,
}

// InitSchema creates all tables and indexes. Intended as the bootstrap
// dbInitHook so both binaries converge on the same schema.
func InitSchema(ctx context.Context, database *DB) error {
	for _, stmt := range schema {
		if _, err := database.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}
