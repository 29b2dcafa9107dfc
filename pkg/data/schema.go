package data

import (
	"context"
	"fmt"
)

// Schema statements executed in order at startup. Idempotent so that every
// process can run them unconditionally.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id                TEXT PRIMARY KEY,
		host_id           TEXT NOT NULL,
		title             TEXT NOT NULL,
		stage             TEXT NOT NULL,
		settings          JSONB NOT NULL,
		total_submissions INTEGER NOT NULL DEFAULT 0,
		total_votes       INTEGER NOT NULL DEFAULT 0,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_stage ON sessions (stage)`,

	`CREATE TABLE IF NOT EXISTS submissions (
		id                  TEXT PRIMARY KEY,
		session_id          TEXT NOT NULL REFERENCES sessions (id),
		author_id           TEXT,
		kind                TEXT NOT NULL,
		title               TEXT NOT NULL,
		body                TEXT NOT NULL DEFAULT '',
		sections            JSONB NOT NULL DEFAULT '[]',
		status              TEXT NOT NULL,
		votes               INTEGER NOT NULL DEFAULT 0,
		weighted_vote_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		voter_ids           TEXT[] NOT NULL DEFAULT '{}',
		created_at          TIMESTAMPTZ NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_submissions_session ON submissions (session_id, status)`,

	`CREATE TABLE IF NOT EXISTS votes (
		id            TEXT PRIMARY KEY,
		session_id    TEXT NOT NULL REFERENCES sessions (id),
		submission_id TEXT NOT NULL REFERENCES submissions (id),
		voter_id      TEXT NOT NULL,
		value         INTEGER NOT NULL,
		weight        DOUBLE PRECISION NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_votes_submission_voter
		ON votes (submission_id, voter_id)`,
	`CREATE INDEX IF NOT EXISTS idx_votes_voter ON votes (voter_id)`,

	`CREATE TABLE IF NOT EXISTS reputation_profiles (
		user_id     TEXT PRIMARY KEY,
		score       BIGINT NOT NULL DEFAULT 0,
		level       TEXT NOT NULL,
		vote_weight DOUBLE PRECISION NOT NULL DEFAULT 1,
		stats       JSONB NOT NULL DEFAULT '{}',
		badges      JSONB NOT NULL DEFAULT '[]',
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
}

func (r *PostgresRepository) initSchema(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing schema transaction: %w", err)
	}

	return nil
}
