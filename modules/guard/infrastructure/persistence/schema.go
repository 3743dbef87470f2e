package persistence

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SchemaStatements create the guard schema. They are idempotent.
var SchemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS guard;`,
	`CREATE TABLE IF NOT EXISTS guard.clauses (
	  clause_id uuid PRIMARY KEY,
	  position integer NOT NULL,
	  clause_text text NOT NULL,
	  sensitivity text NOT NULL CHECK (sensitivity IN ('public', 'protected')),
	  clause_type text NOT NULL,
	  source_document text NOT NULL DEFAULT '',
	  created_at timestamptz NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS clauses_position_idx ON guard.clauses (position);`,
	`CREATE TABLE IF NOT EXISTS guard.audit_events (
	  event_id uuid PRIMARY KEY,
	  event_type text NOT NULL,
	  occurred_at timestamptz NOT NULL,
	  payload jsonb NOT NULL DEFAULT '{}'::jsonb
	);`,
	`CREATE INDEX IF NOT EXISTS audit_events_occurred_idx ON guard.audit_events (occurred_at DESC, event_id DESC);`,
}

// Migrate applies SchemaStatements in one transaction.
func Migrate(ctx context.Context, pool pgBeginner) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	for _, stmt := range SchemaStatements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
