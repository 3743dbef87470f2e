package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/ports"
	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

type ClausePGStore struct {
	pool pgBeginner
}

func NewClausePGStore(pool pgBeginner) ports.ClausePersister {
	return &ClausePGStore{pool: pool}
}

var clauseNamespace = uuid.Must(uuid.Parse("3f0c5d8e-6a51-4c1e-9b7a-2d4e8f1a6c35"))

// deterministicClauseID keeps ids stable across full rewrites of the same corpus.
func deterministicClauseID(position int, c types.Clause) uuid.UUID {
	name := fmt.Sprintf("guard.clause:%d:%s:%s", position, c.SourceDocument, c.Text)
	return uuid.NewSHA1(clauseNamespace, []byte(name))
}

var clauseColumns = []string{"clause_id", "position", "clause_text", "sensitivity", "clause_type", "source_document", "created_at"}

func (s *ClausePGStore) Load(ctx context.Context) ([]types.Clause, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rows, err := tx.Query(ctx, `
	SELECT clause_text, sensitivity, clause_type, source_document, created_at
	FROM guard.clauses
	ORDER BY position ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Clause
	for rows.Next() {
		var c types.Clause
		var sensitivity, clauseType string
		if err := rows.Scan(&c.Text, &sensitivity, &clauseType, &c.SourceDocument, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Sensitivity = types.Sensitivity(sensitivity)
		c.Type = types.ClauseType(clauseType)
		c.CreatedAt = c.CreatedAt.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// Replace rewrites the table contents inside one transaction so readers of
// the table never see a partial corpus.
func (s *ClausePGStore) Replace(ctx context.Context, clauses []types.Clause) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `DELETE FROM guard.clauses;`); err != nil {
		return err
	}

	rows := make([][]any, 0, len(clauses))
	for i, c := range clauses {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		rows = append(rows, []any{
			deterministicClauseID(i, c),
			i,
			c.Text,
			string(c.Sensitivity),
			string(c.Type),
			c.SourceDocument,
			createdAt,
		})
	}
	if len(rows) > 0 {
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"guard", "clauses"}, clauseColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return err
		}
		if int(n) != len(rows) {
			return fmt.Errorf("copy clauses: wrote %d of %d rows", n, len(rows))
		}
	}
	return tx.Commit(ctx)
}
