package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type beginnerFunc func(ctx context.Context) (pgx.Tx, error)

func (f beginnerFunc) Begin(ctx context.Context) (pgx.Tx, error) { return f(ctx) }

type stubTx struct {
	execErr   error
	execErrAt int
	execN     int
	execSQLs  []string
	execArgs  [][]any
	queryErr  error
	commitErr error
	copyErr   error
	copyN     int64
	copied    [][]any
	copyTable pgx.Identifier
	committed bool
	rolled    bool

	rows pgx.Rows
}

func (t *stubTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *stubTx) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}
func (t *stubTx) Rollback(context.Context) error { t.rolled = true; return nil }
func (t *stubTx) CopyFrom(_ context.Context, table pgx.Identifier, _ []string, src pgx.CopyFromSource) (int64, error) {
	if t.copyErr != nil {
		return 0, t.copyErr
	}
	t.copyTable = table
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return 0, err
		}
		t.copied = append(t.copied, vals)
	}
	if t.copyN != 0 {
		return t.copyN, nil
	}
	return int64(len(t.copied)), nil
}
func (t *stubTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *stubTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *stubTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *stubTx) Conn() *pgx.Conn { return nil }

func (t *stubTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execSQLs = append(t.execSQLs, sql)
	t.execArgs = append(t.execArgs, args)
	t.execN++
	if t.execErr != nil {
		at := t.execErrAt
		if at == 0 {
			at = 1
		}
		if t.execN == at {
			return pgconn.CommandTag{}, t.execErr
		}
	}
	return pgconn.CommandTag{}, nil
}

func (t *stubTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	if t.queryErr != nil {
		return nil, t.queryErr
	}
	if t.rows != nil {
		return t.rows, nil
	}
	return &valueRows{}, nil
}

func (t *stubTx) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{err: errors.New("unexpected QueryRow")}
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

// valueRows yields fixed rows; Scan assigns by position.
type valueRows struct {
	data    [][]any
	idx     int
	scanErr error
	err     error
}

func (r *valueRows) Close()                        {}
func (r *valueRows) Err() error                    { return r.err }
func (r *valueRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }
func (r *valueRows) FieldDescriptions() []pgconn.FieldDescription {
	return nil
}
func (r *valueRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}
func (r *valueRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx-1]
	if len(row) != len(dest) {
		return fmt.Errorf("scan: %d values for %d targets", len(row), len(dest))
	}
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = row[i].(string)
		case *time.Time:
			*v = row[i].(time.Time)
		case *[]byte:
			*v = row[i].([]byte)
		default:
			return fmt.Errorf("scan: unsupported target %T", d)
		}
	}
	return nil
}
func (r *valueRows) Values() ([]any, error) { return r.data[r.idx-1], nil }
func (r *valueRows) RawValues() [][]byte    { return nil }
func (r *valueRows) Conn() *pgx.Conn        { return nil }
