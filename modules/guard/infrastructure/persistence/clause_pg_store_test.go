package persistence

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

func sampleClauses() []types.Clause {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return []types.Clause{
		{Text: "Start date: Jan 1", Sensitivity: types.SensitivityPublic, Type: types.ClauseTypeGeneral, SourceDocument: "c.txt", CreatedAt: at},
		{Text: "Salary: $150,000", Sensitivity: types.SensitivityProtected, Type: types.ClauseTypeCompensation, SourceDocument: "c.txt", CreatedAt: at},
	}
}

func TestClausePGStore_Load(t *testing.T) {
	at := time.Unix(1000, 0).UTC()
	tx := &stubTx{rows: &valueRows{data: [][]any{
		{"Start date: Jan 1", "public", "general", "c.txt", at},
		{"Salary: $150,000", "protected", "compensation", "c.txt", at},
	}}}
	store := NewClausePGStore(beginnerFunc(func(context.Context) (pgx.Tx, error) { return tx, nil }))

	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].Sensitivity != types.SensitivityProtected || got[1].Type != types.ClauseTypeCompensation {
		t.Fatalf("got=%+v", got)
	}
	if !tx.committed {
		t.Fatal("expected commit")
	}
}

func TestClausePGStore_LoadErrors(t *testing.T) {
	t.Run("begin", func(t *testing.T) {
		store := NewClausePGStore(beginnerFunc(func(context.Context) (pgx.Tx, error) { return nil, errors.New("down") }))
		if _, err := store.Load(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("query", func(t *testing.T) {
		tx := &stubTx{queryErr: errors.New("boom")}
		store := NewClausePGStore(beginnerFunc(func(context.Context) (pgx.Tx, error) { return tx, nil }))
		if _, err := store.Load(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("scan", func(t *testing.T) {
		tx := &stubTx{rows: &valueRows{data: [][]any{{"x"}}, scanErr: errors.New("scan")}}
		store := NewClausePGStore(beginnerFunc(func(context.Context) (pgx.Tx, error) { return tx, nil }))
		if _, err := store.Load(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("rows err", func(t *testing.T) {
		tx := &stubTx{rows: &valueRows{err: errors.New("rows")}}
		store := NewClausePGStore(beginnerFunc(func(context.Context) (pgx.Tx, error) { return tx, nil }))
		if _, err := store.Load(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestClausePGStore_Replace(t *testing.T) {
	tx := &stubTx{}
	store := NewClausePGStore(beginnerFunc(func(context.Context) (pgx.Tx, error) { return tx, nil }))

	if err := store.Replace(context.Background(), sampleClauses()); err != nil {
		t.Fatal(err)
	}
	if len(tx.execSQLs) != 1 || !strings.Contains(tx.execSQLs[0], "DELETE FROM guard.clauses") {
		t.Fatalf("exec=%v", tx.execSQLs)
	}
	if len(tx.copied) != 2 || tx.copyTable.Sanitize() != `"guard"."clauses"` {
		t.Fatalf("copied=%v table=%v", tx.copied, tx.copyTable)
	}
	if tx.copied[1][2] != "Salary: $150,000" || tx.copied[1][3] != "protected" {
		t.Fatalf("row=%v", tx.copied[1])
	}
	if !tx.committed {
		t.Fatal("expected commit")
	}

	again := &stubTx{}
	store = NewClausePGStore(beginnerFunc(func(context.Context) (pgx.Tx, error) { return again, nil }))
	_ = store.Replace(context.Background(), sampleClauses())
	if again.copied[0][0] != tx.copied[0][0] {
		t.Fatal("clause ids must be deterministic")
	}
}

func TestClausePGStore_ReplaceErrors(t *testing.T) {
	cases := map[string]*stubTx{
		"delete": {execErr: errors.New("exec")},
		"copy":   {copyErr: errors.New("copy")},
		"short":  {copyN: 1},
		"commit": {commitErr: errors.New("commit")},
	}
	for name, tx := range cases {
		t.Run(name, func(t *testing.T) {
			store := NewClausePGStore(beginnerFunc(func(context.Context) (pgx.Tx, error) { return tx, nil }))
			if err := store.Replace(context.Background(), sampleClauses()); err == nil {
				t.Fatal("expected error")
			}
			if tx.committed {
				t.Fatal("must not commit")
			}
		})
	}
}

func TestMigrate(t *testing.T) {
	tx := &stubTx{}
	if err := Migrate(context.Background(), beginnerFunc(func(context.Context) (pgx.Tx, error) { return tx, nil })); err != nil {
		t.Fatal(err)
	}
	if len(tx.execSQLs) != len(SchemaStatements) || !tx.committed {
		t.Fatalf("exec=%d committed=%v", len(tx.execSQLs), tx.committed)
	}

	failing := &stubTx{execErr: errors.New("ddl"), execErrAt: 2}
	if err := Migrate(context.Background(), beginnerFunc(func(context.Context) (pgx.Tx, error) { return failing, nil })); err == nil {
		t.Fatal("expected error")
	}
}
