package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/ports"
	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

// ClauseFileStore keeps the corpus as one JSON array (data/contract.json).
type ClauseFileStore struct {
	path string
}

func NewClauseFileStore(path string) ports.ClausePersister {
	return &ClauseFileStore{path: path}
}

// fileClause accepts the older shape where "clause" held a display preview
// and "full_text" the complete section. Older files also carry local
// timestamps without a zone offset.
type fileClause struct {
	types.Clause
	FullText  string `json:"full_text,omitempty"`
	Timestamp string `json:"timestamp"`
}

// legacyTimestampLayouts are tried after RFC 3339. Zone-less values are
// read as UTC.
var legacyTimestampLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseClauseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err == nil {
		return t, nil
	}
	for _, layout := range legacyTimestampLayouts {
		if lt, lerr := time.ParseInLocation(layout, raw, time.UTC); lerr == nil {
			return lt, nil
		}
	}
	return time.Time{}, err
}

func (s *ClauseFileStore) Load(ctx context.Context) ([]types.Clause, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	var raw []fileClause
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	out := make([]types.Clause, 0, len(raw))
	for i, r := range raw {
		c := r.Clause
		ts, err := parseClauseTimestamp(r.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("decode %s: clause %d timestamp: %w", s.path, i, err)
		}
		c.CreatedAt = ts
		if r.FullText != "" {
			c.Text = r.FullText
		}
		if c.Type == "" {
			c.Type = types.ClauseTypeGeneral
		}
		out = append(out, c)
	}
	return out, nil
}

// Replace writes the whole set to a temp file and renames it over the
// previous one, so a crash leaves either the old or the new corpus.
func (s *ClauseFileStore) Replace(ctx context.Context, clauses []types.Clause) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if clauses == nil {
		clauses = []types.Clause{}
	}
	b, err := json.MarshalIndent(clauses, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}
