package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/ports"
	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

const (
	NoPublicInformation = "No public information available."
	publicContextMarker = "- "
)

// ClauseStore holds the clause corpus as an immutable snapshot. Reads never
// lock; writers are serialized and swap the snapshot only after the durable
// write succeeded.
type ClauseStore struct {
	persister ports.ClausePersister

	writeMu sync.Mutex
	snap    atomic.Pointer[clauseSnapshot]
}

type clauseSnapshot struct {
	all            []types.Clause
	protected      []types.Clause
	protectedLower []string
	publicContext  string
}

// NewClauseStore loads the persisted corpus. A nil persister keeps the corpus
// in memory only.
func NewClauseStore(ctx context.Context, persister ports.ClausePersister) (*ClauseStore, error) {
	s := &ClauseStore{persister: persister}
	var initial []types.Clause
	if persister != nil {
		loaded, err := persister.Load(ctx)
		if err != nil {
			return nil, &types.StorageError{Op: "load", Err: err}
		}
		for i, c := range loaded {
			if err := c.Validate(); err != nil {
				return nil, &types.StorageError{Op: "load", Err: fmt.Errorf("clause[%d]: %w", i, err)}
			}
		}
		initial = loaded
	}
	s.snap.Store(buildClauseSnapshot(initial))
	return s, nil
}

// NewMemoryClauseStore returns a store seeded with clauses and no persistence.
func NewMemoryClauseStore(clauses []types.Clause) (*ClauseStore, error) {
	for i, c := range clauses {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("clause[%d]: %w", i, err)
		}
	}
	s := &ClauseStore{}
	s.snap.Store(buildClauseSnapshot(clauses))
	return s, nil
}

func buildClauseSnapshot(clauses []types.Clause) *clauseSnapshot {
	all := append([]types.Clause(nil), clauses...)
	snap := &clauseSnapshot{all: all}
	var public []types.Clause
	for _, c := range all {
		if c.IsProtected() {
			snap.protected = append(snap.protected, c)
			snap.protectedLower = append(snap.protectedLower, strings.ToLower(c.Text))
			continue
		}
		public = append(public, c)
	}
	snap.publicContext = assemblePublicContext(public, snap.protectedLower)
	return snap
}

// assemblePublicContext withholds public clauses that embed protected text and
// falls back to the sentinel if a protected text still appears across lines.
func assemblePublicContext(public []types.Clause, protectedLower []string) string {
	lines := make([]string, 0, len(public))
	for _, c := range public {
		lower := strings.ToLower(c.Text)
		if containsAny(lower, protectedLower) {
			continue
		}
		lines = append(lines, publicContextMarker+c.Text)
	}
	if len(lines) == 0 {
		return NoPublicInformation
	}
	out := strings.Join(lines, "\n")
	if containsAny(strings.ToLower(out), protectedLower) {
		return NoPublicInformation
	}
	return out
}

func containsAny(lowerText string, lowerNeedles []string) bool {
	for _, n := range lowerNeedles {
		if strings.Contains(lowerText, n) {
			return true
		}
	}
	return false
}

func (s *ClauseStore) current() *clauseSnapshot { return s.snap.Load() }

// PublicContext returns the generation context built from public clauses only.
func (s *ClauseStore) PublicContext() string { return s.current().publicContext }

// ProtectedClauses is reserved for the post-guard overlap check.
func (s *ClauseStore) ProtectedClauses() []types.Clause {
	return append([]types.Clause(nil), s.current().protected...)
}

// ContainsOverlap reports the first protected clause (store order) whose full
// text occurs in candidate, ignoring case. Matching is exact substring.
func (s *ClauseStore) ContainsOverlap(candidate string) (types.Clause, bool) {
	snap := s.current()
	if len(snap.protected) == 0 {
		return types.Clause{}, false
	}
	lower := strings.ToLower(candidate)
	for i, p := range snap.protectedLower {
		if strings.Contains(lower, p) {
			return snap.protected[i], true
		}
	}
	return types.Clause{}, false
}

// Ingest appends clauses. The new set is persisted first; the readers see it
// only once the write succeeded.
func (s *ClauseStore) Ingest(ctx context.Context, clauses []types.Clause) error {
	if err := validateClauses(clauses); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.current().all
	next := make([]types.Clause, 0, len(cur)+len(clauses))
	next = append(next, cur...)
	next = append(next, clauses...)
	return s.commitLocked(ctx, "ingest", next)
}

// Replace swaps the whole corpus under the same write-then-commit discipline.
func (s *ClauseStore) Replace(ctx context.Context, clauses []types.Clause) error {
	if err := validateClauses(clauses); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.commitLocked(ctx, "replace", append([]types.Clause(nil), clauses...))
}

func (s *ClauseStore) commitLocked(ctx context.Context, op string, next []types.Clause) error {
	if s.persister != nil {
		if err := s.persister.Replace(ctx, next); err != nil {
			return &types.StorageError{Op: op, Err: err}
		}
	}
	s.snap.Store(buildClauseSnapshot(next))
	return nil
}

func validateClauses(clauses []types.Clause) error {
	var errs []error
	for i, c := range clauses {
		if err := c.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("clause[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (s *ClauseStore) Len() int { return len(s.current().all) }

func (s *ClauseStore) All() []types.Clause {
	return append([]types.Clause(nil), s.current().all...)
}

func (s *ClauseStore) ByLabel(sensitivity types.Sensitivity) []types.Clause {
	var out []types.Clause
	for _, c := range s.current().all {
		if c.Sensitivity == sensitivity {
			out = append(out, c)
		}
	}
	return out
}

// Search returns clauses containing any word of query. Protected clauses are
// only considered when includeProtected is set.
func (s *ClauseStore) Search(query string, includeProtected bool) []types.Clause {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return nil
	}
	var out []types.Clause
	for _, c := range s.current().all {
		if c.IsProtected() && !includeProtected {
			continue
		}
		text := strings.ToLower(c.Text)
		for _, w := range words {
			if strings.Contains(text, w) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Documents summarizes the corpus per source document, sorted by filename.
func (s *ClauseStore) Documents() []types.DocumentSummary {
	byName := map[string]*types.DocumentSummary{}
	for _, c := range s.current().all {
		name := c.SourceDocument
		if name == "" {
			name = "unknown"
		}
		d, ok := byName[name]
		if !ok {
			d = &types.DocumentSummary{Filename: name}
			byName[name] = d
		}
		d.ClausesCount++
		if c.IsProtected() {
			d.ProtectedCount++
		} else {
			d.PublicCount++
		}
		if c.CreatedAt.After(d.LastIngestedAt) {
			d.LastIngestedAt = c.CreatedAt
		}
	}
	out := make([]types.DocumentSummary, 0, len(byName))
	for _, d := range byName {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}
