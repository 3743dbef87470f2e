package ports

import (
	"context"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

// ClausePersister durably stores the whole clause set. Replace must be atomic:
// after a failed Replace the previously stored set is still the one Load returns.
type ClausePersister interface {
	Load(ctx context.Context) ([]types.Clause, error)
	Replace(ctx context.Context, clauses []types.Clause) error
}
