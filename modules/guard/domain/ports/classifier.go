package ports

import (
	"context"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

// Classifier labels a raw query before any generation happens.
type Classifier interface {
	Classify(ctx context.Context, query string) (types.Decision, error)
}
