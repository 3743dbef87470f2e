package ports

import (
	"context"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

type AuditSink interface {
	Record(ctx context.Context, event types.AuditEvent) error
}

// AuditReader returns the most recent events, oldest first.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]types.AuditEvent, error)
}
