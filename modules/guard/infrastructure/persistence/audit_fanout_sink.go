package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/ports"
	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

// FanoutAuditSink records every event to all sinks. One failing sink does not
// stop the others; the joined error reports each failure.
type FanoutAuditSink struct {
	sinks  []ports.AuditSink
	reader ports.AuditReader
}

// NewFanoutAuditSink reads back from the first sink that can list events.
func NewFanoutAuditSink(sinks ...ports.AuditSink) *FanoutAuditSink {
	f := &FanoutAuditSink{sinks: sinks}
	for _, s := range sinks {
		if r, ok := s.(ports.AuditReader); ok {
			f.reader = r
			break
		}
	}
	return f
}

func (f *FanoutAuditSink) Record(ctx context.Context, event types.AuditEvent) error {
	var errs []error
	for i, s := range f.sinks {
		if err := s.Record(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("audit sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (f *FanoutAuditSink) Recent(ctx context.Context, limit int) ([]types.AuditEvent, error) {
	if f.reader == nil {
		return nil, errors.New("no readable audit sink configured")
	}
	return f.reader.Recent(ctx, limit)
}

func (f *FanoutAuditSink) Readable() bool { return f.reader != nil }
