package persistence

import (
	"context"
	"sync"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

const defaultMemoryAuditCapacity = 1000

// MemoryAuditSink keeps the most recent events in a bounded ring.
type MemoryAuditSink struct {
	mu     sync.Mutex
	buf    []types.AuditEvent
	next   int
	filled bool
}

func NewMemoryAuditSink(capacity int) *MemoryAuditSink {
	if capacity <= 0 {
		capacity = defaultMemoryAuditCapacity
	}
	return &MemoryAuditSink{buf: make([]types.AuditEvent, capacity)}
}

func (s *MemoryAuditSink) Record(ctx context.Context, event types.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf[s.next] = event
	s.next = (s.next + 1) % len(s.buf)
	if s.next == 0 {
		s.filled = true
	}
	return nil
}

// Recent returns up to limit events, oldest first.
func (s *MemoryAuditSink) Recent(ctx context.Context, limit int) ([]types.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ordered []types.AuditEvent
	if s.filled {
		ordered = append(ordered, s.buf[s.next:]...)
	}
	ordered = append(ordered, s.buf[:s.next]...)
	return tail(ordered, limit), nil
}

func tail(events []types.AuditEvent, limit int) []types.AuditEvent {
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return append([]types.AuditEvent{}, events...)
}
