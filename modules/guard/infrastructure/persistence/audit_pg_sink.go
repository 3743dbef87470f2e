package persistence

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

type AuditPGSink struct {
	pool pgBeginner
}

func NewAuditPGSink(pool pgBeginner) *AuditPGSink {
	return &AuditPGSink{pool: pool}
}

func (s *AuditPGSink) Record(ctx context.Context, event types.AuditEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `
	INSERT INTO guard.audit_events (event_id, event_type, occurred_at, payload)
	VALUES ($1::uuid, $2, $3, $4::jsonb)
	ON CONFLICT (event_id) DO NOTHING
	`, event.ID, string(event.Type), event.Timestamp, payload); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *AuditPGSink) Recent(ctx context.Context, limit int) ([]types.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rows, err := tx.Query(ctx, `
	SELECT event_id::text, event_type, occurred_at, payload
	FROM guard.audit_events
	ORDER BY occurred_at DESC, event_id DESC
	LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.AuditEvent{}
	for rows.Next() {
		var e types.AuditEvent
		var eventType string
		var payload []byte
		if err := rows.Scan(&e.ID, &eventType, &e.Timestamp, &payload); err != nil {
			return nil, err
		}
		e.Type = types.EventType(eventType)
		e.Timestamp = e.Timestamp.UTC()
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}
