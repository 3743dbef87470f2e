package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

const (
	DefaultAuditStream    = "guard:audit"
	defaultAuditStreamLen = 100_000
	redisEventField       = "event"
)

type redisStreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XRevRangeN(ctx context.Context, stream, start, stop string, count int64) *redis.XMessageSliceCmd
}

// RedisAuditSink appends events to a capped Redis stream so other services
// can tail the compliance trail.
type RedisAuditSink struct {
	client redisStreamClient
	stream string
	maxLen int64
}

func NewRedisAuditSink(client redisStreamClient, stream string, maxLen int64) *RedisAuditSink {
	if stream == "" {
		stream = DefaultAuditStream
	}
	if maxLen <= 0 {
		maxLen = defaultAuditStreamLen
	}
	return &RedisAuditSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisAuditSink) Record(ctx context.Context, event types.AuditEvent) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_type":    string(event.Type),
			redisEventField: string(b),
		},
	}).Err()
}

func (s *RedisAuditSink) Recent(ctx context.Context, limit int) ([]types.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	msgs, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]types.AuditEvent, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values[redisEventField].(string)
		if !ok {
			return nil, fmt.Errorf("stream %s entry %s: missing %q field", s.stream, m.ID, redisEventField)
		}
		var e types.AuditEvent
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("stream %s entry %s: %w", s.stream, m.ID, err)
		}
		out = append(out, e)
	}
	slices.Reverse(out)
	return out, nil
}
