package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/ports"
	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

// RuleLoader reads the current rule list from its source of truth.
type RuleLoader func() ([]types.PolicyRule, error)

type RuleReloader struct {
	// mu keeps load and swap together so a slower reload cannot install an
	// older file over a newer one.
	mu     sync.Mutex
	engine *RuleEngine
	load   RuleLoader
	sink   ports.AuditSink
	now    func() time.Time
	logger zerolog.Logger
}

func NewRuleReloader(engine *RuleEngine, load RuleLoader, sink ports.AuditSink, logger zerolog.Logger) *RuleReloader {
	return &RuleReloader{engine: engine, load: load, sink: sink, now: time.Now, logger: logger}
}

// Reload swaps in the freshly loaded rule set. Both outcomes are audited; on
// failure the active set is untouched.
func (r *RuleReloader) Reload(ctx context.Context, actor string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rules, err := r.load()
	if err == nil {
		err = r.engine.Reload(rules)
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("actor", actor).Msg("rule reload rejected")
		r.record(ctx, map[string]any{"actor": actor, "success": false, "error": err.Error()})
		return nil, err
	}

	names := make([]string, 0, len(rules))
	for _, rule := range rules {
		names = append(names, rule.Name)
	}
	r.logger.Info().Str("actor", actor).Int("rules", len(names)).Msg("rules reloaded")
	r.record(ctx, map[string]any{"actor": actor, "success": true, "rules": names})
	return names, nil
}

func (r *RuleReloader) record(ctx context.Context, payload map[string]any) {
	if r.sink == nil {
		return
	}
	event, err := NewAuditEvent(types.EventRulesReload, payload, r.now())
	if err != nil {
		r.logger.Warn().Err(err).Msg("audit event id unavailable")
	}
	if err := r.sink.Record(context.WithoutCancel(ctx), event); err != nil {
		r.logger.Warn().Err(err).Str("event_type", string(event.Type)).Msg("audit sink record failed")
	}
}
