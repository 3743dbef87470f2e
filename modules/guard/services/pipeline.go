package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/ports"
	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
	"github.com/jacksonlee411/Confidra/pkg/uuidv7"
)

const overlapReasonRunes = 40

// ErrInternal is the only failure a caller of Ask ever sees.
var ErrInternal = errors.New("internal error")

// PipelineError hides the collaborator failure behind ErrInternal. Unwrap
// exposes the cause for operator logs.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string        { return ErrInternal.Error() }
func (e *PipelineError) Is(target error) bool { return target == ErrInternal }
func (e *PipelineError) Unwrap() error        { return e.Err }

type PipelineOptions struct {
	ClassifyTimeout time.Duration
	GenerateTimeout time.Duration
	AuditTimeout    time.Duration
	Now             func() time.Time
	Logger          zerolog.Logger
}

func DefaultPipelineOptions() PipelineOptions {
	return PipelineOptions{
		ClassifyTimeout: 15 * time.Second,
		GenerateTimeout: 30 * time.Second,
		AuditTimeout:    5 * time.Second,
		Now:             time.Now,
		Logger:          zerolog.Nop(),
	}
}

// Pipeline runs one guarded question through pre-guard classification,
// public-only generation and the post-guard scan. Stages run strictly in
// order and every run ends with exactly one audit event.
type Pipeline struct {
	classifier ports.Classifier
	generator  ports.Generator
	clauses    *ClauseStore
	rules      *RuleEngine
	sink       ports.AuditSink
	opts       PipelineOptions
}

func NewPipeline(classifier ports.Classifier, generator ports.Generator, clauses *ClauseStore, rules *RuleEngine, sink ports.AuditSink, opts PipelineOptions) (*Pipeline, error) {
	switch {
	case classifier == nil:
		return nil, errors.New("pipeline: classifier is required")
	case generator == nil:
		return nil, errors.New("pipeline: generator is required")
	case clauses == nil:
		return nil, errors.New("pipeline: clause store is required")
	case rules == nil:
		return nil, errors.New("pipeline: rule engine is required")
	case sink == nil:
		return nil, errors.New("pipeline: audit sink is required")
	}
	def := DefaultPipelineOptions()
	if opts.ClassifyTimeout <= 0 {
		opts.ClassifyTimeout = def.ClassifyTimeout
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = def.GenerateTimeout
	}
	if opts.AuditTimeout <= 0 {
		opts.AuditTimeout = def.AuditTimeout
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	return &Pipeline{
		classifier: classifier,
		generator:  generator,
		clauses:    clauses,
		rules:      rules,
		sink:       sink,
		opts:       opts,
	}, nil
}

func (p *Pipeline) Clauses() *ClauseStore { return p.clauses }
func (p *Pipeline) Rules() *RuleEngine    { return p.rules }

type askRun struct {
	req   types.AskRequest
	state types.PipelineState
}

func (r *askRun) payload(extra map[string]any) map[string]any {
	out := map[string]any{
		"user":  r.req.UserID,
		"query": r.req.Query,
		"state": string(r.state),
	}
	if r.req.ClaimedUserID != "" {
		out["claimed_user"] = r.req.ClaimedUserID
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (p *Pipeline) Ask(ctx context.Context, req types.AskRequest) (types.AskResponse, error) {
	run := &askRun{req: req, state: types.StateInit}
	log := p.opts.Logger.With().Str("user", req.UserID).Logger()

	decision, err := p.classify(ctx, req.Query)
	if err != nil {
		return p.fail(ctx, run, "classify", err)
	}
	run.state = types.StateClassified

	if decision.Label.Blocks() {
		refusal, err := p.refuse(ctx, "Query classified as "+string(decision.Label))
		if err != nil {
			return p.fail(ctx, run, "refuse", err)
		}
		run.state = types.StateBlockedPre
		p.record(ctx, types.EventBlockedPre, run.payload(map[string]any{"decision": decision}))
		log.Info().Str("verdict", string(types.EventBlockedPre)).Str("label", string(decision.Label)).Msg("guard verdict")
		return types.AskResponse{
			Action:     types.ScanActionBlocked,
			Reason:     "Pre-guard: " + string(decision.Label),
			SafeOutput: refusal,
			Evidence:   map[string]any{"decision": decision},
		}, nil
	}

	publicContext := p.clauses.PublicContext()
	run.state = types.StateContextBuilt

	answer, err := p.generate(ctx, publicContext, req.Query)
	if err != nil {
		return p.fail(ctx, run, "generate", err)
	}
	run.state = types.StateGenerated

	scan := p.scan(answer, req)
	run.state = types.StateScanned

	switch scan.Action {
	case types.ScanActionBlocked:
		refusal, err := p.refuse(ctx, scan.Reason)
		if err != nil {
			return p.fail(ctx, run, "refuse", err)
		}
		run.state = types.StateBlockedPost
		p.record(ctx, types.EventBlockedPost, run.payload(map[string]any{
			"reason":     scan.Reason,
			"evidence":   scan.Evidence,
			"raw_answer": answer,
		}))
		log.Info().Str("verdict", string(types.EventBlockedPost)).Str("reason", scan.Reason).Msg("guard verdict")
		return types.AskResponse{
			Action:     types.ScanActionBlocked,
			Reason:     scan.Reason,
			SafeOutput: refusal,
			Evidence:   scan.Evidence,
		}, nil
	case types.ScanActionRedacted:
		run.state = types.StateRedacted
		p.record(ctx, types.EventRedacted, run.payload(map[string]any{
			"reason":      scan.Reason,
			"evidence":    scan.Evidence,
			"raw_answer":  answer,
			"safe_output": scan.SafeOutput,
		}))
		log.Info().Str("verdict", string(types.EventRedacted)).Str("reason", scan.Reason).Msg("guard verdict")
		return types.AskResponse{
			Action:     types.ScanActionRedacted,
			Reason:     scan.Reason,
			SafeOutput: scan.SafeOutput,
			Evidence:   scan.Evidence,
		}, nil
	default:
		run.state = types.StatePassed
		p.record(ctx, types.EventPass, run.payload(nil))
		log.Info().Str("verdict", string(types.EventPass)).Msg("guard verdict")
		return types.AskResponse{
			Action:     types.ScanActionPass,
			Reason:     "OK",
			SafeOutput: answer,
			Evidence:   map[string]any{},
		}, nil
	}
}

// scan applies the overlap check before the rule list.
func (p *Pipeline) scan(answer string, req types.AskRequest) types.ScanResult {
	if clause, ok := p.clauses.ContainsOverlap(answer); ok {
		return types.ScanResult{
			Action:   types.ScanActionBlocked,
			Reason:   "NDA overlap: " + types.TruncateRunes(clause.Text, overlapReasonRunes),
			Evidence: map[string]any{"check": "overlap", "clause_type": string(clause.Type)},
		}
	}
	return p.rules.EvaluateWith(answer, types.Attributes{
		UserID:   req.UserID,
		UserRole: req.UserRole,
		Stage:    types.StagePost,
	})
}

func (p *Pipeline) classify(ctx context.Context, query string) (types.Decision, error) {
	cctx, cancel := context.WithTimeout(ctx, p.opts.ClassifyTimeout)
	defer cancel()

	decision, err := p.classifier.Classify(cctx, query)
	if err != nil {
		ce, ok := errors.AsType[*types.ClassificationError](err)
		if !ok {
			return types.Decision{}, err
		}
		p.opts.Logger.Debug().Err(err).Msg("classifier output unparseable, falling back")
		if !decision.Label.Valid() {
			decision = types.FallbackDecision(ce.Raw)
		}
	}
	if !decision.Label.Valid() {
		decision = types.FallbackDecision(string(decision.Label))
	}
	return decision, nil
}

func (p *Pipeline) generate(ctx context.Context, publicContext string, query string) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, p.opts.GenerateTimeout)
	defer cancel()

	answer, err := p.generator.Generate(gctx, publicContext, query)
	if err != nil {
		return "", asGenerationError("generate", err)
	}
	return answer, nil
}

func (p *Pipeline) refuse(ctx context.Context, reason string) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, p.opts.GenerateTimeout)
	defer cancel()

	msg, err := p.generator.PoliteRefusal(gctx, reason)
	if err != nil {
		return "", asGenerationError("polite_refusal", err)
	}
	return msg, nil
}

func asGenerationError(op string, err error) error {
	if types.IsGenerationError(err) {
		return err
	}
	return &types.GenerationError{Op: op, Err: err}
}

func (p *Pipeline) fail(ctx context.Context, run *askRun, stage string, cause error) (types.AskResponse, error) {
	failedAt := run.state
	run.state = types.StateError
	p.record(ctx, types.EventError, run.payload(map[string]any{
		"stage":     stage,
		"failed_at": string(failedAt),
		"error":     cause.Error(),
	}))
	p.opts.Logger.Error().Err(cause).Str("stage", stage).Str("user", run.req.UserID).Msg("guard pipeline failed")
	return types.AskResponse{}, &PipelineError{Stage: stage, Err: cause}
}

// record writes one audit event on a context detached from the request so a
// cancelled caller still leaves a trail. Sink failures are only logged.
func (p *Pipeline) record(ctx context.Context, typ types.EventType, payload map[string]any) {
	event, err := NewAuditEvent(typ, payload, p.opts.Now())
	if err != nil {
		p.opts.Logger.Warn().Err(err).Str("event_type", string(typ)).Msg("audit event id unavailable")
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.AuditTimeout)
	defer cancel()
	if err := p.sink.Record(actx, event); err != nil {
		p.opts.Logger.Warn().Err(err).Str("event_type", string(typ)).Str("event_id", event.ID).Msg("audit sink record failed")
	}
}

// NewAuditEvent stamps an event. The event is usable even when the id could not
// be generated.
func NewAuditEvent(typ types.EventType, payload map[string]any, at time.Time) (types.AuditEvent, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	id, err := uuidv7.NewStringAt(at)
	return types.AuditEvent{ID: id, Type: typ, Timestamp: at.UTC(), Payload: payload}, err
}
