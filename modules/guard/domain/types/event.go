package types

import "time"

type EventType string

const (
	EventBlockedPre     EventType = "blocked_pre"
	EventBlockedPost    EventType = "blocked_post"
	EventRedacted       EventType = "redacted"
	EventPass           EventType = "pass"
	EventError          EventType = "error"
	EventDocumentUpload EventType = "document_upload"
	EventRulesReload    EventType = "rules_reload"
)

// AuditEvent is an append-only compliance record.
type AuditEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"data"`
}

// PipelineState names the guard pipeline positions. Terminal events carry the
// state they were emitted from.
type PipelineState string

const (
	StateInit         PipelineState = "init"
	StateClassified   PipelineState = "classified"
	StateBlockedPre   PipelineState = "blocked_pre"
	StateContextBuilt PipelineState = "context_built"
	StateGenerated    PipelineState = "generated"
	StateScanned      PipelineState = "scanned"
	StateBlockedPost  PipelineState = "blocked_post"
	StateRedacted     PipelineState = "redacted"
	StatePassed       PipelineState = "passed"
	StateError        PipelineState = "error"
)
