package types

type ScanAction string

const (
	ScanActionPass     ScanAction = "pass"
	ScanActionBlocked  ScanAction = "blocked"
	ScanActionRedacted ScanAction = "redacted"
)

// RedactionMarker replaces every redacted occurrence.
const RedactionMarker = "[REDACTED]"

// ScanResult is the post-guard verdict for one generated answer.
type ScanResult struct {
	Action     ScanAction     `json:"action"`
	Reason     string         `json:"reason"`
	SafeOutput string         `json:"safe_output,omitempty"`
	Evidence   map[string]any `json:"evidence,omitempty"`
}
