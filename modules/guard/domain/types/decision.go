package types

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

type Label string

const (
	LabelSafe         Label = "safe"
	LabelSensitive    Label = "sensitive"
	LabelExfiltration Label = "exfiltration"
)

func (l Label) Valid() bool {
	switch l {
	case LabelSafe, LabelSensitive, LabelExfiltration:
		return true
	default:
		return false
	}
}

// Blocks reports whether the pre-guard must refuse the query.
func (l Label) Blocks() bool {
	return l == LabelSensitive || l == LabelExfiltration
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	default:
		return false
	}
}

// Decision is the pre-guard classification of one query.
type Decision struct {
	Label    Label    `json:"label"`
	Severity Severity `json:"severity"`
	Reasons  []string `json:"reasons"`
}

const fallbackRawLimit = 60

// FallbackDecision is used when classifier output cannot be parsed. It keeps
// the request flowing to the post-guard scan.
func FallbackDecision(raw string) Decision {
	return Decision{
		Label:    LabelSafe,
		Severity: SeverityLow,
		Reasons:  []string{"fallback_parse:" + truncateBytes(raw, fallbackRawLimit)},
	}
}

// ParseDecision decodes classifier output. Models often wrap the JSON object
// in prose or code fences, so the outermost {...} span is decoded. On any
// failure the fallback decision is returned together with a
// *ClassificationError.
func ParseDecision(raw string) (Decision, error) {
	body := strings.TrimSpace(raw)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return FallbackDecision(raw), &ClassificationError{Op: "parse", Raw: raw, Err: errNoJSONObject}
	}

	var wire struct {
		Label    string   `json:"label"`
		Severity string   `json:"severity"`
		Reasons  []string `json:"reasons"`
	}
	if err := json.Unmarshal([]byte(body[start:end+1]), &wire); err != nil {
		return FallbackDecision(raw), &ClassificationError{Op: "parse", Raw: raw, Err: err}
	}

	label := Label(strings.ToLower(strings.TrimSpace(wire.Label)))
	if !label.Valid() {
		return FallbackDecision(raw), &ClassificationError{Op: "label", Raw: raw, Err: errUnknownLabel}
	}
	severity := Severity(strings.ToLower(strings.TrimSpace(wire.Severity)))
	if !severity.Valid() {
		severity = SeverityLow
	}
	reasons := wire.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	return Decision{Label: label, Severity: severity, Reasons: reasons}, nil
}

func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// TruncateRunes shortens s to at most n runes, marking the cut with "...".
func TruncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
