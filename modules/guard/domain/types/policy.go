package types

type PolicyAction string

const (
	PolicyActionBlock  PolicyAction = "block"
	PolicyActionRedact PolicyAction = "redact"
)

func (a PolicyAction) Valid() bool {
	return a == PolicyActionBlock || a == PolicyActionRedact
}

// PolicyRule is one entry of the ordered rule list. Match patterns are
// case-insensitive literal substrings unless prefixed with "re:", in which
// case the remainder is a regular expression. When, if set, is a CEL boolean
// expression over the request attributes.
type PolicyRule struct {
	Name   string       `json:"name" yaml:"name"`
	Match  []string     `json:"match" yaml:"match"`
	Action PolicyAction `json:"action" yaml:"action"`
	When   string       `json:"when,omitempty" yaml:"when,omitempty"`
}

// Attributes carries the request facts a rule condition may inspect.
type Attributes struct {
	UserID   string
	UserRole string
	Stage    string
}

const (
	StagePre  = "pre"
	StagePost = "post"
)

func (a Attributes) Map() map[string]string {
	stage := a.Stage
	if stage == "" {
		stage = StagePost
	}
	return map[string]string{
		"user_id":   a.UserID,
		"user_role": a.UserRole,
		"stage":     stage,
	}
}
