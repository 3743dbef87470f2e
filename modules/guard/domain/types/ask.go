package types

// AskRequest carries the caller identity resolved by the transport. A
// user id the client put in the body is kept only as ClaimedUserID when it
// disagrees with the authenticated one.
type AskRequest struct {
	Query         string `json:"query"`
	UserID        string `json:"user_id"`
	UserRole      string `json:"-"`
	ClaimedUserID string `json:"-"`
}

type AskResponse struct {
	Action     ScanAction     `json:"action"`
	Reason     string         `json:"reason"`
	SafeOutput string         `json:"safe_output"`
	Evidence   map[string]any `json:"evidence"`
}
