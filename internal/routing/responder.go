package routing

import (
	"encoding/json"
	"net/http"
	"strings"
)

type ErrorEnvelope struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	TraceID string            `json:"trace_id"`
	Meta    ErrorEnvelopeMeta `json:"meta"`
}

type ErrorEnvelopeMeta struct {
	Path   string `json:"path"`
	Method string `json:"method"`
	Class  string `json:"route_class,omitempty"`
}

// WriteError writes the JSON error envelope. Every route class speaks JSON.
func WriteError(w http.ResponseWriter, r *http.Request, rc RouteClass, status int, code string, message string) {
	WriteJSON(w, status, ErrorEnvelope{
		Code:    code,
		Message: message,
		TraceID: TraceIDFromRequest(r),
		Meta: ErrorEnvelopeMeta{
			Path:   r.URL.Path,
			Method: r.Method,
			Class:  string(rc),
		},
	})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// TraceIDFromRequest extracts the W3C traceparent trace id, or "".
func TraceIDFromRequest(r *http.Request) string {
	traceparent := strings.TrimSpace(r.Header.Get("traceparent"))
	if traceparent == "" {
		return ""
	}
	parts := strings.Split(traceparent, "-")
	if len(parts) != 4 {
		return ""
	}
	traceID := strings.ToLower(parts[1])
	if len(traceID) != 32 || traceID == "00000000000000000000000000000000" {
		return ""
	}
	for _, ch := range traceID {
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return ""
		}
	}
	return traceID
}
