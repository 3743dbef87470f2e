package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/jacksonlee411/Confidra/internal/routing"
	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
	"github.com/jacksonlee411/Confidra/pkg/httperr"
)

const maxBodyBytes = 4 << 20

// Principal is the caller identity resolved by the server middleware.
type Principal struct {
	ID   string
	Role string
}

type PrincipalGetter func(ctx context.Context) (Principal, bool)

// PermissionChecker answers fine-grained checks made inside a handler.
type PermissionChecker func(ctx context.Context, object string, action string) bool

func principalOf(ctx context.Context, get PrincipalGetter) Principal {
	if get == nil {
		return Principal{}
	}
	p, _ := get(ctx)
	return p
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return false
	}
	return true
}

// writeServiceError maps service failures onto the envelope. Anything
// unclassified, pipeline failures included, is an opaque internal_error.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case httperr.IsBadRequest(err):
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case httperr.IsForbidden(err):
		writeError(w, r, http.StatusForbidden, "forbidden", "forbidden")
	case types.IsPolicyConfigError(err):
		writeError(w, r, http.StatusUnprocessableEntity, "invalid_policy", err.Error())
	case types.IsStorageError(err):
		writeError(w, r, http.StatusInternalServerError, "storage_error", "storage error")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string) {
	routing.WriteJSON(w, status, routing.ErrorEnvelope{
		Code:    code,
		Message: message,
		TraceID: routing.TraceIDFromRequest(r),
		Meta: routing.ErrorEnvelopeMeta{
			Path:   r.URL.Path,
			Method: r.Method,
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	routing.WriteJSON(w, http.StatusOK, v)
}
