package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

type asker interface {
	Ask(ctx context.Context, req types.AskRequest) (types.AskResponse, error)
}

type AskController struct {
	Pipeline  asker
	Principal PrincipalGetter
	Logger    zerolog.Logger
}

type askAPIRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
}

func (c AskController) HandleAskAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var req askAPIRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, http.StatusBadRequest, "missing_query", "query is required")
		return
	}

	p := principalOf(r.Context(), c.Principal)
	claimed := strings.TrimSpace(req.UserID)
	userID := p.ID
	if userID == "" {
		userID = claimed
	}
	if userID == "" {
		userID = "anonymous"
	}
	if claimed == userID {
		claimed = ""
	}

	resp, err := c.Pipeline.Ask(r.Context(), types.AskRequest{
		Query:         req.Query,
		UserID:        userID,
		UserRole:      p.Role,
		ClaimedUserID: claimed,
	})
	if err != nil {
		c.Logger.Error().Err(err).Str("user", userID).Msg("ask failed")
		writeServiceError(w, r, err)
		return
	}
	if resp.Evidence == nil {
		resp.Evidence = map[string]any{}
	}
	writeJSON(w, resp)
}
