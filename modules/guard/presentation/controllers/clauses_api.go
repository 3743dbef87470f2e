package controllers

import (
	"net/http"
	"strings"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
	"github.com/jacksonlee411/Confidra/pkg/authz"
	"github.com/jacksonlee411/Confidra/pkg/httperr"
)

type clauseReader interface {
	All() []types.Clause
	ByLabel(sensitivity types.Sensitivity) []types.Clause
	Search(query string, includeProtected bool) []types.Clause
}

type ClausesController struct {
	Clauses clauseReader
	Can     PermissionChecker
}

// HandleClausesAPI filters by sensitivity and keyword. Protected clauses only
// appear for callers holding guard.clauses.protected.
func (c ClausesController) HandleClausesAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var label types.Sensitivity
	if raw := strings.TrimSpace(r.URL.Query().Get("sensitivity")); raw != "" {
		s, err := types.ParseSensitivity(raw)
		if err != nil {
			writeServiceError(w, r, httperr.NewBadRequest(err.Error()))
			return
		}
		label = s
	}
	canSeeProtected := c.Can != nil && c.Can(r.Context(), authz.ObjectGuardClausesProtected, authz.ActionRead)
	if label == types.SensitivityProtected && !canSeeProtected {
		writeServiceError(w, r, httperr.NewForbidden(authz.ObjectGuardClausesProtected))
		return
	}

	var out []types.Clause
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		for _, cl := range c.Clauses.Search(q, canSeeProtected) {
			if label == "" || cl.Sensitivity == label {
				out = append(out, cl)
			}
		}
	} else if label != "" {
		out = c.Clauses.ByLabel(label)
	} else if canSeeProtected {
		out = c.Clauses.All()
	} else {
		out = c.Clauses.ByLabel(types.SensitivityPublic)
	}
	if out == nil {
		out = make([]types.Clause, 0)
	}
	writeJSON(w, map[string]any{"clauses": out, "count": len(out)})
}
