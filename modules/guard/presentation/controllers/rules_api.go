package controllers

import (
	"context"
	"net/http"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

type ruleReloader interface {
	Reload(ctx context.Context, actor string) ([]string, error)
}

type ruleLister interface {
	Rules() []types.PolicyRule
}

type RulesController struct {
	Reloader  ruleReloader
	Rules     ruleLister
	Principal PrincipalGetter
}

// HandleRulesAPI lists the active rules in evaluation order.
func (c RulesController) HandleRulesAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	rules := c.Rules.Rules()
	if rules == nil {
		rules = make([]types.PolicyRule, 0)
	}
	writeJSON(w, map[string]any{"rules": rules})
}

func (c RulesController) HandleRulesReloadAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	names, err := c.Reloader.Reload(r.Context(), principalOf(r.Context(), c.Principal).ID)
	if err != nil {
		if types.IsPolicyConfigError(err) {
			writeServiceError(w, r, err)
			return
		}
		writeError(w, r, http.StatusInternalServerError, "reload_failed", "reload failed")
		return
	}
	writeJSON(w, map[string]any{"reloaded": true, "rules": names})
}
