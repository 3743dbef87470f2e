package server

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/jacksonlee411/Confidra/internal/routing"
	"github.com/jacksonlee411/Confidra/pkg/authz"
)

func loadAuthorizer(cfg AuthzConfig) (*authz.Authorizer, error) {
	modelPath := cfg.ModelPath
	if modelPath == "" {
		p, err := findUp("config/access/model.conf")
		if err != nil {
			return nil, err
		}
		modelPath = p
	}

	policyPath := cfg.PolicyPath
	if policyPath == "" {
		p, err := findUp("config/access/policy.csv")
		if err != nil {
			return nil, err
		}
		policyPath = p
	}

	mode, err := authz.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	return authz.NewAuthorizer(modelPath, policyPath, mode)
}

type authorizer interface {
	Authorize(subject string, object string, action string) (allowed bool, enforced bool, err error)
}

func withAuthz(classifier *routing.Classifier, a authorizer, logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		rc := routing.RouteClassOps
		if classifier != nil {
			rc = classifier.Classify(path)
		}

		object, action, shouldCheck := authzRequirementForRoute(r.Method, path)
		if !shouldCheck {
			next.ServeHTTP(w, r)
			return
		}

		role := authz.RoleAnonymous
		if p, ok := currentPrincipal(r.Context()); ok {
			role = p.Role
		}
		subject := authz.SubjectFromRole(role)

		allowed, enforced, err := a.Authorize(subject, object, action)
		if err != nil {
			logger.Error().Err(err).Str("subject", subject).Str("object", object).Msg("authz error")
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "authz_error", "authz error")
			return
		}
		if !allowed {
			logger.Warn().
				Str("subject", subject).
				Str("object", object).
				Str("action", action).
				Bool("enforced", enforced).
				Msg("authz denied")
			if enforced {
				routing.WriteError(w, r, rc, http.StatusForbidden, "forbidden", "forbidden")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func authzRequirementForRoute(method string, path string) (object string, action string, ok bool) {
	switch path {
	case "/api/v1/ask":
		if method == http.MethodPost {
			return authz.ObjectGuardAsk, authz.ActionWrite, true
		}
	case "/api/v1/documents":
		switch method {
		case http.MethodGet:
			return authz.ObjectGuardDocuments, authz.ActionRead, true
		case http.MethodPost:
			return authz.ObjectGuardDocuments, authz.ActionWrite, true
		}
	case "/guard/api/rules":
		if method == http.MethodGet {
			return authz.ObjectGuardRules, authz.ActionRead, true
		}
	case "/guard/api/rules/reload":
		if method == http.MethodPost {
			return authz.ObjectGuardRules, authz.ActionAdmin, true
		}
	case "/guard/api/events":
		if method == http.MethodGet {
			return authz.ObjectGuardEvents, authz.ActionRead, true
		}
	case "/guard/api/clauses":
		if method == http.MethodGet {
			return authz.ObjectGuardClauses, authz.ActionRead, true
		}
	}
	return "", "", false
}

// permissionChecker backs in-handler checks. Shadow mode never narrows
// results, matching the route-level behavior.
func permissionChecker(a authorizer) func(ctx context.Context, object string, action string) bool {
	return func(ctx context.Context, object string, action string) bool {
		role := authz.RoleAnonymous
		if p, ok := currentPrincipal(ctx); ok {
			role = p.Role
		}
		allowed, enforced, err := a.Authorize(authz.SubjectFromRole(role), object, action)
		if err != nil {
			return false
		}
		return allowed || !enforced
	}
}
