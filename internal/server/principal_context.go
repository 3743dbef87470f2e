package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/jacksonlee411/Confidra/modules/guard/presentation/controllers"
	"github.com/jacksonlee411/Confidra/pkg/authz"
)

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
)

type Principal struct {
	ID   string
	Role string
}

type principalContextKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

func currentPrincipal(ctx context.Context) (Principal, bool) {
	v := ctx.Value(principalContextKey{})
	if v == nil {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

func controllerPrincipal(ctx context.Context) (controllers.Principal, bool) {
	p, ok := currentPrincipal(ctx)
	return controllers.Principal{ID: p.ID, Role: p.Role}, ok
}

// withPrincipalHeaders trusts identity headers set by the fronting gateway.
// Unknown roles collapse to anonymous.
func withPrincipalHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := strings.TrimSpace(strings.ToLower(r.Header.Get(headerUserRole)))
		if !authz.KnownRole(role) {
			role = authz.RoleAnonymous
		}
		p := Principal{
			ID:   strings.TrimSpace(r.Header.Get(headerUserID)),
			Role: role,
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}
