package routing

import (
	"errors"
	"strings"
)

type RouteClass string

const (
	RouteClassOps         RouteClass = "ops"
	RouteClassPublicAPI   RouteClass = "public_api"
	RouteClassInternalAPI RouteClass = "internal_api"
)

func (rc RouteClass) Valid() bool {
	switch rc {
	case RouteClassOps, RouteClassPublicAPI, RouteClassInternalAPI:
		return true
	default:
		return false
	}
}

type Classifier struct {
	entrypoint Entrypoint
	exact      map[string]RouteClass
}

func NewClassifier(a Allowlist, entrypoint string) (*Classifier, error) {
	ep, ok := a.Entrypoints[entrypoint]
	if !ok {
		return nil, errors.New("allowlist: missing entrypoint")
	}
	if len(ep.Routes) == 0 {
		return nil, errors.New("allowlist: entrypoint routes empty")
	}

	exact := make(map[string]RouteClass, len(ep.Routes))
	for _, r := range ep.Routes {
		if r.Path == "" || r.RouteClass == "" || len(r.Methods) == 0 {
			return nil, errors.New("allowlist: invalid route")
		}
		exact[r.Path] = RouteClass(r.RouteClass)
	}
	return &Classifier{entrypoint: ep, exact: exact}, nil
}

// Classify falls back to path conventions for undeclared paths so 404s still
// get a class.
func (c *Classifier) Classify(path string) RouteClass {
	if rc, ok := c.exact[path]; ok {
		return rc
	}
	switch {
	case hasPrefixSegment(path, "/api/v1"):
		return RouteClassPublicAPI
	case isModuleInternalAPI(path):
		return RouteClassInternalAPI
	default:
		return RouteClassOps
	}
}

func (c *Classifier) Allows(method, path string) bool {
	return c.entrypoint.Allows(method, path)
}

func hasPrefixSegment(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

// isModuleInternalAPI matches /{module}/api/... with module a single segment.
func isModuleInternalAPI(path string) bool {
	if !strings.HasPrefix(path, "/") {
		return false
	}
	rest := strings.TrimPrefix(path, "/")
	module, after, ok := strings.Cut(rest, "/")
	if !ok || module == "" {
		return false
	}
	return hasPrefixSegment("/"+after, "/api")
}
