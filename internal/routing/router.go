package routing

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"sort"

	"github.com/rs/zerolog"
)

type Router struct {
	classifier *Classifier
	logger     zerolog.Logger
	routes     map[string]map[string]routeEntry
}

type routeEntry struct {
	rc      RouteClass
	handler http.Handler
}

func NewRouter(classifier *Classifier, logger zerolog.Logger) *Router {
	return &Router{
		classifier: classifier,
		logger:     logger,
		routes:     make(map[string]map[string]routeEntry),
	}
}

// Handle registers h. Panics in h become a 500 internal_error envelope and
// are logged with their stack.
func (r *Router) Handle(rc RouteClass, method string, path string, h http.Handler) {
	if r.routes[path] == nil {
		r.routes[path] = make(map[string]routeEntry)
	}

	r.routes[path][method] = routeEntry{
		rc: rc,
		handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error().
						Str("path", req.URL.Path).
						Str("method", req.Method).
						Str("panic", fmt.Sprint(rec)).
						Bytes("stack", debug.Stack()).
						Msg("handler panic")
					WriteError(w, req, rc, http.StatusInternalServerError, "internal_error", "internal error")
				}
			}()
			h.ServeHTTP(w, req)
		}),
	}
}

// Unlisted returns registered "METHOD path" pairs the allowlist does not
// declare. The server refuses to start when it is non-empty.
func (r *Router) Unlisted() []string {
	var out []string
	for path, methods := range r.routes {
		for method := range methods {
			if !r.classifier.Allows(method, path) {
				out = append(out, method+" "+path)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	methods, ok := r.routes[req.URL.Path]
	if !ok {
		WriteError(w, req, r.classifier.Classify(req.URL.Path), http.StatusNotFound, "not_found", "not found")
		return
	}
	entry, ok := methods[req.Method]
	if !ok {
		WriteError(w, req, entrypointClass(methods, r.classifier.Classify(req.URL.Path)), http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	entry.handler.ServeHTTP(w, req)
}

func entrypointClass(methods map[string]routeEntry, fallback RouteClass) RouteClass {
	for _, e := range methods {
		return e.rc
	}
	return fallback
}
