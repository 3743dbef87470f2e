package routing

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Allowlist declares every route an entrypoint may serve and its class.
type Allowlist struct {
	Version     int                   `yaml:"version"`
	Entrypoints map[string]Entrypoint `yaml:"entrypoints"`
}

type Entrypoint struct {
	Routes []Route `yaml:"routes"`
}

type Route struct {
	Path       string   `yaml:"path"`
	Methods    []string `yaml:"methods"`
	RouteClass string   `yaml:"route_class"`
}

func ParseAllowlistYAML(b []byte) (Allowlist, error) {
	var a Allowlist
	if err := yaml.Unmarshal(b, &a); err != nil {
		return Allowlist{}, err
	}
	if a.Version != 1 {
		return Allowlist{}, errors.New("allowlist: unsupported version")
	}
	if a.Entrypoints == nil {
		return Allowlist{}, errors.New("allowlist: missing entrypoints")
	}
	for name, ep := range a.Entrypoints {
		for _, r := range ep.Routes {
			if !RouteClass(r.RouteClass).Valid() {
				return Allowlist{}, fmt.Errorf("allowlist: entrypoint %s route %s: unknown route_class %q", name, r.Path, r.RouteClass)
			}
		}
	}
	return a, nil
}

func LoadAllowlist(path string) (Allowlist, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Allowlist{}, err
	}
	return ParseAllowlistYAML(b)
}

// Allows reports whether method on path is declared for the entrypoint.
func (e Entrypoint) Allows(method, path string) bool {
	for _, r := range e.Routes {
		if r.Path != path {
			continue
		}
		for _, m := range r.Methods {
			if strings.EqualFold(m, method) {
				return true
			}
		}
	}
	return false
}
