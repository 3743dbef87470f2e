package ports

import "context"

// Generator answers strictly from the supplied context. When the answer is not
// in the context it returns a fixed "not available" sentence; that contract is
// not locally enforceable, so its output is always scanned.
type Generator interface {
	Generate(ctx context.Context, publicContext string, query string) (string, error)
	PoliteRefusal(ctx context.Context, reason string) (string, error)
}
