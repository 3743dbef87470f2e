package regoguard

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

const Query = "data.guard.preguard.decision"

//go:embed pre_guard.rego
var defaultModule string

// Classifier evaluates a Rego policy locally. It needs no network and is
// meant to sit in front of the model-backed classifier.
type Classifier struct {
	query rego.PreparedEvalQuery
}

// New compiles module. An empty module selects the built-in keyword policy.
func New(ctx context.Context, module string) (*Classifier, error) {
	if module == "" {
		module = defaultModule
	}
	pq, err := rego.New(
		rego.Query(Query),
		rego.Module("pre_guard.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, &types.PolicyConfigError{Msg: "compile pre-guard policy", Err: err}
	}
	return &Classifier{query: pq}, nil
}

func Load(ctx context.Context, path string) (*Classifier, error) {
	if path == "" {
		return New(ctx, "")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.PolicyConfigError{Msg: "read " + path, Err: err}
	}
	return New(ctx, string(b))
}

var errUndefinedDecision = errors.New("policy produced no decision")

func (c *Classifier) Classify(ctx context.Context, query string) (types.Decision, error) {
	rs, err := c.query.Eval(ctx, rego.EvalInput(map[string]any{"query": query}))
	if err != nil {
		return types.Decision{}, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return types.FallbackDecision(""), &types.ClassificationError{Op: "rego", Err: errUndefinedDecision}
	}
	raw, err := json.Marshal(rs[0].Expressions[0].Value)
	if err != nil {
		return types.FallbackDecision(""), &types.ClassificationError{Op: "rego", Err: err}
	}
	return types.ParseDecision(string(raw))
}
