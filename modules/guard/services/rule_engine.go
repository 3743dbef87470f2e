package services

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/google/cel-go/cel"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

const regexPatternPrefix = "re:"

var newRuleCELEnv = func() (*cel.Env, error) {
	return cel.NewEnv(cel.Variable("ctx", cel.MapType(cel.StringType, cel.StringType)))
}

// RuleEngine scans generated text against an ordered rule list.
//
// Evaluation is first-match-wins: rules are tried in declaration order, and
// within a rule its patterns in declaration order. The first pattern that
// matches decides the verdict, so reordering rules changes the outcome when
// a block rule and a redact rule match the same text.
type RuleEngine struct {
	set atomic.Pointer[ruleSet]
}

type ruleSet struct {
	rules []compiledRule
}

type compiledRule struct {
	rule     types.PolicyRule
	patterns []compiledPattern
	when     cel.Program
}

type compiledPattern struct {
	source string
	re     *regexp.Regexp
}

func NewRuleEngine(rules []types.PolicyRule) (*RuleEngine, error) {
	set, err := compileRuleSet(rules)
	if err != nil {
		return nil, err
	}
	e := &RuleEngine{}
	e.set.Store(set)
	return e, nil
}

// Reload compiles rules completely before swapping them in. On error the
// active set is left untouched.
func (e *RuleEngine) Reload(rules []types.PolicyRule) error {
	set, err := compileRuleSet(rules)
	if err != nil {
		return err
	}
	e.set.Store(set)
	return nil
}

func (e *RuleEngine) Rules() []types.PolicyRule {
	set := e.set.Load()
	out := make([]types.PolicyRule, 0, len(set.rules))
	for _, r := range set.rules {
		out = append(out, r.rule)
	}
	return out
}

// Evaluate treats every rule as eligible regardless of its condition.
func (e *RuleEngine) Evaluate(text string) types.ScanResult {
	return e.evaluate(text, nil)
}

// EvaluateWith skips rules whose condition is false for attrs. A condition
// that fails to evaluate leaves the rule eligible.
func (e *RuleEngine) EvaluateWith(text string, attrs types.Attributes) types.ScanResult {
	vars := map[string]any{"ctx": attrs.Map()}
	return e.evaluate(text, vars)
}

func (e *RuleEngine) evaluate(text string, vars map[string]any) types.ScanResult {
	for _, r := range e.set.Load().rules {
		if vars != nil && !r.eligible(vars) {
			continue
		}
		for _, p := range r.patterns {
			if !p.re.MatchString(text) {
				continue
			}
			evidence := map[string]any{"rule": r.rule.Name, "pattern": p.source}
			if r.rule.Action == types.PolicyActionBlock {
				return types.ScanResult{
					Action:   types.ScanActionBlocked,
					Reason:   fmt.Sprintf("Policy %s matched", r.rule.Name),
					Evidence: evidence,
				}
			}
			return types.ScanResult{
				Action:     types.ScanActionRedacted,
				Reason:     fmt.Sprintf("Redacted %s", r.rule.Name),
				SafeOutput: p.re.ReplaceAllLiteralString(text, types.RedactionMarker),
				Evidence:   evidence,
			}
		}
	}
	return types.ScanResult{Action: types.ScanActionPass, Reason: "No violation"}
}

func (r compiledRule) eligible(vars map[string]any) bool {
	if r.when == nil {
		return true
	}
	out, _, err := r.when.Eval(vars)
	if err != nil {
		return true
	}
	v, ok := out.Value().(bool)
	if !ok {
		return true
	}
	return v
}

func compileRuleSet(rules []types.PolicyRule) (*ruleSet, error) {
	var env *cel.Env
	seen := make(map[string]struct{}, len(rules))
	set := &ruleSet{rules: make([]compiledRule, 0, len(rules))}
	for i, rule := range rules {
		rule.Name = strings.TrimSpace(rule.Name)
		if rule.Name == "" {
			return nil, &types.PolicyConfigError{Msg: fmt.Sprintf("rule[%d] name is required", i)}
		}
		if _, dup := seen[rule.Name]; dup {
			return nil, &types.PolicyConfigError{Rule: rule.Name, Msg: "duplicate rule name"}
		}
		seen[rule.Name] = struct{}{}
		if !rule.Action.Valid() {
			return nil, &types.PolicyConfigError{Rule: rule.Name, Msg: fmt.Sprintf("unknown action %q", rule.Action)}
		}
		if len(rule.Match) == 0 {
			return nil, &types.PolicyConfigError{Rule: rule.Name, Msg: "at least one match pattern is required"}
		}

		cr := compiledRule{rule: rule}
		for _, src := range rule.Match {
			re, err := compilePattern(src)
			if err != nil {
				return nil, &types.PolicyConfigError{Rule: rule.Name, Msg: fmt.Sprintf("pattern %q", src), Err: err}
			}
			if rule.Action == types.PolicyActionRedact && overlapsMarker(src, re) {
				return nil, &types.PolicyConfigError{Rule: rule.Name, Msg: fmt.Sprintf("pattern %q matches the redaction marker", src)}
			}
			cr.patterns = append(cr.patterns, compiledPattern{source: src, re: re})
		}

		if expr := strings.TrimSpace(rule.When); expr != "" {
			if env == nil {
				var err error
				if env, err = newRuleCELEnv(); err != nil {
					return nil, &types.PolicyConfigError{Rule: rule.Name, Msg: "cel env", Err: err}
				}
			}
			program, err := compileCondition(env, expr)
			if err != nil {
				return nil, &types.PolicyConfigError{Rule: rule.Name, Msg: "when", Err: err}
			}
			cr.when = program
		}
		set.rules = append(set.rules, cr)
	}
	return set, nil
}

func compilePattern(src string) (*regexp.Regexp, error) {
	if strings.TrimSpace(src) == "" {
		return nil, errors.New("empty pattern")
	}
	if expr, ok := strings.CutPrefix(src, regexPatternPrefix); ok {
		if strings.TrimSpace(expr) == "" {
			return nil, errors.New("empty regular expression")
		}
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, err
		}
		if re.MatchString("") {
			return nil, errors.New("regular expression matches empty text")
		}
		return re, nil
	}
	return regexp.Compile("(?i)" + regexp.QuoteMeta(src))
}

// overlapsMarker reports whether a redact pattern can match text that
// overlaps an inserted marker, so a second pass would redact again. Literal
// patterns are checked exactly; regular expressions are tried against the
// marker with every pair of printable ASCII neighbours.
func overlapsMarker(src string, re *regexp.Regexp) bool {
	marker := types.RedactionMarker
	if _, isRegex := strings.CutPrefix(src, regexPatternPrefix); !isRegex {
		p, m := strings.ToLower(src), strings.ToLower(marker)
		if strings.Contains(m, p) || strings.Contains(p, m) {
			return true
		}
		for i := 1; i < len(m); i++ {
			if strings.HasPrefix(p, m[i:]) || strings.HasSuffix(p, m[:i]) {
				return true
			}
		}
		return false
	}

	if matchesWithin(re, marker+marker, 0, 2*len(marker)) || matchesWithin(re, marker+" "+marker, 0, 2*len(marker)+1) {
		return true
	}
	for c := byte(' '); c <= '~'; c++ {
		for d := byte(' '); d <= '~'; d++ {
			if matchesWithin(re, string(c)+marker+string(d), 1, 1+len(marker)) {
				return true
			}
		}
	}
	return false
}

// matchesWithin reports whether any match of re, starting anywhere before
// hi, overlaps s[lo:hi].
func matchesWithin(re *regexp.Regexp, s string, lo, hi int) bool {
	for i := 0; i < hi; i++ {
		loc := re.FindStringIndex(s[i:])
		if loc == nil {
			return false
		}
		if start, end := i+loc[0], i+loc[1]; start < hi && end > lo {
			return true
		}
	}
	return false
}

func compileCondition(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.New("expression output type must be bool")
	}
	return env.Program(ast)
}
