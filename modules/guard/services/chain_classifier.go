package services

import (
	"context"
	"errors"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/ports"
	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

// ChainClassifier asks each classifier in order and stops at the first one
// that labels the query as blocking. Cheap local classifiers go first.
type ChainClassifier struct {
	classifiers []ports.Classifier
}

func NewChainClassifier(classifiers ...ports.Classifier) *ChainClassifier {
	return &ChainClassifier{classifiers: classifiers}
}

func (c *ChainClassifier) Classify(ctx context.Context, query string) (types.Decision, error) {
	merged := types.Decision{Label: types.LabelSafe, Severity: types.SeverityLow, Reasons: []string{}}
	for _, cl := range c.classifiers {
		decision, err := cl.Classify(ctx, query)
		if err != nil {
			ce, ok := errors.AsType[*types.ClassificationError](err)
			if !ok {
				return types.Decision{}, err
			}
			decision = types.FallbackDecision(ce.Raw)
		}
		if decision.Label.Blocks() {
			return decision, nil
		}
		merged.Reasons = append(merged.Reasons, decision.Reasons...)
		if severityRank(decision.Severity) > severityRank(merged.Severity) {
			merged.Severity = decision.Severity
		}
	}
	return merged, nil
}

func severityRank(s types.Severity) int {
	switch s {
	case types.SeverityHigh:
		return 2
	case types.SeverityMedium:
		return 1
	default:
		return 0
	}
}
