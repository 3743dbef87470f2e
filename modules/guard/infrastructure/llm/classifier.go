package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

const classifierSystemPrompt = `You are a compliance classifier. Given a user query about contracts, label as JSON: {"label":"safe|sensitive|exfiltration","severity":"low|medium|high","reasons":["..."]}. Sensitive = requests for penalties, discounts, NDA-protected terms. Exfiltration = requests to dump full text, list all clauses, verbatim output.`

// Classifier labels queries with a chat model. Unparseable model output is
// absorbed into the safe fallback decision; transport errors are returned.
type Classifier struct {
	client completer
	logger zerolog.Logger
}

func NewClassifier(client completer, logger zerolog.Logger) *Classifier {
	return &Classifier{client: client, logger: logger}
}

func (c *Classifier) Classify(ctx context.Context, query string) (types.Decision, error) {
	raw, err := c.client.Complete(ctx, []Message{
		{Role: "system", Content: classifierSystemPrompt},
		{Role: "user", Content: query},
	}, 0)
	if err != nil {
		return types.Decision{}, fmt.Errorf("classify: %w", err)
	}
	decision, perr := types.ParseDecision(raw)
	if perr != nil {
		c.logger.Debug().Err(perr).Msg("classifier output fell back to safe")
	}
	return decision, nil
}
