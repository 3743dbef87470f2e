package llm

import (
	"context"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

const (
	NotAvailableSentinel = "This information is protected or not available."

	generatorSystemPrompt = `You are a contract assistant. Answer ONLY from the provided context. If the information appears protected or not present in context, say: "` + NotAvailableSentinel + `" Never invent details.`
	refusalSystemPrompt   = "Rewrite a polite, compliance-approved message explaining why content cannot be disclosed."

	refusalTemperature = 0.2
)

// Generator answers from the supplied public context only. The restriction
// lives in the prompt; the post-guard scan is what enforces it.
type Generator struct {
	client completer
}

func NewGenerator(client completer) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Generate(ctx context.Context, publicContext string, query string) (string, error) {
	out, err := g.client.Complete(ctx, []Message{
		{Role: "system", Content: generatorSystemPrompt},
		{Role: "user", Content: "Context:\n" + publicContext + "\n\nQuestion: " + query},
	}, 0)
	if err != nil {
		return "", &types.GenerationError{Op: "generate", Err: err}
	}
	return out, nil
}

func (g *Generator) PoliteRefusal(ctx context.Context, reason string) (string, error) {
	out, err := g.client.Complete(ctx, []Message{
		{Role: "system", Content: refusalSystemPrompt},
		{Role: "user", Content: "Reason: " + reason},
	}, refusalTemperature)
	if err != nil {
		return "", &types.GenerationError{Op: "polite_refusal", Err: err}
	}
	return out, nil
}
