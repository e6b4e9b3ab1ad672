package describe

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini synthesizes commentary through the Gemini API. Any failure (network,
// rate limit, empty candidate) is returned to the caller, who degrades to
// Render; nothing here retries, since the template floor is always available
// and the analysis pipeline has its own timeout budget.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini builds a client from an API key. model defaults to a fast tier
// when empty; position commentary does not need a reasoning model.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Synthesize(ctx context.Context, f Facts) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt(f)), nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini generate: empty response")
	}
	return text, nil
}

// prompt grounds the model in verified facts. The template rendering is
// included verbatim so the model rephrases known-true statements instead of
// inventing lines the engine never gave.
func prompt(f Facts) string {
	var b strings.Builder
	b.WriteString("You are a live chess broadcast commentator. ")
	b.WriteString("Rewrite the following verified analysis as two or three sentences of natural, engaging commentary. ")
	b.WriteString("Do not add moves, evaluations, or games that are not in the facts.\n\n")
	fmt.Fprintf(&b, "Position (FEN): %s\n", f.Position.FEN(f.Mover))
	fmt.Fprintf(&b, "Facts: %s\n", Render(f))
	if f.HaveEngine && len(f.PV) > 1 {
		fmt.Fprintf(&b, "Expected continuation: %s\n", strings.Join(f.PV, " "))
	}
	return b.String()
}
