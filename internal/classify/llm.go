package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ideaforge/internal/domain"
	"ideaforge/internal/ontology"
)

// Completer is a single-shot text completion backend.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// LLMSecondary asks a language model to place text the alias tier missed.
// The answer must name a domain from ont; anything else is unresolved.
func LLMSecondary(c Completer, ont *ontology.Ontology) SecondaryFunc {
	prompt := buildPrompt(ont)
	return func(ctx context.Context, text string) (domain.RoutingResult, error) {
		if strings.TrimSpace(text) == "" {
			return fallbackResult(), nil
		}
		raw, err := c.Complete(ctx, prompt+"\nUtterance: "+text+"\n")
		if err != nil {
			return domain.RoutingResult{}, fmt.Errorf("llm classify: %w", err)
		}
		var answer struct {
			Domain     string  `json:"domain"`
			Mode       string  `json:"mode"`
			Confidence float64 `json:"confidence"`
		}
		if err := json.Unmarshal([]byte(extractJSON(raw)), &answer); err != nil {
			return domain.RoutingResult{}, fmt.Errorf("llm classify: decode %q: %w", raw, err)
		}
		return domain.RoutingResult{
			Domain:     strings.ToLower(strings.TrimSpace(answer.Domain)),
			Mode:       domain.Mode(strings.ToLower(answer.Mode)),
			Confidence: answer.Confidence,
			Method:     domain.MethodLLM,
		}, nil
	}
}

func buildPrompt(ont *ontology.Ontology) string {
	var b strings.Builder
	b.WriteString("Classify the user's utterance into exactly one domain.\n")
	b.WriteString("Domains:\n")
	for _, d := range ont.Domains {
		fmt.Fprintf(&b, "- %s (aliases: %s)\n", d.Name, strings.Join(d.Aliases, ", "))
	}
	b.WriteString("Use \"unresolved\" when no domain fits. Mode is \"action\" when the user asks for a side effect, otherwise \"info\".\n")
	b.WriteString(`Reply with JSON only: {"domain": "...", "mode": "info|action", "confidence": 0.0-1.0}`)
	return b.String()
}

// extractJSON trims code fences and prose around the first JSON object.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return raw
	}
	return raw[start : end+1]
}
