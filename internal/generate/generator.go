package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"ideaforge/internal/domain"
	"ideaforge/internal/engine"
)

// ErrGeneration marks a remote call that returned nothing usable.
var ErrGeneration = errors.New("generation failed")

// Offline produces placeholder artifacts without calling out. Each call is
// charged its step estimate so budgets behave as they would live.
type Offline struct{}

func (Offline) Generate(ctx context.Context, idea domain.Idea, plan engine.Plan, step engine.Step) (engine.Generation, error) {
	if err := ctx.Err(); err != nil {
		return engine.Generation{}, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s for %s (%s)\n\n", step.Artifact, plan.Name, plan.Template)
	fmt.Fprintf(&b, "Idea: %s\n", idea.Content)
	if step.Prompt != "" {
		fmt.Fprintf(&b, "\n%s\n", step.Prompt)
	}
	content := b.String()
	return engine.Generation{
		Content: content,
		Cost:    step.Estimate,
		Tokens:  (len(step.Prompt) + len(content)) / 4,
	}, nil
}

// Gemini generates artifacts with the Gemini API and prices each call from
// its reported token usage.
type Gemini struct {
	client           *genai.Client
	model            string
	inputPricePer1K  float64
	outputPricePer1K float64
}

type GeminiConfig struct {
	APIKey           string
	Model            string
	InputPricePer1K  float64
	OutputPricePer1K float64
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{
		client:           client,
		model:            cfg.Model,
		inputPricePer1K:  cfg.InputPricePer1K,
		outputPricePer1K: cfg.OutputPricePer1K,
	}, nil
}

func (g *Gemini) Generate(ctx context.Context, _ domain.Idea, _ engine.Plan, step engine.Step) (engine.Generation, error) {
	text, in, out, err := g.call(ctx, step.Prompt)
	if err != nil {
		return engine.Generation{}, err
	}
	return engine.Generation{
		Content: stripFence(text),
		Cost:    g.price(in, out),
		Tokens:  in + out,
	}, nil
}

// Complete satisfies classify.Completer.
func (g *Gemini) Complete(ctx context.Context, prompt string) (string, error) {
	text, _, _, err := g.call(ctx, prompt)
	return text, err
}

func (g *Gemini) call(ctx context.Context, prompt string) (string, int, int, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", 0, 0, fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", 0, 0, fmt.Errorf("%w: empty response from %s", ErrGeneration, g.model)
	}
	var in, out int
	if resp.UsageMetadata != nil {
		in = int(resp.UsageMetadata.PromptTokenCount)
		out = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return text, in, out, nil
}

func (g *Gemini) price(in, out int) float64 {
	return float64(in)/1000*g.inputPricePer1K + float64(out)/1000*g.outputPricePer1K
}

// stripFence removes a single surrounding markdown code fence.
func stripFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[i+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t) + "\n"
}
