package generate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"ideaforge/internal/domain"
	"ideaforge/internal/engine"
)

// Artifact is one file a template produces.
type Artifact struct {
	Path        string
	Instruction string
}

// Template is a project shape the planner can pick for an idea.
type Template struct {
	Name      string
	Keywords  []string
	Requires  []string
	Artifacts []Artifact
}

// DefaultTemplates are the built-in project shapes, in match order.
func DefaultTemplates() []Template {
	return []Template{
		{
			Name:     "web",
			Keywords: []string{"website", "webapp", "site", "page", "landing", "frontend"},
			Artifacts: []Artifact{
				{Path: "index.html", Instruction: "Write the HTML entry page."},
				{Path: "style.css", Instruction: "Write the stylesheet for index.html."},
				{Path: "app.js", Instruction: "Write the client-side script for index.html."},
			},
		},
		{
			Name:     "api",
			Keywords: []string{"api", "service", "backend", "server", "endpoint"},
			Requires: []string{"storage"},
			Artifacts: []Artifact{
				{Path: "main.go", Instruction: "Write the HTTP server entry point."},
				{Path: "handlers.go", Instruction: "Write the request handlers."},
				{Path: "README.md", Instruction: "Document the endpoints and how to run the service."},
			},
		},
		{
			Name:     "cli",
			Keywords: []string{"cli", "command", "tool", "script", "terminal"},
			Artifacts: []Artifact{
				{Path: "main.go", Instruction: "Write the command-line program."},
				{Path: "README.md", Instruction: "Document usage and flags."},
			},
		},
		{
			Name:     "bot",
			Keywords: []string{"bot", "chatbot", "assistant"},
			Requires: []string{"platform"},
			Artifacts: []Artifact{
				{Path: "bot.py", Instruction: "Write the bot's main loop and message handlers."},
				{Path: "README.md", Instruction: "Document setup and required credentials."},
			},
		},
	}
}

// TemplatePlanner turns an idea into a build plan. The template comes from
// context["template"] when set, otherwise from the first template whose
// keyword appears in the content. Without a template, or with required
// context keys absent, the plan reports what is missing.
type TemplatePlanner struct {
	Templates       []Template
	CostPerArtifact float64
}

func NewTemplatePlanner(costPerArtifact float64) *TemplatePlanner {
	return &TemplatePlanner{Templates: DefaultTemplates(), CostPerArtifact: costPerArtifact}
}

func (p *TemplatePlanner) Plan(ctx context.Context, idea domain.Idea) (engine.Plan, error) {
	if err := ctx.Err(); err != nil {
		return engine.Plan{}, err
	}
	tmpl, ok, err := p.pick(idea)
	if err != nil {
		return engine.Plan{}, err
	}
	if !ok {
		return engine.Plan{Missing: []string{"template"}}, nil
	}
	plan := engine.Plan{Name: projectName(idea), Template: tmpl.Name}
	for _, key := range tmpl.Requires {
		if strings.TrimSpace(idea.Context[key]) == "" {
			plan.Missing = append(plan.Missing, key)
		}
	}
	if len(plan.Missing) > 0 {
		return plan, nil
	}
	for _, a := range tmpl.Artifacts {
		plan.Steps = append(plan.Steps, engine.Step{
			Artifact: a.Path,
			Prompt:   buildPrompt(idea, tmpl, a),
			Estimate: p.CostPerArtifact,
		})
	}
	return plan, nil
}

func (p *TemplatePlanner) pick(idea domain.Idea) (Template, bool, error) {
	if name := strings.TrimSpace(idea.Context["template"]); name != "" {
		for _, t := range p.Templates {
			if strings.EqualFold(t.Name, name) {
				return t, true, nil
			}
		}
		return Template{}, false, fmt.Errorf("unknown template %q (have %s)", name, strings.Join(p.names(), ", "))
	}
	words := map[string]bool{}
	for _, w := range strings.FieldsFunc(cases.Fold().String(idea.Content), notWord) {
		words[w] = true
	}
	for _, t := range p.Templates {
		for _, k := range t.Keywords {
			if words[k] {
				return t, true, nil
			}
		}
	}
	return Template{}, false, nil
}

func (p *TemplatePlanner) names() []string {
	out := make([]string, 0, len(p.Templates))
	for _, t := range p.Templates {
		out = append(out, t.Name)
	}
	return out
}

func buildPrompt(idea domain.Idea, tmpl Template, a Artifact) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are generating the %s project %q.\n", tmpl.Name, projectName(idea))
	fmt.Fprintf(&b, "Idea: %s\n", idea.Content)
	keys := make([]string, 0, len(idea.Context))
	for k := range idea.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, idea.Context[k])
	}
	fmt.Fprintf(&b, "File: %s\n%s\nReply with the file content only.", a.Path, a.Instruction)
	return b.String()
}

// projectName prefers context["name"] and falls back to a slug of the
// first words of the content.
func projectName(idea domain.Idea) string {
	if name := slug(idea.Context["name"]); name != "" {
		return name
	}
	if name := slug(idea.Content); name != "" {
		return name
	}
	return "project-" + shortID(idea.ID)
}

func slug(s string) string {
	words := strings.FieldsFunc(cases.Fold().String(s), notWord)
	if len(words) > 5 {
		words = words[:5]
	}
	out := strings.Join(words, "-")
	if len(out) > 48 {
		out = strings.TrimRight(out[:48], "-")
	}
	return out
}

func notWord(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
