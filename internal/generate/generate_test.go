package generate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ideaforge/internal/domain"
	"ideaforge/internal/engine"
)

func TestPlannerPicksTemplateByKeyword(t *testing.T) {
	p := NewTemplatePlanner(0.05)
	plan, err := p.Plan(context.Background(), domain.Idea{ID: "i1", Content: "Build a landing page for my bakery"})
	require.NoError(t, err)
	assert.Equal(t, "web", plan.Template)
	assert.Equal(t, "build-a-landing-page-for", plan.Name)
	assert.Empty(t, plan.Missing)
	require.Len(t, plan.Steps, 3)
	assert.Equal(t, "index.html", plan.Steps[0].Artifact)
	assert.Equal(t, 0.05, plan.Steps[0].Estimate)
	assert.Contains(t, plan.Steps[0].Prompt, "bakery")
}

func TestPlannerReportsMissingInputs(t *testing.T) {
	p := NewTemplatePlanner(0.05)

	plan, err := p.Plan(context.Background(), domain.Idea{ID: "i1", Content: "something vague"})
	require.NoError(t, err)
	assert.Equal(t, []string{"template"}, plan.Missing)
	assert.Empty(t, plan.Steps)

	plan, err = p.Plan(context.Background(), domain.Idea{ID: "i2", Content: "a backend service for invoices"})
	require.NoError(t, err)
	assert.Equal(t, "api", plan.Template)
	assert.Equal(t, []string{"storage"}, plan.Missing)

	plan, err = p.Plan(context.Background(), domain.Idea{
		ID:      "i3",
		Content: "something vague",
		Context: map[string]string{"template": "CLI", "name": "Invoice Tool"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cli", plan.Template)
	assert.Equal(t, "invoice-tool", plan.Name)
	assert.Len(t, plan.Steps, 2)

	_, err = p.Plan(context.Background(), domain.Idea{ID: "i4", Content: "x", Context: map[string]string{"template": "mainframe"}})
	require.Error(t, err)
}

func TestOfflineChargesEstimate(t *testing.T) {
	out, err := Offline{}.Generate(context.Background(),
		domain.Idea{Content: "todo app"},
		engine.Plan{Name: "todo-app", Template: "web"},
		engine.Step{Artifact: "index.html", Prompt: "write it", Estimate: 0.07})
	require.NoError(t, err)
	assert.Equal(t, 0.07, out.Cost)
	assert.Positive(t, out.Tokens)
	assert.Contains(t, out.Content, "index.html for todo-app")
}

func TestDirSinkWritesUnderProject(t *testing.T) {
	root := t.TempDir()
	sink := DirSink{Root: root}
	rel, err := sink.Write(context.Background(), domain.Idea{ProjectID: "p1"}, engine.Plan{Name: "todo"}, engine.Step{Artifact: "src/main.go"}, "package main\n")
	require.NoError(t, err)
	assert.Equal(t, "todo/src/main.go", rel)
	data, err := os.ReadFile(filepath.Join(root, "p1", "todo", "src", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))

	_, err = sink.Write(context.Background(), domain.Idea{ProjectID: "p1"}, engine.Plan{Name: "todo"}, engine.Step{Artifact: "../../escape"}, "x")
	require.Error(t, err)
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, "package main\n", stripFence("```go\npackage main\n```"))
	assert.Equal(t, "plain", stripFence("plain"))
}
