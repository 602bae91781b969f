package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ideaforge/internal/classify"
	"ideaforge/internal/domain"
	"ideaforge/internal/engine"
	"ideaforge/internal/gateway"
	"ideaforge/internal/ontology"
	"ideaforge/internal/repo"
)

type fakeIdeas struct {
	ideas    map[string]domain.Idea
	statuses map[string]domain.IdeaStatus
	inputs   []string
}

func newFakeIdeas() *fakeIdeas {
	return &fakeIdeas{ideas: map[string]domain.Idea{}, statuses: map[string]domain.IdeaStatus{}}
}

func (f *fakeIdeas) Submit(_ context.Context, in engine.NewIdea) (domain.Idea, error) {
	idea := domain.Idea{ID: fmt.Sprintf("idea-%d", len(f.ideas)+1), ProjectID: in.ProjectID, Content: in.Content, UserID: in.UserID, Source: in.Source}
	f.ideas[idea.ID] = idea
	f.statuses[idea.ID] = domain.IdeaStatus{ID: idea.ID, Phase: domain.PhaseQueued}
	return idea, nil
}

func (f *fakeIdeas) ListStatuses(context.Context, repo.StatusFilters) ([]repo.IdeaRecord, error) {
	return nil, nil
}

func (f *fakeIdeas) Status(_ context.Context, id string) (domain.IdeaStatus, error) {
	st, ok := f.statuses[id]
	if !ok {
		return domain.IdeaStatus{}, engine.ErrNotFound
	}
	return st, nil
}

func (f *fakeIdeas) Idea(_ context.Context, id string) (domain.Idea, error) {
	idea, ok := f.ideas[id]
	if !ok {
		return domain.Idea{}, engine.ErrNotFound
	}
	return idea, nil
}

func (f *fakeIdeas) ProvideInput(_ context.Context, id string, values map[string]string, actorID string) (domain.Idea, error) {
	st, ok := f.statuses[id]
	if !ok {
		return domain.Idea{}, engine.ErrNotFound
	}
	if st.Phase != domain.PhaseNeedsInput {
		return domain.Idea{}, fmt.Errorf("%w: %s", engine.ErrNotAwaitingInput, id)
	}
	idea := f.ideas[id]
	idea.Context = values
	f.ideas[id] = idea
	f.inputs = append(f.inputs, actorID)
	return idea, nil
}

type fakeBudget struct{ err error }

func (b fakeBudget) DailySummary(_ context.Context, projectID string) (domain.DailyBudget, error) {
	if b.err != nil {
		return domain.DailyBudget{}, b.err
	}
	return domain.DailyBudget{ProjectID: projectID, Day: "2026-10-18", TotalCost: 1, Limit: 5, Remaining: 4, PercentageUsed: 20}, nil
}

func newHandlers(ideas *fakeIdeas, b Budget) *Handlers {
	gw := gateway.New(gateway.Deps{Classifier: classify.New(ontology.Default()), Ideas: ideas, Budget: b})
	return NewHandlers(Config{Commands: gw, Ideas: ideas, Budget: b, ProjectID: "p1", ClientID: "agent"})
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
}

func decodeResult(t *testing.T, result *mcp.CallToolResult, out any) {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	require.NoError(t, json.Unmarshal([]byte(text.Text), out))
}

func errorCode(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.True(t, result.IsError)
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeResult(t, result, &payload)
	return payload.Error.Code
}

func TestToolNames(t *testing.T) {
	assert.Equal(t, []string{"process_command", "idea_status", "idea_input", "budget_summary"}, ToolNames())
	assert.NotNil(t, NewServer(Config{}))
}

func TestProcessCommandSubmitsIdea(t *testing.T) {
	ideas := newFakeIdeas()
	h := newHandlers(ideas, fakeBudget{})

	result, err := h.HandleProcessCommand(context.Background(), makeRequest(map[string]any{"text": "build me a habit tracking app"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var out gateway.Outcome
	decodeResult(t, result, &out)
	assert.True(t, out.Result.Success)
	assert.Equal(t, "project", out.Routing.Domain)
	require.Len(t, ideas.ideas, 1)
	assert.Equal(t, "agent", ideas.ideas["idea-1"].UserID)
	assert.Equal(t, "p1", ideas.ideas["idea-1"].ProjectID)

	result, err = h.HandleProcessCommand(context.Background(), makeRequest(map[string]any{"text": "tell me a joke", "project_id": "p2"}))
	require.NoError(t, err)
	require.False(t, result.IsError, "an unrecognised command is a result, not a tool error")
	decodeResult(t, result, &out)
	assert.False(t, out.Result.Success)
	assert.NotEmpty(t, out.Result.SuggestedActions)
}

func TestIdeaStatusAndInput(t *testing.T) {
	ideas := newFakeIdeas()
	h := newHandlers(ideas, fakeBudget{})
	ctx := context.Background()
	idea, err := ideas.Submit(ctx, engine.NewIdea{ProjectID: "p1", Content: "something vague"})
	require.NoError(t, err)

	result, err := h.HandleIdeaStatus(ctx, makeRequest(map[string]any{"id": idea.ID}))
	require.NoError(t, err)
	var out IdeaOutput
	decodeResult(t, result, &out)
	assert.Equal(t, domain.PhaseQueued, out.Status.Phase)

	result, err = h.HandleIdeaInput(ctx, makeRequest(map[string]any{"id": idea.ID, "values": map[string]any{"template": "web"}}))
	require.NoError(t, err)
	assert.Equal(t, "CONFLICT", errorCode(t, result))

	ideas.statuses[idea.ID] = domain.IdeaStatus{ID: idea.ID, Phase: domain.PhaseNeedsInput, Missing: []string{"template"}}
	result, err = h.HandleIdeaInput(ctx, makeRequest(map[string]any{"id": idea.ID, "values": map[string]any{"template": "web"}}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	decodeResult(t, result, &out)
	assert.Equal(t, "web", out.Idea.Context["template"])
	assert.Equal(t, []string{"agent"}, ideas.inputs)

	result, err = h.HandleIdeaStatus(ctx, makeRequest(map[string]any{"id": "missing"}))
	require.NoError(t, err)
	assert.Equal(t, "NOT_FOUND", errorCode(t, result))
}

func TestInvalidArguments(t *testing.T) {
	h := newHandlers(newFakeIdeas(), fakeBudget{})
	ctx := context.Background()

	result, err := h.HandleIdeaStatus(ctx, makeRequest(map[string]any{}))
	require.NoError(t, err)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, result))

	result, err = h.HandleIdeaInput(ctx, makeRequest(map[string]any{"id": "x", "values": map[string]any{}}))
	require.NoError(t, err)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, result))

	result, err = h.HandleIdeaInput(ctx, makeRequest(map[string]any{"id": "x", "values": "template=web"}))
	require.NoError(t, err)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, result))
}

func TestBudgetSummary(t *testing.T) {
	h := newHandlers(newFakeIdeas(), fakeBudget{})
	result, err := h.HandleBudgetSummary(context.Background(), makeRequest(map[string]any{}))
	require.NoError(t, err)
	var sum domain.DailyBudget
	decodeResult(t, result, &sum)
	assert.Equal(t, "p1", sum.ProjectID)
	assert.Equal(t, 4.0, sum.Remaining)

	failing := newHandlers(newFakeIdeas(), fakeBudget{err: fmt.Errorf("ledger offline")})
	result, err = failing.HandleBudgetSummary(context.Background(), makeRequest(map[string]any{"project_id": "p9"}))
	require.NoError(t, err)
	assert.Equal(t, "INTERNAL", errorCode(t, result))
}
