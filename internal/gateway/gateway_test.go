package gateway_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ideaforge/internal/budget"
	"ideaforge/internal/classify"
	"ideaforge/internal/db"
	"ideaforge/internal/domain"
	"ideaforge/internal/engine"
	"ideaforge/internal/gateway"
	"ideaforge/internal/migrate"
	"ideaforge/internal/ontology"
	"ideaforge/internal/repo"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeIdeas struct {
	submitted []engine.NewIdea
	records   []repo.IdeaRecord
}

func (f *fakeIdeas) Submit(_ context.Context, in engine.NewIdea) (domain.Idea, error) {
	f.submitted = append(f.submitted, in)
	return domain.Idea{ID: "idea-1", ProjectID: in.ProjectID, Content: in.Content, Source: in.Source}, nil
}

func (f *fakeIdeas) ListStatuses(context.Context, repo.StatusFilters) ([]repo.IdeaRecord, error) {
	return f.records, nil
}

type brokenItems struct{ repo.Repo }

func (brokenItems) InsertGatewayItem(context.Context, domain.GatewayItem) error {
	return errors.New("disk full")
}

type testEnv struct {
	Ctx     context.Context
	Repo    repo.Repo
	Ideas   *fakeIdeas
	Tracker *budget.Tracker
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	return testEnv{
		Ctx:     ctx,
		Repo:    repo.Repo{DB: conn},
		Ideas:   &fakeIdeas{},
		Tracker: budget.NewTracker(budget.NewMemoryLedger(), 5),
	}
}

func (env testEnv) gateway(opts ...classify.Option) *gateway.Gateway {
	return gateway.New(gateway.Deps{
		Classifier: classify.New(ontology.Default(), opts...),
		Ideas:      env.Ideas,
		Items:      env.Repo,
		Budget:     env.Tracker,
	})
}

func (env testEnv) run(g *gateway.Gateway, text string) gateway.Outcome {
	return g.ProcessCommand(env.Ctx, gateway.Command{ProjectID: "p1", UserID: "u1", Text: text})
}

func TestUnresolvedCommandSuggestsActions(t *testing.T) {
	env := newTestEnv(t)
	g := env.gateway()

	out := env.run(g, "tell me a joke")
	assert.Equal(t, domain.DomainUnresolved, out.Routing.Domain)
	assert.False(t, out.Result.Success)
	assert.NotEmpty(t, out.Result.SuggestedActions)
	assert.Contains(t, out.Result.SuggestedActions, "build me a habit tracking app")
	assert.Empty(t, env.Ideas.submitted)

	out = env.run(g, "   ")
	assert.False(t, out.Result.Success)
	assert.Equal(t, "Say what you want to do.", out.Result.Message)
}

func TestTaskAddThenList(t *testing.T) {
	env := newTestEnv(t)
	g := env.gateway()

	out := env.run(g, "add a task to renew my passport")
	require.True(t, out.Result.Success, out.Result.Message)
	assert.Equal(t, "task", out.Routing.Domain)
	assert.Equal(t, domain.ModeAction, out.Routing.Mode)
	assert.Contains(t, out.Result.Message, "renew my passport")

	out = env.run(g, "list my tasks")
	require.True(t, out.Result.Success)
	assert.Equal(t, domain.ModeInfo, out.Routing.Mode)
	assert.Equal(t, "You have 1 task.", out.Result.Message)
	items := out.Result.Data["items"].([]domain.GatewayItem)
	require.Len(t, items, 1)
	assert.Equal(t, "p1", items[0].ProjectID)

	out = env.run(g, "show my calendar")
	require.True(t, out.Result.Success)
	assert.Equal(t, "You have 0 events.", out.Result.Message)
	assert.NotEmpty(t, out.Result.NextSteps)
}

func TestSearchFindsItemsAndIdeas(t *testing.T) {
	env := newTestEnv(t)
	g := env.gateway()

	require.True(t, env.run(g, "add a task to review pricing").Result.Success)
	require.True(t, env.run(g, "send a message to the team about the release").Result.Success)

	out := env.run(g, "search for notes about pricing")
	require.True(t, out.Result.Success, out.Result.Message)
	assert.Equal(t, "notes pricing", out.Result.Data["query"])
	items := out.Result.Data["items"].([]domain.GatewayItem)
	require.Len(t, items, 1)
	assert.Equal(t, "task", items[0].Domain)

	out = env.run(g, "search")
	assert.False(t, out.Result.Success)
	assert.NotEmpty(t, out.Result.SuggestedActions)
}

func TestProjectCommandSubmitsIdea(t *testing.T) {
	env := newTestEnv(t)
	g := env.gateway()

	out := env.run(g, "build me a habit tracking app")
	require.True(t, out.Result.Success)
	assert.Equal(t, "project", out.Routing.Domain)
	require.Len(t, env.Ideas.submitted, 1)
	assert.Equal(t, "gateway", env.Ideas.submitted[0].Source)
	assert.Equal(t, "u1", env.Ideas.submitted[0].UserID)
	assert.Equal(t, "idea-1", out.Result.Data["idea_id"])
	assert.NotEmpty(t, out.Result.NextSteps)

	env.Ideas.records = []repo.IdeaRecord{{
		Idea:   domain.Idea{ID: "idea-1", Content: "build me a habit tracking app"},
		Status: domain.IdeaStatus{ID: "idea-1", Phase: domain.PhaseNeedsInput},
	}}
	out = env.run(g, "what is the status of my project")
	require.True(t, out.Result.Success)
	assert.Equal(t, domain.ModeInfo, out.Routing.Mode)
	assert.Equal(t, []string{"1 idea waiting for input"}, out.Result.NextSteps)
	assert.Len(t, env.Ideas.submitted, 1)
}

func TestBudgetSummary(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Tracker.RecordAPICall(env.Ctx, "p1", 1.25, 100))
	g := env.gateway()

	out := env.run(g, "how much budget is left today")
	require.True(t, out.Result.Success)
	assert.Equal(t, "budget", out.Routing.Domain)
	sum := out.Result.Data["budget"].(domain.DailyBudget)
	assert.InDelta(t, 3.75, sum.Remaining, 1e-9)
	assert.Contains(t, out.Result.Message, "3.75 remaining")
}

func TestMissingHandlerReportsCapability(t *testing.T) {
	env := newTestEnv(t)
	g := gateway.New(gateway.Deps{Classifier: classify.New(ontology.Default()), Items: env.Repo})

	out := env.run(g, "build me a habit tracking app")
	assert.False(t, out.Result.Success)
	assert.Equal(t, "I can't change project yet.", out.Result.Message)
	assert.NotContains(t, out.Result.SuggestedActions, "build me a habit tracking app")
	assert.Contains(t, out.Result.SuggestedActions, "add a task to renew my passport")
}

func TestLowConfidenceIsUnrecognized(t *testing.T) {
	env := newTestEnv(t)
	secondary := func(context.Context, string) (domain.RoutingResult, error) {
		return domain.RoutingResult{Domain: "task", Mode: domain.ModeAction, Confidence: 0.3, Method: domain.MethodLLM}, nil
	}
	g := gateway.New(gateway.Deps{
		Classifier:    classify.New(ontology.Default(), classify.WithSecondary(secondary)),
		Items:         env.Repo,
		MinConfidence: 0.5,
	})

	out := env.run(g, "pick up groceries")
	assert.Equal(t, domain.MethodLLM, out.Routing.Method)
	assert.False(t, out.Result.Success)
	items, err := env.Repo.ListGatewayItems(env.Ctx, "p1", "task", 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestHandlerErrorBecomesResult(t *testing.T) {
	env := newTestEnv(t)
	g := gateway.New(gateway.Deps{Classifier: classify.New(ontology.Default()), Items: brokenItems{env.Repo}})

	out := env.run(g, "add a task to water plants")
	assert.False(t, out.Result.Success)
	assert.Contains(t, out.Result.Message, "disk full")
	assert.NotEmpty(t, out.Result.SuggestedActions)
}

func TestRegisterReplacesHandler(t *testing.T) {
	env := newTestEnv(t)
	g := env.gateway()
	g.Register(gateway.DomainBudget, domain.ModeInfo, gateway.HandlerFunc(func(context.Context, gateway.Request) (domain.CommandResult, error) {
		return domain.CommandResult{Success: true, Message: "custom"}, nil
	}))
	out := env.run(g, "check my spend")
	assert.Equal(t, "custom", out.Result.Message)
	assert.NotNil(t, out.Result.NextSteps)
}
