package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ideaforge/internal/budget"
	"ideaforge/internal/classify"
	"ideaforge/internal/db"
	"ideaforge/internal/domain"
	"ideaforge/internal/engine"
	"ideaforge/internal/gateway"
	"ideaforge/internal/generate"
	"ideaforge/internal/migrate"
	"ideaforge/internal/ontology"
	"ideaforge/internal/repo"
	ideaforgesdk "ideaforge/sdk/go"
)

const (
	testSecret  = "test-secret"
	testProject = "p1"
	testAPIKey  = "k-123"
)

type testServer struct {
	URL   string
	Repo  repo.Repo
	close func()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	r := repo.Repo{DB: conn}
	require.NoError(t, r.InsertAPIKey(ctx, domain.APIKey{ID: "key-1", ClientID: "ci-bot", KeyHash: repo.HashAPIKey(testAPIKey)}))

	tracker := budget.NewTracker(r, 1.0)
	eng := engine.New(engine.Deps{
		Store:     engine.NewSQLStore(conn),
		Planner:   generate.NewTemplatePlanner(0.05),
		Generator: generate.Offline{},
		Sink:      generate.DirSink{Root: t.TempDir()},
		Gate:      tracker,
	}, engine.Settings{MaxConcurrent: 2, Tick: 10 * time.Millisecond, RetryBackoff: time.Millisecond})
	require.NoError(t, eng.Start(ctx))

	gw := gateway.New(gateway.Deps{
		Classifier:    classify.New(ontology.Default()),
		Ideas:         eng,
		Items:         r,
		Budget:        tracker,
		MinConfidence: 0.5,
	})
	handler, err := New(Config{
		Ideas:    eng,
		Commands: gw,
		Budget:   tracker,
		Events:   r,
		APIKeys:  r,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret},
	})
	require.NoError(t, err)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:  "http://" + ln.Addr().String(),
		Repo: r,
		close: func() {
			srv.Shutdown(context.Background())
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = eng.Stop(stopCtx)
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func (s *testServer) client(t *testing.T) *ideaforgesdk.Client {
	t.Helper()
	token, err := SignToken(testSecret, "tester", time.Hour)
	require.NoError(t, err)
	c := ideaforgesdk.New(s.URL, testProject)
	c.BearerToken = token
	return c
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func requireAPIError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var apiErr *ideaforgesdk.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	assert.Equal(t, status, apiErr.StatusCode, apiErr.Body)
	assert.Equal(t, code, apiErr.Code, apiErr.Body)
}

func TestHealthAndAuth(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	anon := ideaforgesdk.New(srv.URL, testProject)
	require.NoError(t, anon.Health(ctx))

	_, err := anon.Command(ctx, "list my tasks")
	requireAPIError(t, err, http.StatusUnauthorized, "unauthorized")

	bad := ideaforgesdk.New(srv.URL, testProject)
	bad.BearerToken = "not-a-token"
	_, err = bad.Command(ctx, "list my tasks")
	requireAPIError(t, err, http.StatusUnauthorized, "invalid_credentials")

	forged, err := SignToken("other-secret", "tester", time.Hour)
	require.NoError(t, err)
	bad.BearerToken = forged
	_, err = bad.Command(ctx, "list my tasks")
	requireAPIError(t, err, http.StatusUnauthorized, "invalid_credentials")

	keyed := ideaforgesdk.New(srv.URL, testProject)
	keyed.APIKey = testAPIKey
	out, err := keyed.Command(ctx, "add a task to rotate credentials")
	require.NoError(t, err)
	assert.True(t, out.Result.Success)

	keyed.APIKey = "wrong"
	_, err = keyed.Command(ctx, "list my tasks")
	requireAPIError(t, err, http.StatusUnauthorized, "invalid_credentials")
}

func TestCommandEndpoint(t *testing.T) {
	srv := newTestServer(t)
	c := srv.client(t)
	ctx := context.Background()

	out, err := c.Command(ctx, "add a task to renew my passport")
	require.NoError(t, err)
	assert.True(t, out.Result.Success)
	assert.Equal(t, "task", out.Routing.Domain)
	assert.Equal(t, "action", out.Routing.Mode)
	assert.NotNil(t, out.Result.NextSteps)

	out, err = c.Command(ctx, "list my tasks")
	require.NoError(t, err)
	assert.Equal(t, "You have 1 task.", out.Result.Message)

	out, err = c.Command(ctx, "tell me a joke")
	require.NoError(t, err)
	assert.False(t, out.Result.Success)
	assert.Equal(t, "unresolved", out.Routing.Domain)
	assert.NotEmpty(t, out.Result.SuggestedActions)
}

func TestIdeaLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	c := srv.client(t)
	ctx := waitCtx(t)

	view, err := c.SubmitIdea(ctx, ideaforgesdk.SubmitIdeaRequest{Content: "Build a landing page for my bakery"})
	require.NoError(t, err)
	assert.Equal(t, "api", view.Idea.Source)
	assert.Equal(t, "tester", view.Idea.UserID)

	done, err := c.WaitIdea(ctx, view.Idea.ID, "completed", 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "completed", done.Status.Phase)
	assert.Equal(t, 1.0, done.Status.Progress)
	require.NotNil(t, done.Status.Project)
	assert.Len(t, done.Status.Project.FilesCreated, 3)
	assert.Nil(t, done.Status.Error)

	b, err := c.Budget(ctx, 7)
	require.NoError(t, err)
	assert.InDelta(t, 0.15, b.Today.TotalCost, 1e-9)
	assert.Equal(t, 3, b.Today.CallCount)
	require.Len(t, b.History, 1)

	list, err := c.Ideas(ctx, "completed", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, view.Idea.ID, list[0].Idea.ID)

	page, err := c.EventsPage(ctx, view.Idea.ID, 2, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.NotEmpty(t, page.NextCursor)
	assert.Equal(t, "idea.transition", page.Items[0].Type)
	assert.Equal(t, "completed", page.Items[0].Payload["to"])
}

func TestNeedsInputOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	c := srv.client(t)
	ctx := waitCtx(t)

	view, err := c.SubmitIdea(ctx, ideaforgesdk.SubmitIdeaRequest{Content: "something vague"})
	require.NoError(t, err)
	waiting, err := c.WaitIdea(ctx, view.Idea.ID, "needs_input", 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "needs_input", waiting.Status.Phase)
	assert.Equal(t, []string{"template"}, waiting.Status.MissingInputs)

	_, err = c.ProvideInput(ctx, view.Idea.ID, map[string]string{})
	requireAPIError(t, err, http.StatusBadRequest, "bad_request")

	resumed, err := c.ProvideInput(ctx, view.Idea.ID, map[string]string{"template": "cli"})
	require.NoError(t, err)
	assert.Equal(t, "cli", resumed.Idea.Context["template"])

	done, err := c.WaitIdea(ctx, view.Idea.ID, "completed", 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "completed", done.Status.Phase)
	assert.Len(t, done.Status.Project.FilesCreated, 2)

	_, err = c.ProvideInput(ctx, view.Idea.ID, map[string]string{"template": "web"})
	requireAPIError(t, err, http.StatusConflict, "conflict")
}

func TestErrorEnvelope(t *testing.T) {
	srv := newTestServer(t)
	c := srv.client(t)
	ctx := context.Background()

	_, err := c.Idea(ctx, "missing")
	requireAPIError(t, err, http.StatusNotFound, "not_found")
	assert.True(t, ideaforgesdk.IsNotFound(err))

	_, err = c.SubmitIdea(ctx, ideaforgesdk.SubmitIdeaRequest{Content: "   "})
	requireAPIError(t, err, http.StatusBadRequest, "bad_request")

	_, err = c.SubmitIdea(ctx, ideaforgesdk.SubmitIdeaRequest{Content: ""})
	requireAPIError(t, err, http.StatusBadRequest, "bad_request")

	_, err = c.EventsPage(ctx, "", 10, "nope")
	requireAPIError(t, err, http.StatusBadRequest, "bad_request")
}

func TestOpenAPIIsPublic(t *testing.T) {
	srv := newTestServer(t)
	res, err := http.Get(srv.URL + "/v0/openapi.json")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	spec := string(data)
	assert.True(t, strings.Contains(spec, `"/v0/ideas/{id}/input"`), "spec lists idea input route")
	assert.Contains(t, spec, "bearerAuth")
}
