package repo_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ideaforge/internal/budget"
	"ideaforge/internal/db"
	"ideaforge/internal/domain"
	"ideaforge/internal/events"
	"ideaforge/internal/migrate"
	"ideaforge/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	return repo.Repo{DB: conn}
}

func inTx(t *testing.T, r repo.Repo, fn func(tx *sql.Tx)) {
	t.Helper()
	tx, err := r.DB.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit())
}

func insertIdea(t *testing.T, r repo.Repo, id, project, content string, phase domain.Phase, updated string) domain.Idea {
	t.Helper()
	var idea domain.Idea
	inTx(t, r, func(tx *sql.Tx) {
		var err error
		idea, err = r.InsertIdeaTx(context.Background(), tx, domain.Idea{
			ID: id, ProjectID: project, Content: content, Source: "test", SubmittedAt: updated,
		})
		require.NoError(t, err)
		require.NoError(t, r.UpsertStatusTx(context.Background(), tx, domain.IdeaStatus{ID: id, Phase: phase, UpdatedAt: updated}))
	})
	return idea
}

func TestIdeaRoundTripAndSequence(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	a := insertIdea(t, r, "a", "p1", "build a landing page", domain.PhaseQueued, "2026-01-01T00:00:00Z")
	b := insertIdea(t, r, "b", "p1", "write a cli", domain.PhaseQueued, "2026-01-01T00:00:01Z")
	assert.Equal(t, int64(1), a.Seq)
	assert.Equal(t, int64(2), b.Seq)

	inTx(t, r, func(tx *sql.Tx) {
		require.NoError(t, r.UpdateIdeaContextTx(ctx, tx, "a", map[string]string{"template": "web"}))
	})
	got, err := r.GetIdea(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "build a landing page", got.Content)
	assert.Equal(t, map[string]string{"template": "web"}, got.Context)

	_, err = r.GetIdea(ctx, "missing")
	require.ErrorIs(t, err, repo.ErrNotFound)

	ideas, err := r.ListIdeas(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, ideas, 2)
	assert.Equal(t, "b", ideas[0].ID)
}

func TestStatusKeepsSummaryAndMissingInputs(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertIdea(t, r, "a", "p1", "an api", domain.PhaseQueued, "2026-01-01T00:00:00Z")

	inTx(t, r, func(tx *sql.Tx) {
		require.NoError(t, r.UpsertStatusTx(ctx, tx, domain.IdeaStatus{
			ID: "a", Phase: domain.PhaseNeedsInput, Progress: 0.5, Missing: []string{"storage"}, UpdatedAt: "2026-01-01T00:00:05Z",
		}))
	})
	st, err := r.GetStatus(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseNeedsInput, st.Phase)
	assert.Equal(t, []string{"storage"}, st.Missing)
	assert.Nil(t, st.Project)
	assert.Nil(t, st.Error)

	msg := "generation failed: boom"
	inTx(t, r, func(tx *sql.Tx) {
		require.NoError(t, r.UpsertStatusTx(ctx, tx, domain.IdeaStatus{
			ID: "a", Phase: domain.PhaseFailed, Progress: 0.5, Error: &msg,
			Project: &domain.ProjectSummary{Name: "api", FilesCreated: []string{"api/main.go"}},
		}))
	})
	st, err = r.GetStatus(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, st.Error)
	assert.Equal(t, msg, *st.Error)
	require.NotNil(t, st.Project)
	assert.Equal(t, []string{"api/main.go"}, st.Project.FilesCreated)
	assert.Empty(t, st.Missing)
	assert.NotEmpty(t, st.UpdatedAt)

	_, err = r.GetStatus(ctx, "missing")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestListRecordsAndUnfinished(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertIdea(t, r, "a", "p1", "one", domain.PhaseCompleted, "2026-01-01T00:00:03Z")
	insertIdea(t, r, "b", "p1", "two", domain.PhaseGenerating, "2026-01-01T00:00:02Z")
	insertIdea(t, r, "c", "p2", "three", domain.PhaseQueued, "2026-01-01T00:00:01Z")

	recs, err := r.ListRecords(ctx, repo.StatusFilters{ProjectID: "p1"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].Idea.ID)

	recs, err = r.ListRecords(ctx, repo.StatusFilters{Phase: string(domain.PhaseQueued)})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "c", recs[0].Idea.ID)

	unfinished, err := r.Unfinished(ctx)
	require.NoError(t, err)
	require.Len(t, unfinished, 2)
	assert.Equal(t, "b", unfinished[0].Idea.ID)
	assert.Equal(t, "c", unfinished[1].Idea.ID)
}

func TestSearchEscapesWildcards(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertIdea(t, r, "a", "p1", "100% uptime monitor", domain.PhaseQueued, "2026-01-01T00:00:00Z")
	insertIdea(t, r, "b", "p1", "1000 users", domain.PhaseQueued, "2026-01-01T00:00:01Z")

	ideas, err := r.SearchIdeas(ctx, "p1", "100%", 10)
	require.NoError(t, err)
	require.Len(t, ideas, 1)
	assert.Equal(t, "a", ideas[0].ID)

	ideas, err = r.SearchIdeas(ctx, "p1", "UPTIME", 10)
	require.NoError(t, err)
	assert.Len(t, ideas, 1)
}

func TestGatewayItems(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, r.InsertGatewayItem(ctx, domain.GatewayItem{ID: "1", ProjectID: "p1", Domain: "task", Content: "renew passport", CreatedAt: "2026-01-01T00:00:00Z"}))
	require.NoError(t, r.InsertGatewayItem(ctx, domain.GatewayItem{ID: "2", ProjectID: "p1", Domain: "message", Content: "call the passport office", CreatedAt: "2026-01-01T00:00:01Z"}))
	require.NoError(t, r.InsertGatewayItem(ctx, domain.GatewayItem{ID: "3", ProjectID: "p2", Domain: "task", Content: "passport photos", CreatedAt: "2026-01-01T00:00:02Z"}))

	tasks, err := r.ListGatewayItems(ctx, "p1", "task", 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "renew passport", tasks[0].Content)

	all, err := r.ListGatewayItems(ctx, "p1", "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "2", all[0].ID)

	found, err := r.SearchGatewayItems(ctx, "p1", "passport", 10)
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestCostLedger(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	var ledger budget.Ledger = r
	require.NoError(t, ledger.AppendCost(ctx, "2026-01-01", domain.CostLedgerEntry{ProjectID: "p1", Cost: 0.25, Tokens: 100, Timestamp: "2026-01-01T10:00:00Z"}))
	require.NoError(t, ledger.AppendCost(ctx, "2026-01-01", domain.CostLedgerEntry{ProjectID: "p1", Cost: 0.5, Tokens: 50, Timestamp: "2026-01-01T11:00:00Z"}))
	require.NoError(t, ledger.AppendCost(ctx, "2026-01-02", domain.CostLedgerEntry{ProjectID: "p1", Cost: 1, Tokens: 10, Timestamp: "2026-01-02T09:00:00Z"}))
	require.NoError(t, ledger.AppendCost(ctx, "2026-01-01", domain.CostLedgerEntry{ProjectID: "p2", Cost: 9, Timestamp: "2026-01-01T10:00:00Z"}))

	total, err := ledger.CostTotals(ctx, "p1", "2026-01-01")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, total.Cost, 1e-9)
	assert.Equal(t, 150, total.Tokens)
	assert.Equal(t, 2, total.Calls)

	empty, err := ledger.CostTotals(ctx, "p1", "2025-12-31")
	require.NoError(t, err)
	assert.Zero(t, empty.Calls)

	hist, err := ledger.CostHistory(ctx, "p1", 7)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "2026-01-02", hist[0].Day)

	entries, err := r.CostEntries(ctx, "p1", "2026-01-01")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2026-01-01T10:00:00Z", entries[0].Timestamp)
}

func TestEventsPaging(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	w := events.Writer{}
	inTx(t, r, func(tx *sql.Tx) {
		for i, id := range []string{"a", "a", "b"} {
			require.NoError(t, w.Append(ctx, tx, events.Event{
				Type: events.IdeaTransition, ProjectID: "p1", EntityKind: "idea", EntityID: id,
				Payload: events.Payload{"n": i},
			}))
		}
	})

	latest, err := r.LatestEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest)

	page, err := r.LatestEvents(ctx, 10, 0, "p1", "idea", "a")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].ID)
	assert.Equal(t, events.ActorEngine, page[0].ActorID)

	older, err := r.LatestEvents(ctx, 10, 2, "", "", "")
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, int64(1), older[0].ID)

	after, err := r.EventsAfter(ctx, 10, 1)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "b", after[1].EntityID)
}

func TestAPIKeys(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	hash := repo.HashAPIKey(" secret ")
	assert.Equal(t, repo.HashAPIKey("secret"), hash)

	require.NoError(t, r.InsertAPIKey(ctx, domain.APIKey{ID: "k1", ClientID: "ci", KeyHash: hash}))
	require.Error(t, r.InsertAPIKey(ctx, domain.APIKey{ID: "k2", ClientID: "ci"}))

	key, err := r.GetAPIKeyByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "ci", key.ClientID)

	keys, err := r.ListAPIKeys(ctx, "ci")
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, r.DeleteAPIKey(ctx, "k1"))
	require.ErrorIs(t, r.DeleteAPIKey(ctx, "k1"), repo.ErrNotFound)
	_, err = r.GetAPIKeyByHash(ctx, hash)
	require.ErrorIs(t, err, repo.ErrNotFound)
}
