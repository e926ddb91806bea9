package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sightline-hq/sightline/internal/model"
	"github.com/sightline-hq/sightline/internal/storage"
	"github.com/sightline-hq/sightline/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()

	db, err := tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}
	testDB = db

	code := m.Run()

	db.Close()
	tc.Terminate()
	os.Exit(code)
}

// newOrg creates a fresh organization so tests don't share tenant state.
func newOrg(t *testing.T) model.Organization {
	t.Helper()
	org, err := testDB.CreateOrganization(context.Background(), "org-"+uuid.NewString()[:8], "salt$hash")
	require.NoError(t, err)
	return org
}

func newApp(t *testing.T, orgID uuid.UUID) model.App {
	t.Helper()
	app, err := testDB.CreateApp(context.Background(), orgID, model.CreateAppRequest{Name: "Fixture", StoreRef: "app.fixture"})
	require.NoError(t, err)
	return app
}

func newRun(t *testing.T, orgID, appID uuid.UUID) model.AuditRun {
	t.Helper()
	run, err := testDB.CreateRun(context.Background(), orgID, model.CreateRunRequest{AppID: appID, Name: "weekly"})
	require.NoError(t, err)
	return run
}

func insertQueries(t *testing.T, run model.AuditRun, specs ...model.PrebuiltQuery) []model.AuditQuery {
	t.Helper()
	now := time.Now().UTC()
	queries := make([]model.AuditQuery, len(specs))
	for i, s := range specs {
		queries[i] = model.AuditQuery{
			ID:        uuid.New(),
			RunID:     run.ID,
			OrgID:     run.OrgID,
			Text:      s.Text,
			Category:  s.Category,
			Variables: s.Variables,
			Priority:  s.Priority,
			Status:    model.QueryStatusPending,
			CreatedAt: now,
		}
	}
	n, err := testDB.InsertQueries(context.Background(), queries)
	require.NoError(t, err)
	require.Equal(t, int64(len(specs)), n)
	return queries
}

func TestOrganizationLifecycle(t *testing.T) {
	ctx := context.Background()
	org := newOrg(t)

	got, err := testDB.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, org.Name, got.Name)
	require.NotNil(t, got.APIKeyHash)
	assert.Equal(t, "salt$hash", *got.APIKeyHash)

	_, err = testDB.GetOrganization(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEnsureOrganizationIdempotent(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, testDB.EnsureOrganization(ctx, id, "bootstrap", "h1"))
	require.NoError(t, testDB.EnsureOrganization(ctx, id, "bootstrap-renamed", "h2"))

	got, err := testDB.GetOrganization(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "bootstrap-renamed", got.Name)
	require.NotNil(t, got.APIKeyHash)
	assert.Equal(t, "h2", *got.APIKeyHash)
}

func TestAppsScopedToOrg(t *testing.T) {
	ctx := context.Background()
	org1 := newOrg(t)
	org2 := newOrg(t)
	app := newApp(t, org1.ID)

	got, err := testDB.GetApp(ctx, org1.ID, app.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fixture", got.Name)

	// Same id, wrong org: invisible.
	_, err = testDB.GetApp(ctx, org2.ID, app.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	apps, err := testDB.ListApps(ctx, org2.ID)
	require.NoError(t, err)
	assert.Empty(t, apps)
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	org := newOrg(t)
	app := newApp(t, org.ID)
	run := newRun(t, org.ID, app.ID)

	got, err := testDB.GetRun(ctx, org.ID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPending, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, testDB.MarkRunRunning(ctx, org.ID, run.ID))
	got, err = testDB.GetRun(ctx, org.ID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)
	firstStart := *got.StartedAt

	// A resume keeps the original start timestamp.
	require.NoError(t, testDB.MarkRunPaused(ctx, org.ID, run.ID))
	require.NoError(t, testDB.MarkRunRunning(ctx, org.ID, run.ID))
	got, err = testDB.GetRun(ctx, org.ID, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StartedAt)
	assert.WithinDuration(t, firstStart, *got.StartedAt, time.Millisecond)

	require.NoError(t, testDB.MarkRunCompleted(ctx, org.ID, run.ID))
	got, err = testDB.GetRun(ctx, org.ID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestRunStatusUpdatesScopedToOrg(t *testing.T) {
	ctx := context.Background()
	org := newOrg(t)
	other := newOrg(t)
	app := newApp(t, org.ID)
	run := newRun(t, org.ID, app.ID)

	err := testDB.MarkRunRunning(ctx, other.ID, run.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err := testDB.GetRun(ctx, org.ID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPending, got.Status)
}

func TestListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	org := newOrg(t)
	app := newApp(t, org.ID)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		run := newRun(t, org.ID, app.ID)
		ids = append(ids, run.ID)
		time.Sleep(2 * time.Millisecond)
	}

	runs, err := testDB.ListRuns(ctx, org.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[0], runs[2].ID)

	page, err := testDB.ListRuns(ctx, org.ID, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[1], page[0].ID)
}

func TestPendingQueriesOrdering(t *testing.T) {
	ctx := context.Background()
	org := newOrg(t)
	app := newApp(t, org.ID)
	run := newRun(t, org.ID, app.ID)

	// All rows share one created_at (single COPY batch); insertion order
	// must still break ties within a priority band.
	insertQueries(t, run,
		model.PrebuiltQuery{Text: "p3-first", Priority: 3},
		model.PrebuiltQuery{Text: "p1", Priority: 1},
		model.PrebuiltQuery{Text: "p3-second", Priority: 3},
		model.PrebuiltQuery{Text: "p2", Priority: 2},
	)

	pending, err := testDB.PendingQueries(ctx, org.ID, run.ID)
	require.NoError(t, err)
	require.Len(t, pending, 4)

	var texts []string
	for _, q := range pending {
		texts = append(texts, q.Text)
	}
	assert.Equal(t, []string{"p3-first", "p3-second", "p2", "p1"}, texts)
}

func TestQueryStatusTransitions(t *testing.T) {
	ctx := context.Background()
	org := newOrg(t)
	app := newApp(t, org.ID)
	run := newRun(t, org.ID, app.ID)

	queries := insertQueries(t, run,
		model.PrebuiltQuery{Text: "ok"},
		model.PrebuiltQuery{Text: "broken"},
	)

	require.NoError(t, testDB.MarkQueryCompleted(ctx, org.ID, queries[0].ID))
	require.NoError(t, testDB.MarkQueryError(ctx, org.ID, queries[1].ID, "timeout waiting for model"))

	pending, err := testDB.PendingQueries(ctx, org.ID, run.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	failed, err := testDB.ListQueries(ctx, org.ID, run.ID, model.QueryStatusError)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.NotNil(t, failed[0].ErrorMessage)
	assert.Equal(t, "timeout waiting for model", *failed[0].ErrorMessage)

	all, err := testDB.ListQueries(ctx, org.ID, run.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestQueryVariablesRoundTrip(t *testing.T) {
	ctx := context.Background()
	org := newOrg(t)
	app := newApp(t, org.ID)
	run := newRun(t, org.ID, app.ID)

	insertQueries(t, run, model.PrebuiltQuery{
		Text:      "is Fixture better than Rival",
		Category:  "comparison",
		Variables: map[string]string{"name": "Fixture", "competitor": "Rival"},
	})

	all, err := testDB.ListQueries(ctx, org.ID, run.ID, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "comparison", all[0].Category)
	assert.Equal(t, map[string]string{"name": "Fixture", "competitor": "Rival"}, all[0].Variables)
}

func TestSetRunQueriesGeneratedAndCounter(t *testing.T) {
	ctx := context.Background()
	org := newOrg(t)
	app := newApp(t, org.ID)
	run := newRun(t, org.ID, app.ID)

	require.NoError(t, testDB.SetRunQueriesGenerated(ctx, org.ID, run.ID, 2))

	got, err := testDB.GetRun(ctx, org.ID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalQueries)
	assert.Equal(t, model.RunStatusPending, got.Status)

	// The counter is capped at total_queries even if bumped too often.
	for i := 0; i < 4; i++ {
		require.NoError(t, testDB.IncrementRunCompleted(ctx, org.ID, run.ID))
	}
	got, err = testDB.GetRun(ctx, org.ID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CompletedQueries)
}

func TestTemplatesLibrary(t *testing.T) {
	ctx := context.Background()
	org := newOrg(t)

	low, err := testDB.CreateTemplate(ctx, org.ID, model.CreateTemplateRequest{
		Text: "cheapest {category} app", Category: "price", Priority: 1,
	})
	require.NoError(t, err)
	high, err := testDB.CreateTemplate(ctx, org.ID, model.CreateTemplateRequest{
		Text:             "best {category} app",
		Category:         "discovery",
		Priority:         9,
		DefaultVariables: map[string]string{"category": "todo"},
	})
	require.NoError(t, err)

	all, err := testDB.ListTemplates(ctx, org.ID, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, high.ID, all[0].ID, "highest priority first")
	assert.Equal(t, map[string]string{"category": "todo"}, all[0].DefaultVariables)

	subset, err := testDB.ListTemplates(ctx, org.ID, []uuid.UUID{low.ID})
	require.NoError(t, err)
	require.Len(t, subset, 1)
	assert.Equal(t, low.ID, subset[0].ID)

	// Unknown ids and foreign orgs yield nothing.
	none, err := testDB.ListTemplates(ctx, org.ID, []uuid.UUID{uuid.New()})
	require.NoError(t, err)
	assert.Empty(t, none)

	other := newOrg(t)
	foreign, err := testDB.ListTemplates(ctx, other.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, foreign)
}
