package stratlinesdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratline/internal/config"
	"stratline/internal/db"
	"stratline/internal/engine"
	"stratline/internal/migrate"
	"stratline/internal/repo"
	"stratline/internal/server"
)

const secret = "sdk-secret"

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn, dialect))
	handler, err := server.New(server.Config{
		Engine:   engine.New(repo.New(conn, dialect), config.Default("org-a")),
		BasePath: "/v1",
		Auth:     server.AuthConfig{JWTSecret: secret},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return srv
}

func clientFor(t *testing.T, srv *httptest.Server, actor, org string) *Client {
	t.Helper()
	token, err := server.SignToken(secret, actor, org, time.Hour)
	require.NoError(t, err)
	return New(srv.URL, token)
}

func TestClientRollupAndArchive(t *testing.T) {
	srv := newServer(t)
	c := clientFor(t, srv, "alice", "org-a")
	ctx := context.Background()

	s, err := c.CreateStrategy(ctx, "Grow", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Active", s.Status)

	p, err := c.CreateProject(ctx, s.ID, "Launch", "OnTrack")
	require.NoError(t, err)
	assert.Empty(t, p.Warnings)

	a1, err := c.CreateAction(ctx, p.Project.ID, "a1", "")
	require.NoError(t, err)
	_, err = c.CreateAction(ctx, p.Project.ID, "a2", "")
	require.NoError(t, err)

	updated, err := c.SetActionStatus(ctx, a1.Action.ID, "achieved")
	require.NoError(t, err)
	assert.Equal(t, "achieved", updated.Action.Status)

	proj, err := c.GetProject(ctx, p.Project.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, proj.Progress)
	strat, err := c.GetStrategy(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, strat.Progress)

	archived, err := c.ArchiveProject(ctx, p.Project.ID, "paused")
	require.NoError(t, err)
	assert.True(t, archived.Project.IsArchived)
	require.NotNil(t, archived.Project.ProgressAtArchive)
	assert.Equal(t, 50, *archived.Project.ProgressAtArchive)

	restored, err := c.UnarchiveProject(ctx, p.Project.ID, "resumed")
	require.NoError(t, err)
	assert.False(t, restored.Project.IsArchived)

	snaps, err := c.ListSnapshots(ctx, p.Project.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "unarchive", snaps[0].Kind)
	assert.Equal(t, "archive", snaps[1].Kind)

	copied, err := c.CopyProject(ctx, p.Project.ID, "Launch v2", true)
	require.NoError(t, err)
	assert.Equal(t, "Launch v2", copied.Project.Title)
	assert.True(t, copied.Project.IsTemplate)

	rep, err := c.Recompute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.ProjectsRepaired)
	assert.Equal(t, 0, rep.StrategiesRepaired)

	done, err := c.CompleteStrategy(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Completed", done.Strategy.Status)
	archivedStrategy, err := c.ArchiveStrategy(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Archived", archivedStrategy.Strategy.Status)
}

func TestClientDependenciesAndEvents(t *testing.T) {
	srv := newServer(t)
	c := clientFor(t, srv, "alice", "org-a")
	ctx := context.Background()

	s, err := c.CreateStrategy(ctx, "Grow", "")
	require.NoError(t, err)
	p1, err := c.CreateProject(ctx, s.ID, "One", "")
	require.NoError(t, err)
	p2, err := c.CreateProject(ctx, s.ID, "Two", "")
	require.NoError(t, err)

	d, err := c.CreateDependency(ctx, "project", p1.Project.ID, "project", p2.Project.ID)
	require.NoError(t, err)
	assert.Equal(t, p2.Project.ID, d.TargetID)

	removed, err := c.CollectDependencies(ctx, []string{p1.Project.ID}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	page, err := c.EventsPage(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	next, err := c.EventsPage(ctx, 2, page.NextCursor)
	require.NoError(t, err)
	require.NotEmpty(t, next.Items)
	assert.Less(t, next.Items[0].ID, page.Items[1].ID)
}

func TestClientOtherOrgIsNotFound(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	owner := clientFor(t, srv, "alice", "org-a")
	s, err := owner.CreateStrategy(ctx, "Grow", "")
	require.NoError(t, err)

	intruder := clientFor(t, srv, "mallory", "org-b")
	_, err = intruder.GetStrategy(ctx, s.ID)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/dependencies", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"cross_tenant_violation","message":"project p2 belongs to another org"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "tok")
	_, err := c.CreateDependency(context.Background(), "project", "p1", "project", "p2")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "cross_tenant_violation", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "cross_tenant_violation")
}
