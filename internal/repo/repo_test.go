package repo

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratline/internal/db"
	"stratline/internal/domain"
	"stratline/internal/migrate"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, dialect))
	return New(conn, dialect)
}

func seedTree(t *testing.T, r Repo) (domain.Strategy, domain.Project, domain.Action) {
	t.Helper()
	ctx := context.Background()
	s := domain.Strategy{ID: "s1", OrgID: "org", Title: "Grow", Status: domain.StrategyActive, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, r.InsertStrategy(ctx, s))
	p := domain.Project{ID: "p1", OrgID: "org", StrategyID: s.ID, Title: "Launch", Status: domain.ProjectOnTrack, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, r.InsertProject(ctx, p))
	pid := p.ID
	a := domain.Action{ID: "a1", OrgID: "org", ProjectID: &pid, Title: "Ship", Status: domain.ActionInProgress, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, r.InsertAction(ctx, a))
	return s, p, a
}

func TestStrategyRoundTripAndDerivedWrites(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	s, _, _ := seedTree(t, r)

	got, err := r.GetStrategy(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyActive, got.Status)
	assert.True(t, got.CreatedAt.Equal(t0))

	// UpdateStrategy must not touch progress or status.
	require.NoError(t, r.SetStrategyRollup(ctx, s.ID, 70, domain.StrategyCompleted, t0))
	got.Title = "Grow faster"
	got.Progress = 5
	got.Status = domain.StrategyActive
	require.NoError(t, r.UpdateStrategy(ctx, got))

	got, err = r.GetStrategy(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grow faster", got.Title)
	assert.Equal(t, 70, got.Progress)
	assert.Equal(t, domain.StrategyCompleted, got.Status)

	done := t0.Add(time.Hour)
	require.NoError(t, r.SetStrategyStatus(ctx, s.ID, domain.StrategyArchived, &done, done))
	got, err = r.GetStrategy(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletionDate)
	assert.True(t, got.CompletionDate.Equal(done))

	// nil completion date keeps the stored one
	require.NoError(t, r.SetStrategyStatus(ctx, s.ID, domain.StrategyCompleted, nil, done))
	got, err = r.GetStrategy(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletionDate)
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	_, err := r.GetStrategy(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.GetProject(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.GetAction(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.SetProjectProgress(ctx, "nope", 10, t0), ErrNotFound)
}

func TestUpdateProjectLeavesProgressAlone(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	_, p, _ := seedTree(t, r)

	require.NoError(t, r.SetProjectProgress(ctx, p.ID, 40, t0))
	p.Progress = 99
	p.Status = domain.ProjectCompleted
	require.NoError(t, r.UpdateProject(ctx, p))

	got, err := r.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)
	assert.Equal(t, domain.ProjectCompleted, got.Status)
}

func TestLegacyStatusSpellingsAreNormalized(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	_, p, _ := seedTree(t, r)

	_, err := r.DB.Exec(`UPDATE projects SET status='achieved' WHERE id=?`, p.ID)
	require.NoError(t, err)
	got, err := r.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectCompleted, got.Status)
}

func TestArchivedRowsHiddenByDefault(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	s, p, a := seedTree(t, r)

	require.NoError(t, r.SetProjectsArchived(ctx, []string{p.ID}, true, "u1", t0))
	require.NoError(t, r.SetActionsArchived(ctx, []string{a.ID}, true, t0))

	projects, err := r.ListProjects(ctx, ProjectFilters{StrategyID: s.ID})
	require.NoError(t, err)
	assert.Empty(t, projects)
	projects, err = r.ListProjects(ctx, ProjectFilters{StrategyID: s.ID, IncludeArchived: true})
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.True(t, projects[0].IsArchived)
	require.NotNil(t, projects[0].ArchivedBy)
	assert.Equal(t, "u1", *projects[0].ArchivedBy)

	actions, err := r.ListActions(ctx, ActionFilters{ProjectID: p.ID})
	require.NoError(t, err)
	assert.Empty(t, actions)

	require.NoError(t, r.SetProjectsArchived(ctx, []string{p.ID}, false, "", t0))
	got, err := r.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, got.IsArchived)
	assert.Nil(t, got.ArchivedAt)
}

func TestUnassignedActions(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedTree(t, r)
	require.NoError(t, r.InsertAction(ctx, domain.Action{ID: "loose", OrgID: "org", Title: "Loose", Status: domain.ActionNotStarted, CreatedAt: t0, UpdatedAt: t0}))

	actions, err := r.ListActions(ctx, ActionFilters{OrgID: "org", Unassigned: true})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "loose", actions[0].ID)
	assert.Nil(t, actions[0].ProjectID)
}

func TestDeleteStrategyCascadesToChildren(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	s, p, a := seedTree(t, r)
	require.NoError(t, r.InsertBarrier(ctx, domain.Barrier{ID: "b1", OrgID: "org", ProjectID: p.ID, Title: "Budget", Severity: "high", CreatedAt: t0}))

	require.NoError(t, r.DeleteStrategy(ctx, s.ID))

	_, err := r.GetProject(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.GetAction(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	barriers, err := r.ListBarriers(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, barriers)
}

func TestDeleteDependenciesForBothEndpoints(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	edges := []domain.Dependency{
		{ID: "d1", OrgID: "org", SourceType: domain.EntityProject, SourceID: "p1", TargetType: domain.EntityAction, TargetID: "a9", CreatedAt: t0},
		{ID: "d2", OrgID: "org", SourceType: domain.EntityAction, SourceID: "a8", TargetType: domain.EntityProject, TargetID: "p1", CreatedAt: t0},
		{ID: "d3", OrgID: "org", SourceType: domain.EntityAction, SourceID: "a1", TargetType: domain.EntityAction, TargetID: "a7", CreatedAt: t0},
		{ID: "d4", OrgID: "org", SourceType: domain.EntityProject, SourceID: "p2", TargetType: domain.EntityProject, TargetID: "p3", CreatedAt: t0},
		{ID: "d5", OrgID: "other", SourceType: domain.EntityProject, SourceID: "p1", TargetType: domain.EntityProject, TargetID: "p3", CreatedAt: t0},
	}
	for _, d := range edges {
		require.NoError(t, r.InsertDependency(ctx, d))
	}

	n, err := r.DeleteDependenciesFor(ctx, []string{"p1"}, []string{"a1"}, "org")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = r.DeleteDependenciesFor(ctx, []string{"p1"}, []string{"a1"}, "org")
	require.NoError(t, err)
	assert.Zero(t, n)

	left, err := r.ListDependencies(ctx, DependencyFilters{})
	require.NoError(t, err)
	ids := []string{}
	for _, d := range left {
		ids = append(ids, d.ID)
	}
	assert.ElementsMatch(t, []string{"d4", "d5"}, ids)

	n, err = r.DeleteDependenciesFor(ctx, nil, nil, "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDuplicateDependencyRejected(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	d := domain.Dependency{ID: "d1", OrgID: "org", SourceType: domain.EntityProject, SourceID: "p1", TargetType: domain.EntityProject, TargetID: "p2", CreatedAt: t0}
	require.NoError(t, r.InsertDependency(ctx, d))
	d.ID = "d2"
	assert.Error(t, r.InsertDependency(ctx, d))
}

func TestSnapshotsNewestFirstWithSequenceTiebreak(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	mk := func(id string, kind domain.SnapshotKind, at time.Time) domain.Snapshot {
		return domain.Snapshot{ID: id, OrgID: "org", EntityID: "p1", EntityType: domain.EntityProject, Kind: kind,
			State: json.RawMessage(`{"progress":40}`), ActorID: "u1", TakenAt: at}
	}
	first, err := r.InsertSnapshot(ctx, mk("s1", domain.SnapshotArchive, t0))
	require.NoError(t, err)
	second, err := r.InsertSnapshot(ctx, mk("s2", domain.SnapshotUnarchive, t0))
	require.NoError(t, err)
	_, err = r.InsertSnapshot(ctx, mk("s3", domain.SnapshotArchive, t0.Add(-time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)

	snaps, err := r.ListSnapshots(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, "s2", snaps[0].ID)
	assert.Equal(t, "s1", snaps[1].ID)
	assert.Equal(t, "s3", snaps[2].ID)
	assert.JSONEq(t, `{"progress":40}`, string(snaps[0].State))
}

func TestInTxRollsBackOnError(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := r.InTx(ctx, func(tx Store) error {
		require.NoError(t, tx.InsertStrategy(ctx, domain.Strategy{ID: "s1", OrgID: "org", Title: "x", Status: domain.StrategyActive, CreatedAt: t0, UpdatedAt: t0}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	_, err = r.GetStrategy(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestEventsFiltersAndCursor(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	for i, typ := range []string{"project.created", "action.updated", "project.updated"} {
		require.NoError(t, r.AppendEvent(ctx, domain.Event{TS: t0.Add(time.Duration(i) * time.Second).Format(time.RFC3339), Type: typ,
			OrgID: "org", EntityKind: "project", EntityID: "p1", ActorID: "u1", Payload: "{}"}))
	}
	evs, err := r.LatestEvents(ctx, EventFilters{OrgID: "org"})
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, "project.updated", evs[0].Type)

	older, err := r.LatestEvents(ctx, EventFilters{OrgID: "org", Cursor: evs[0].ID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, "action.updated", older[0].Type)

	typed, err := r.LatestEvents(ctx, EventFilters{Type: "project.created"})
	require.NoError(t, err)
	require.Len(t, typed, 1)
}
