package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratline/internal/config"
	"stratline/internal/db"
	"stratline/internal/domain"
	"stratline/internal/engine"
	"stratline/internal/migrate"
	"stratline/internal/notify"
	"stratline/internal/repo"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Repo   repo.Repo
	Ctx    context.Context
	Sent   *[]notify.Notification
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, dialect))
	r := repo.New(conn, dialect)
	sent := &[]notify.Notification{}
	recorder := notify.Func(func(_ context.Context, n notify.Notification) error {
		*sent = append(*sent, n)
		return nil
	})
	eng := engine.New(r, config.Default("org-a"),
		engine.WithNotifier(recorder),
		engine.WithClock(func() time.Time { return t0 }))
	return testEnv{Engine: eng, Repo: r, Ctx: context.Background(), Sent: sent}
}

func (env testEnv) strategy(t *testing.T, org string) domain.Strategy {
	t.Helper()
	s, err := env.Engine.CreateStrategy(env.Ctx, engine.CreateStrategyOptions{OrgID: org, Title: "Grow revenue", OwnerID: "owner-1", ActorID: "u1"})
	require.NoError(t, err)
	return s
}

func (env testEnv) project(t *testing.T, s domain.Strategy, title string) domain.Project {
	t.Helper()
	p, _, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{OrgID: s.OrgID, StrategyID: s.ID, Title: title, OwnerID: "owner-1", ActorID: "u1"})
	require.NoError(t, err)
	return p
}

func (env testEnv) action(t *testing.T, p domain.Project, title string) domain.Action {
	t.Helper()
	a, _, err := env.Engine.CreateAction(env.Ctx, engine.CreateActionOptions{OrgID: p.OrgID, ProjectID: p.ID, Title: title, ActorID: "u1"})
	require.NoError(t, err)
	return a
}

func (env testEnv) setStatus(t *testing.T, a domain.Action, status string) (domain.Action, engine.CascadeResult) {
	t.Helper()
	updated, res, err := env.Engine.UpdateAction(env.Ctx, engine.UpdateActionOptions{ID: a.ID, OrgID: a.OrgID, ActorID: "u1", Status: &status})
	require.NoError(t, err)
	return updated, res
}

func strPtr(s string) *string { return &s }

func TestActionCascadeUpdatesProjectThenStrategy(t *testing.T) {
	env := newTestEnv(t)
	s := env.strategy(t, "org-a")
	p1 := env.project(t, s, "Launch")
	env.project(t, s, "Hire")
	a1 := env.action(t, p1, "one")
	env.action(t, p1, "two")
	env.action(t, p1, "three")

	_, res := env.setStatus(t, a1, "achieved")
	require.Empty(t, res.Warnings)
	require.NotNil(t, res.Project)
	require.NotNil(t, res.Strategy)
	assert.Equal(t, 33, res.Project.Progress)
	assert.Equal(t, 17, res.Strategy.Progress)

	storedP, err := env.Repo.GetProject(env.Ctx, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, 33, storedP.Progress)
	storedS, err := env.Repo.GetStrategy(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 17, storedS.Progress)
}

func TestStrategyAutoCompletesAndReverts(t *testing.T) {
	env := newTestEnv(t)
	s := env.strategy(t, "org-a")
	p1 := env.project(t, s, "A")
	p2 := env.project(t, s, "B")
	env.setStatus(t, env.action(t, p1, "a"), "achieved")
	env.setStatus(t, env.action(t, p2, "b"), "achieved")

	got, err := env.Repo.GetStrategy(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, domain.StrategyActive, got.Status, "projects not marked completed yet")

	for _, p := range []domain.Project{p1, p2} {
		_, _, err := env.Engine.UpdateProject(env.Ctx, engine.UpdateProjectOptions{ID: p.ID, OrgID: "org-a", Status: strPtr("Completed")})
		require.NoError(t, err)
	}
	got, err = env.Repo.GetStrategy(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyCompleted, got.Status)

	// a new open action drops p1 to 50 and the average to 75
	_, res, err := env.Engine.CreateAction(env.Ctx, engine.CreateActionOptions{OrgID: "org-a", ProjectID: p1.ID, Title: "late"})
	require.NoError(t, err)
	require.NotNil(t, res.Strategy)
	assert.Equal(t, 75, res.Strategy.Progress)
	assert.Equal(t, domain.StrategyActive, res.Strategy.Status)

	var flips []string
	for _, n := range *env.Sent {
		if n.Kind == notify.KindStatusChanged {
			flips = append(flips, n.OldValue+"->"+n.NewValue)
		}
	}
	assert.Equal(t, []string{"Active->Completed", "Completed->Active"}, flips)
}

func TestAchievedAtFollowsStatus(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, env.strategy(t, "org-a"), "P")
	a := env.action(t, p, "x")
	assert.Nil(t, a.AchievedAt)

	a, _ = env.setStatus(t, a, "achieved")
	require.NotNil(t, a.AchievedAt)
	assert.True(t, a.AchievedAt.Equal(t0))

	a, _ = env.setStatus(t, a, "in_progress")
	assert.Nil(t, a.AchievedAt)
	stored, err := env.Repo.GetAction(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.AchievedAt)
}

func TestArchiveAndUnarchiveProject(t *testing.T) {
	env := newTestEnv(t)
	s := env.strategy(t, "org-a")
	p := env.project(t, s, "Archive me")
	other := env.project(t, s, "Other")
	a1 := env.action(t, p, "done")
	a2 := env.action(t, p, "open")
	env.setStatus(t, a1, "achieved")

	_, err := env.Engine.CreateDependency(env.Ctx, engine.CreateDependencyOptions{OrgID: "org-a", SourceType: "action", SourceID: a2.ID, TargetType: "project", TargetID: other.ID})
	require.NoError(t, err)
	_, err = env.Engine.CreateDependency(env.Ctx, engine.CreateDependencyOptions{OrgID: "org-a", SourceType: "project", SourceID: other.ID, TargetType: "project", TargetID: p.ID})
	require.NoError(t, err)

	wake := t0.AddDate(0, 1, 0)
	archived, res, err := env.Engine.ArchiveProject(env.Ctx, engine.ArchiveProjectOptions{
		ProjectID: p.ID, OrgID: "org-a", ActorID: "u1", Reason: "paused", WakeUpDate: &wake,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.True(t, archived.IsArchived)
	require.NotNil(t, archived.ProgressAtArchive)
	assert.Equal(t, 50, *archived.ProgressAtArchive)
	require.NotNil(t, archived.ArchivedBy)
	assert.Equal(t, "u1", *archived.ArchivedBy)

	deps, err := env.Engine.ListDependencies(env.Ctx, "org-a", "", "")
	require.NoError(t, err)
	assert.Empty(t, deps)

	actions, err := env.Repo.ListActions(env.Ctx, repo.ActionFilters{ProjectID: p.ID, IncludeArchived: true})
	require.NoError(t, err)
	for _, a := range actions {
		assert.True(t, a.IsArchived)
	}
	// only the unarchived sibling counts now
	require.NotNil(t, res.Strategy)
	assert.Equal(t, 0, res.Strategy.Progress)

	_, _, err = env.Engine.ArchiveProject(env.Ctx, engine.ArchiveProjectOptions{ProjectID: p.ID, OrgID: "org-a", ActorID: "u1"})
	var verr *engine.ValidationError
	assert.ErrorAs(t, err, &verr)

	restored, _, err := env.Engine.UnarchiveProject(env.Ctx, engine.UnarchiveProjectOptions{ProjectID: p.ID, OrgID: "org-a", ActorID: "u1"})
	require.NoError(t, err)
	assert.False(t, restored.IsArchived)
	assert.Nil(t, restored.ArchivedAt)
	assert.Nil(t, restored.ArchiveReason)
	assert.Nil(t, restored.WakeUpDate)
	require.NotNil(t, restored.ProgressAtArchive)
	assert.Equal(t, 50, *restored.ProgressAtArchive)
	assert.Equal(t, 50, restored.Progress)

	snaps, err := env.Engine.ListSnapshots(env.Ctx, p.ID, "org-a")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, domain.SnapshotUnarchive, snaps[0].Kind)
	assert.Equal(t, domain.SnapshotArchive, snaps[1].Kind)
	assert.Greater(t, snaps[0].Seq, snaps[1].Seq)
	assert.Contains(t, string(snaps[1].State), `"actions"`)
}

func TestDependencyCollectorIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	s := env.strategy(t, "org-a")
	p1 := env.project(t, s, "one")
	p2 := env.project(t, s, "two")
	a := env.action(t, p2, "x")
	for _, o := range []engine.CreateDependencyOptions{
		{OrgID: "org-a", SourceType: "project", SourceID: p1.ID, TargetType: "project", TargetID: p2.ID},
		{OrgID: "org-a", SourceType: "action", SourceID: a.ID, TargetType: "project", TargetID: p1.ID},
	} {
		_, err := env.Engine.CreateDependency(env.Ctx, o)
		require.NoError(t, err)
	}

	n, err := env.Engine.DeleteDependenciesForEntities(env.Ctx, []string{p1.ID}, nil, "org-a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = env.Engine.DeleteDependenciesForEntities(env.Ctx, []string{p1.ID}, nil, "org-a")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = env.Engine.DeleteDependenciesForEntities(env.Ctx, nil, nil, "org-a")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = env.Engine.DeleteDependenciesForEntities(env.Ctx, []string{""}, nil, "org-a")
	var verr *engine.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCrossTenantDependencyRejected(t *testing.T) {
	env := newTestEnv(t)
	pa := env.project(t, env.strategy(t, "org-a"), "A")
	pb := env.project(t, env.strategy(t, "org-b"), "B")

	_, err := env.Engine.CreateDependency(env.Ctx, engine.CreateDependencyOptions{
		OrgID: "org-a", SourceType: "project", SourceID: pa.ID, TargetType: "project", TargetID: pb.ID,
	})
	var cross *engine.CrossTenantViolation
	require.ErrorAs(t, err, &cross)
	assert.Equal(t, "org-b", cross.EntityOrg)

	deps, err := env.Repo.ListDependencies(env.Ctx, repo.DependencyFilters{})
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestCreateDependencyValidation(t *testing.T) {
	env := newTestEnv(t)
	s := env.strategy(t, "org-a")
	p := env.project(t, s, "P")
	q := env.project(t, s, "Q")

	cases := map[string]engine.CreateDependencyOptions{
		"self edge":    {OrgID: "org-a", SourceType: "project", SourceID: p.ID, TargetType: "project", TargetID: p.ID},
		"bad type":     {OrgID: "org-a", SourceType: "strategy", SourceID: p.ID, TargetType: "project", TargetID: q.ID},
		"missing type": {OrgID: "org-a", SourceID: p.ID, TargetType: "project", TargetID: q.ID},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.Engine.CreateDependency(env.Ctx, opts)
			var verr *engine.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}

	_, err := env.Engine.CreateDependency(env.Ctx, engine.CreateDependencyOptions{OrgID: "org-a", SourceType: "project", SourceID: p.ID, TargetType: "action", TargetID: "ghost"})
	assert.ErrorIs(t, err, engine.ErrNotFound)

	opts := engine.CreateDependencyOptions{OrgID: "org-a", SourceType: "project", SourceID: p.ID, TargetType: "project", TargetID: q.ID}
	_, err = env.Engine.CreateDependency(env.Ctx, opts)
	require.NoError(t, err)
	_, err = env.Engine.CreateDependency(env.Ctx, opts)
	var verr *engine.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCopyProjectAsTemplateResetsDates(t *testing.T) {
	env := newTestEnv(t)
	s := env.strategy(t, "org-a")
	start := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	due := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	src, _, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{OrgID: "org-a", StrategyID: s.ID, Title: "Q4 push", StartDate: &start, DueDate: &due})
	require.NoError(t, err)
	cur := 7.0
	kept, _, err := env.Engine.CreateAction(env.Ctx, engine.CreateActionOptions{OrgID: "org-a", ProjectID: src.ID, Title: "kept", Status: "achieved", CurrentValue: &cur, Notes: "history", DueDate: &due})
	require.NoError(t, err)
	dropped := env.action(t, src, "dropped")
	require.NoError(t, env.Repo.SetActionsArchived(env.Ctx, []string{dropped.ID}, true, t0))

	cp, _, err := env.Engine.CopyProject(env.Ctx, engine.CopyProjectOptions{SourceProjectID: src.ID, NewTitle: "Template", ActorID: "u1", OrgID: "org-a", AsTemplate: true})
	require.NoError(t, err)
	assert.True(t, cp.IsTemplate)
	assert.Equal(t, domain.ProjectNotYetStarted, cp.Status)
	assert.Zero(t, cp.Progress)
	require.NotNil(t, cp.StartDate)
	require.NotNil(t, cp.DueDate)
	assert.True(t, cp.StartDate.Equal(t0))
	assert.True(t, cp.DueDate.Equal(t0.AddDate(0, 0, 30)))

	actions, err := env.Repo.ListActions(env.Ctx, repo.ActionFilters{ProjectID: cp.ID, IncludeArchived: true})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	c := actions[0]
	assert.Equal(t, kept.Title, c.Title)
	assert.Equal(t, domain.ActionNotStarted, c.Status)
	assert.Nil(t, c.CurrentValue)
	assert.Empty(t, c.Notes)
	require.NotNil(t, c.DueDate)
	assert.True(t, c.DueDate.Equal(t0.AddDate(0, 0, 14)))
}

func TestCopyArchivedProjectKeepsItsActions(t *testing.T) {
	env := newTestEnv(t)
	src := env.project(t, env.strategy(t, "org-a"), "Old launch")
	first := env.action(t, src, "first")
	env.setStatus(t, first, "achieved")
	env.action(t, src, "second")
	_, _, err := env.Engine.ArchiveProject(env.Ctx, engine.ArchiveProjectOptions{ProjectID: src.ID, OrgID: "org-a", ActorID: "u1", Reason: "done"})
	require.NoError(t, err)

	cp, res, err := env.Engine.CopyProject(env.Ctx, engine.CopyProjectOptions{SourceProjectID: src.ID, NewTitle: "Relaunch", ActorID: "u1", OrgID: "org-a", AsTemplate: true})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.False(t, cp.IsArchived)

	actions, err := env.Repo.ListActions(env.Ctx, repo.ActionFilters{ProjectID: cp.ID})
	require.NoError(t, err)
	require.Len(t, actions, 2)
	for _, a := range actions {
		assert.False(t, a.IsArchived)
		assert.Equal(t, domain.ActionNotStarted, a.Status)
	}
}

func TestCopyProjectShiftsDatesByOffset(t *testing.T) {
	env := newTestEnv(t)
	s := env.strategy(t, "org-a")
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	due := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	src, _, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{OrgID: "org-a", StrategyID: s.ID, Title: "Sprint", StartDate: &start, DueDate: &due})
	require.NoError(t, err)
	actDue := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	cur := 3.0
	_, _, err = env.Engine.CreateAction(env.Ctx, engine.CreateActionOptions{OrgID: "org-a", ProjectID: src.ID, Title: "a", Status: "in_progress", DueDate: &actDue, CurrentValue: &cur, Notes: "keep"})
	require.NoError(t, err)

	cp, _, err := env.Engine.CopyProject(env.Ctx, engine.CopyProjectOptions{SourceProjectID: src.ID, OrgID: "org-a", ActorID: "u1"})
	require.NoError(t, err)
	assert.False(t, cp.IsTemplate)
	assert.Equal(t, "Sprint (copy)", cp.Title)

	// 2026-02-01 to 2026-03-01 is 28 days
	require.NotNil(t, cp.StartDate)
	assert.True(t, cp.StartDate.Equal(start.AddDate(0, 0, 28)))
	assert.Equal(t, due.Sub(start), cp.DueDate.Sub(*cp.StartDate))

	actions, err := env.Repo.ListActions(env.Ctx, repo.ActionFilters{ProjectID: cp.ID})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.True(t, actions[0].DueDate.Equal(actDue.AddDate(0, 0, 28)))
	assert.Equal(t, "keep", actions[0].Notes)
	require.NotNil(t, actions[0].CurrentValue)
	assert.Equal(t, 3.0, *actions[0].CurrentValue)
	assert.Equal(t, domain.ActionNotStarted, actions[0].Status)
}

func TestStrategyCompleteThenArchive(t *testing.T) {
	env := newTestEnv(t)
	s := env.strategy(t, "org-a")
	p1 := env.project(t, s, "one")
	p2 := env.project(t, s, "two")
	a := env.action(t, p1, "x")
	_, err := env.Engine.CreateDependency(env.Ctx, engine.CreateDependencyOptions{OrgID: "org-a", SourceType: "action", SourceID: a.ID, TargetType: "project", TargetID: p2.ID})
	require.NoError(t, err)

	_, _, err = env.Engine.ArchiveStrategy(env.Ctx, s.ID, "org-a", "u1")
	var verr *engine.ValidationError
	require.ErrorAs(t, err, &verr)

	done, removed, err := env.Engine.CompleteStrategy(env.Ctx, s.ID, "org-a", "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyCompleted, done.Status)
	require.NotNil(t, done.CompletionDate)
	assert.True(t, done.CompletionDate.Equal(t0))
	assert.Equal(t, 1, removed)

	_, err = env.Engine.CreateDependency(env.Ctx, engine.CreateDependencyOptions{OrgID: "org-a", SourceType: "project", SourceID: p1.ID, TargetType: "project", TargetID: p2.ID})
	require.NoError(t, err)

	archived, removed, err := env.Engine.ArchiveStrategy(env.Ctx, s.ID, "org-a", "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyArchived, archived.Status)
	assert.Equal(t, 1, removed)

	projects, err := env.Repo.ListProjects(env.Ctx, repo.ProjectFilters{StrategyID: s.ID, IncludeArchived: true})
	require.NoError(t, err)
	require.Len(t, projects, 2)
	for _, p := range projects {
		assert.True(t, p.IsArchived)
	}
	stored, err := env.Repo.GetAction(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsArchived)
	// descendants were flagged, not snapshotted
	snaps, err := env.Engine.ListSnapshots(env.Ctx, p1.ID, "")
	require.NoError(t, err)
	assert.Empty(t, snaps)

	_, _, err = env.Engine.CompleteStrategy(env.Ctx, s.ID, "org-a", "u1")
	assert.ErrorAs(t, err, &verr)
}

type failingStore struct {
	repo.Store
}

func (f failingStore) InTx(ctx context.Context, fn func(repo.Store) error) error {
	return f.Store.InTx(ctx, func(tx repo.Store) error { return fn(failingStore{Store: tx}) })
}

func (f failingStore) SetStrategyRollup(context.Context, string, int, domain.StrategyStatus, time.Time) error {
	return errors.New("strategy row locked")
}

// actionReadLimit serves the first n GetAction calls and fails the rest.
type actionReadLimit struct {
	repo.Store
	left *int
}

func (s actionReadLimit) InTx(ctx context.Context, fn func(repo.Store) error) error {
	return s.Store.InTx(ctx, func(tx repo.Store) error { return fn(actionReadLimit{Store: tx, left: s.left}) })
}

func (s actionReadLimit) GetAction(ctx context.Context, id string) (domain.Action, error) {
	if *s.left <= 0 {
		return domain.Action{}, errors.New("read replica timeout")
	}
	*s.left--
	return s.Store.GetAction(ctx, id)
}

func TestActionMutationsCascadeWithoutRereadingTheAction(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, env.strategy(t, "org-a"), "P")
	existing := env.action(t, p, "existing")

	left := 0
	eng := env.Engine
	eng.Store = actionReadLimit{Store: env.Repo, left: &left}

	created, res, err := eng.CreateAction(env.Ctx, engine.CreateActionOptions{
		OrgID: "org-a", ProjectID: p.ID, Title: "done already", Status: "achieved", ActorID: "u1",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	require.NotNil(t, res.Project)
	assert.Equal(t, 50, res.Project.Progress)
	stored, err := env.Repo.GetAction(env.Ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionAchieved, stored.Status)

	// the update needs its initial load and nothing after the write
	left = 1
	status := "achieved"
	_, res, err = eng.UpdateAction(env.Ctx, engine.UpdateActionOptions{ID: existing.ID, OrgID: "org-a", Status: &status})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	require.NotNil(t, res.Strategy)
	assert.Equal(t, 100, res.Strategy.Progress)
	assert.Equal(t, 0, left)

	storedP, err := env.Repo.GetProject(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, storedP.Progress)
}

func TestStrategyWriteFailureIsOnlyAWarning(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, env.strategy(t, "org-a"), "P")
	a := env.action(t, p, "x")

	eng := env.Engine
	eng.Store = failingStore{Store: env.Repo}
	status := "achieved"
	updated, res, err := eng.UpdateAction(env.Ctx, engine.UpdateActionOptions{ID: a.ID, OrgID: "org-a", Status: &status})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionAchieved, updated.Status)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "strategy", res.Warnings[0].EntityKind)
	assert.Len(t, res.WarningMessages(), 1)
	require.NotNil(t, res.Project)
	assert.Nil(t, res.Strategy)

	stored, err := env.Repo.GetProject(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, stored.Progress)
	storedAction, err := env.Repo.GetAction(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionAchieved, storedAction.Status)

	// the next healthy cascade heals the strategy
	_, err = env.Engine.OnProjectChanged(env.Ctx, p.ID)
	require.NoError(t, err)
	s, err := env.Repo.GetStrategy(env.Ctx, p.StrategyID)
	require.NoError(t, err)
	assert.Equal(t, 100, s.Progress)
}

func TestReconcileRepairsDrift(t *testing.T) {
	env := newTestEnv(t)
	s := env.strategy(t, "org-a")
	p := env.project(t, s, "P")
	env.setStatus(t, env.action(t, p, "x"), "achieved")
	env.action(t, p, "y")

	require.NoError(t, env.Repo.SetProjectProgress(env.Ctx, p.ID, 7, t0))
	require.NoError(t, env.Repo.SetStrategyRollup(env.Ctx, s.ID, 99, domain.StrategyActive, t0))

	rep, err := env.Engine.Reconcile(env.Ctx, "org-a")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ProjectsChecked)
	assert.Equal(t, 1, rep.ProjectsRepaired)
	assert.Equal(t, 1, rep.StrategiesRepaired)
	assert.Empty(t, rep.Warnings)

	gotP, err := env.Repo.GetProject(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, gotP.Progress)
	gotS, err := env.Repo.GetStrategy(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, gotS.Progress)

	rep, err = env.Engine.Reconcile(env.Ctx, "org-a")
	require.NoError(t, err)
	assert.Zero(t, rep.ProjectsRepaired)
	assert.Zero(t, rep.StrategiesRepaired)
}

func TestMilestoneNotificationsOnUpwardCrossing(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, env.strategy(t, "org-a"), "P")
	a := env.action(t, p, "x")
	env.action(t, p, "y")
	*env.Sent = nil

	env.setStatus(t, a, "achieved")

	var thresholds []string
	for _, n := range *env.Sent {
		if n.Kind == notify.KindMilestone && n.EntityType == "project" {
			thresholds = append(thresholds, n.NewValue)
			assert.Equal(t, []string{"owner-1"}, n.RecipientIDs)
			assert.Equal(t, p.ID, n.EntityID)
		}
	}
	assert.Equal(t, []string{"25", "50"}, thresholds)

	*env.Sent = nil
	env.setStatus(t, a, "not_started")
	for _, n := range *env.Sent {
		assert.NotEqual(t, notify.KindMilestone, n.Kind)
	}
}

func TestNotifierFailureDoesNotFailMutation(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Notifier = notify.Func(func(context.Context, notify.Notification) error { return errors.New("smtp down") })
	p := env.project(t, env.strategy(t, "org-a"), "P")
	a := env.action(t, p, "x")
	_, res := env.setStatus(t, a, "achieved")
	assert.Empty(t, res.Warnings)
	require.NotNil(t, res.Project)
	assert.Equal(t, 100, res.Project.Progress)
}

func TestActionAssignmentAcrossTenantsRejected(t *testing.T) {
	env := newTestEnv(t)
	pa := env.project(t, env.strategy(t, "org-a"), "A")
	pb := env.project(t, env.strategy(t, "org-b"), "B")

	_, _, err := env.Engine.CreateAction(env.Ctx, engine.CreateActionOptions{OrgID: "org-a", ProjectID: pb.ID, Title: "x"})
	var cross *engine.CrossTenantViolation
	require.ErrorAs(t, err, &cross)

	a := env.action(t, pa, "mine")
	_, _, err = env.Engine.UpdateAction(env.Ctx, engine.UpdateActionOptions{ID: a.ID, OrgID: "org-a", ProjectID: &pb.ID})
	require.ErrorAs(t, err, &cross)
	stored, err := env.Repo.GetAction(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, pa.ID, *stored.ProjectID)
}

func TestReassignActionRollsUpBothParents(t *testing.T) {
	env := newTestEnv(t)
	s := env.strategy(t, "org-a")
	from := env.project(t, s, "from")
	to := env.project(t, s, "to")
	a := env.action(t, from, "x")
	env.setStatus(t, a, "achieved")

	_, res, err := env.Engine.UpdateAction(env.Ctx, engine.UpdateActionOptions{ID: a.ID, OrgID: "org-a", ProjectID: &to.ID})
	require.NoError(t, err)
	require.NotNil(t, res.Project)
	assert.Equal(t, to.ID, res.Project.ID)
	assert.Equal(t, 100, res.Project.Progress)

	gotFrom, err := env.Repo.GetProject(env.Ctx, from.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, gotFrom.Progress)
	gotS, err := env.Repo.GetStrategy(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, gotS.Progress)
}

func TestDeleteProjectCleansUpAndRollsUp(t *testing.T) {
	env := newTestEnv(t)
	s := env.strategy(t, "org-a")
	keep := env.project(t, s, "keep")
	gone := env.project(t, s, "gone")
	env.setStatus(t, env.action(t, keep, "k"), "achieved")
	ga := env.action(t, gone, "g")
	_, err := env.Engine.CreateDependency(env.Ctx, engine.CreateDependencyOptions{OrgID: "org-a", SourceType: "action", SourceID: ga.ID, TargetType: "project", TargetID: keep.ID})
	require.NoError(t, err)
	_, err = env.Engine.CreateBarrier(env.Ctx, engine.CreateBarrierOptions{OrgID: "org-a", ProjectID: gone.ID, Title: "budget"})
	require.NoError(t, err)

	res, err := env.Engine.DeleteProject(env.Ctx, gone.ID, "org-a", "u1")
	require.NoError(t, err)
	require.NotNil(t, res.Strategy)
	assert.Equal(t, 100, res.Strategy.Progress)

	_, err = env.Engine.GetAction(env.Ctx, ga.ID, "org-a")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	deps, err := env.Repo.ListDependencies(env.Ctx, repo.DependencyFilters{})
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestOtherTenantsEntitiesAreNotFound(t *testing.T) {
	env := newTestEnv(t)
	s := env.strategy(t, "org-a")
	p := env.project(t, s, "P")

	_, err := env.Engine.GetProject(env.Ctx, p.ID, "org-b")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = env.Engine.GetStrategy(env.Ctx, s.ID, "org-b")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, _, err = env.Engine.ArchiveProject(env.Ctx, engine.ArchiveProjectOptions{ProjectID: p.ID, OrgID: "org-b", ActorID: "u9"})
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = env.Engine.OnActionChanged(env.Ctx, "missing")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestMutationsAppendAuditEvents(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, env.strategy(t, "org-a"), "P")
	env.setStatus(t, env.action(t, p, "x"), "achieved")

	evs, err := env.Repo.LatestEvents(env.Ctx, repo.EventFilters{OrgID: "org-a", Limit: 100})
	require.NoError(t, err)
	types := map[string]bool{}
	for _, e := range evs {
		types[e.Type] = true
	}
	for _, want := range []string{"strategy.created", "project.created", "action.created", "action.updated", "project.progress.recomputed", "strategy.progress.recomputed"} {
		assert.True(t, types[want], want)
	}
}
