package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"githubtriage/models"
)

// setupSQLite opens a fresh in-memory database with the schema applied.
func setupSQLite(t *testing.T) *DB {
	t.Helper()
	database, err := Open("sqlite", ":memory:", Options{})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.EnsureSchema(context.Background()))
	return database
}

func TestUpsertIsIdempotent(t *testing.T) {
	db := setupSQLite(t)
	ctx := context.Background()

	var first, second models.MergeStats
	for _, n := range []int{1, 2} {
		res, err := db.UpsertIssue(ctx, testIssue(n, "issue"))
		require.NoError(t, err)
		first.Add(res)
	}
	for _, n := range []int{1, 2} {
		res, err := db.UpsertIssue(ctx, testIssue(n, "issue"))
		require.NoError(t, err)
		second.Add(res)
	}

	assert.Equal(t, models.MergeStats{New: 2, Total: 2}, first)
	assert.Equal(t, models.MergeStats{Unchanged: 2, Total: 2}, second)
}

func TestUpsertPreservesUserFields(t *testing.T) {
	db := setupSQLite(t)
	ctx := context.Background()

	_, err := db.UpsertIssue(ctx, testIssue(7, "Old title"))
	require.NoError(t, err)

	stored, err := db.GetIssue(ctx, "acme/widgets", 7)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultUserFields(), stored.UserFields)

	triage, priority, comments := true, 2, "x"
	require.NoError(t, db.UpdateAnnotation(ctx, models.KindIssues, "acme/widgets", 7, models.Annotation{
		Triage: &triage, Priority: &priority, Comments: &comments,
	}))

	changed := testIssue(7, "New title")
	changed.UpdatedAt = changed.UpdatedAt.Add(time.Hour)
	res, err := db.UpsertIssue(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, models.MergeResult{IsUpdated: true}, res)

	stored, err = db.GetIssue(ctx, "acme/widgets", 7)
	require.NoError(t, err)
	assert.Equal(t, "New title", stored.Title)
	assert.True(t, stored.Triage)
	assert.Equal(t, 2, stored.Priority)
	assert.Equal(t, "x", stored.Comments)
	assert.Equal(t, models.Labels{{Name: "bug", Color: "d73a4a"}}, stored.Labels)
}

func TestReconcileRefusesEmptyOpenSet(t *testing.T) {
	db := setupSQLite(t)
	ctx := context.Background()

	for _, n := range []int{1, 2, 3} {
		_, err := db.UpsertIssue(ctx, testIssue(n, "open"))
		require.NoError(t, err)
	}

	closed, err := db.ReconcileClosed(ctx, models.KindIssues, "acme/widgets", nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, closed)

	open, err := db.OpenNumbers(ctx, models.KindIssues, "acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, open)
}

func TestReconcileClosesStaleItems(t *testing.T) {
	db := setupSQLite(t)
	ctx := context.Background()

	for _, n := range []int{1, 2, 3} {
		_, err := db.UpsertIssue(ctx, testIssue(n, "open"))
		require.NoError(t, err)
	}

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	closed, err := db.ReconcileClosed(ctx, models.KindIssues, "acme/widgets", []int{1, 2}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	issue, err := db.GetIssue(ctx, "acme/widgets", 3)
	require.NoError(t, err)
	assert.Equal(t, models.StateClosed, issue.State)
	require.NotNil(t, issue.ClosedAt)
	assert.True(t, now.Equal(*issue.ClosedAt))
	assert.True(t, now.Equal(issue.LastFetchedAt))

	// A second pass finds nothing left to close.
	closed, err = db.ReconcileClosed(ctx, models.KindIssues, "acme/widgets", []int{1, 2}, now)
	require.NoError(t, err)
	assert.Equal(t, 0, closed)
}

func TestUpsertPullRequest(t *testing.T) {
	db := setupSQLite(t)
	ctx := context.Background()

	base := testIssue(10, "Add widgets").Item
	pr := &models.PullRequest{Item: base, Draft: true, BaseRef: "main", HeadRef: "feature"}
	res, err := db.UpsertPullRequest(ctx, pr)
	require.NoError(t, err)
	assert.True(t, res.IsNew)

	merged := base.UpdatedAt.Add(time.Hour)
	again := &models.PullRequest{Item: base, Merged: true, MergedAt: &merged, BaseRef: "main", HeadRef: "feature"}
	again.State = models.StateClosed
	again.ClosedAt = &merged
	res, err = db.UpsertPullRequest(ctx, again)
	require.NoError(t, err)
	assert.True(t, res.IsUpdated)

	stored, err := db.GetPullRequest(ctx, "acme/widgets", 10)
	require.NoError(t, err)
	assert.True(t, stored.Merged)
	assert.False(t, stored.Draft)
	require.NotNil(t, stored.MergedAt)
	assert.True(t, merged.Equal(*stored.MergedAt))
	assert.Equal(t, models.PriorityUnset, stored.Priority)
}

func TestSyncMetadataKeepsCursorOnFailure(t *testing.T) {
	db := setupSQLite(t)
	ctx := context.Background()

	meta, err := db.GetSyncMetadata(ctx, "acme/widgets", models.KindIssues)
	require.NoError(t, err)
	assert.Nil(t, meta.Cursor)

	cursor := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.SaveSyncMetadata(ctx, models.SyncMetadata{
		Repo: "acme/widgets", SyncType: models.KindIssues,
		Cursor: &cursor, LastSuccessAt: &cursor, LastAttemptAt: &cursor,
		Status: models.StatusSuccess, ItemsSynced: 2,
	}))

	attempt := cursor.Add(time.Hour)
	require.NoError(t, db.SaveSyncMetadata(ctx, models.SyncMetadata{
		Repo: "acme/widgets", SyncType: models.KindIssues,
		LastAttemptAt: &attempt, Status: models.StatusError, ErrorMessage: "boom",
	}))

	meta, err = db.GetSyncMetadata(ctx, "acme/widgets", models.KindIssues)
	require.NoError(t, err)
	require.NotNil(t, meta.Cursor)
	assert.True(t, cursor.Equal(*meta.Cursor))
	require.NotNil(t, meta.LastSuccessAt)
	assert.True(t, cursor.Equal(*meta.LastSuccessAt))
	assert.Equal(t, models.StatusError, meta.Status)
	assert.Equal(t, "boom", meta.ErrorMessage)

	all, err := db.ListSyncMetadata(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestHistory(t *testing.T) {
	db := setupSQLite(t)
	ctx := context.Background()

	last, err := db.LastSyncTime(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []models.SyncHistory{
		{SessionID: "s1", Repo: "acme/widgets", SyncType: models.KindIssues, Status: models.StatusSuccess, NewCount: 2, TotalCount: 2, StartedAt: start},
		{SessionID: "s1", Repo: "acme/gears", SyncType: models.KindIssues, Status: models.StatusError, ErrorMessage: "500", StartedAt: start.Add(time.Minute)},
		{SessionID: "s2", Repo: "acme/widgets", SyncType: models.KindPullRequests, Status: models.StatusNotModified, StartedAt: start.Add(time.Hour)},
	}
	for _, h := range rows {
		require.NoError(t, db.AppendHistory(ctx, h))
	}

	recent, err := db.RecentHistory(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "s2", recent[0].SessionID)
	assert.Equal(t, "acme/gears", recent[1].Repo)

	errs, err := db.RecentErrors(ctx, 5)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "500", errs[0].ErrorMessage)

	last, err = db.LastSyncTime(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, start.Add(time.Hour).Equal(*last))

	assert.ErrorIs(t, db.AppendHistory(ctx, models.SyncHistory{Repo: "acme/widgets"}), ErrInvalidInput)
}

func TestRepositoryLifecycle(t *testing.T) {
	db := setupSQLite(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertRepository(ctx, models.Repository{Repo: "acme/widgets", Priority: 2, Active: true, Categories: models.Strings{"go"}}))
	require.NoError(t, db.UpsertRepository(ctx, models.Repository{Repo: "acme/gears", Priority: 1, Active: true}))

	repos, err := db.ListRepositories(ctx, true)
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "acme/gears", repos[0].Repo)
	assert.Equal(t, "go", repos[1].LanguageGroup)

	require.NoError(t, db.SetRepositoryActive(ctx, "acme/gears", false))
	repos, err = db.ListRepositories(ctx, true)
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "acme/widgets", repos[0].Repo)

	all, err := db.ListRepositories(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.ErrorIs(t, db.SetRepositoryActive(ctx, "acme/missing", true), ErrRepositoryNotFound)
}

func TestListAndCountItems(t *testing.T) {
	db := setupSQLite(t)
	ctx := context.Background()

	for _, n := range []int{1, 2, 3} {
		_, err := db.UpsertIssue(ctx, testIssue(n, "open"))
		require.NoError(t, err)
	}
	triage := true
	require.NoError(t, db.UpdateAnnotation(ctx, models.KindIssues, "acme/widgets", 2, models.Annotation{Triage: &triage}))
	_, err := db.ReconcileClosed(ctx, models.KindIssues, "acme/widgets", []int{1, 2}, time.Now())
	require.NoError(t, err)

	open, err := db.ListIssues(ctx, models.ItemQuery{Repo: "acme/widgets", State: models.StateOpen})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	triaged, err := db.ListIssues(ctx, models.ItemQuery{Triaged: &triage})
	require.NoError(t, err)
	require.Len(t, triaged, 1)
	assert.Equal(t, 2, triaged[0].Number)

	paged, err := db.ListIssues(ctx, models.ItemQuery{PaginationParams: models.NewPaginationParams(2, 2)})
	require.NoError(t, err)
	assert.Len(t, paged, 1)

	counts, err := db.CountItems(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.ItemCount{
		{Repo: "acme/widgets", SyncType: models.KindIssues, State: models.StateClosed, Count: 1},
		{Repo: "acme/widgets", SyncType: models.KindIssues, State: models.StateOpen, Count: 2},
	}, counts)
}

func TestLinkedPRs(t *testing.T) {
	db := setupSQLite(t)
	ctx := context.Background()

	issue := testIssue(4, "needs fix")
	_, err := db.UpsertIssue(ctx, issue)
	require.NoError(t, err)

	numbers, err := db.OpenIssuesFetchedSince(ctx, "acme/widgets", issue.LastFetchedAt.Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, numbers)

	require.NoError(t, db.SetLinkedPRs(ctx, "acme/widgets", 4, models.Ints{12, 15}))
	stored, err := db.GetIssue(ctx, "acme/widgets", 4)
	require.NoError(t, err)
	assert.Equal(t, models.Ints{12, 15}, stored.LinkedPRs)

	// Linked pull requests survive a content change from GitHub.
	changed := testIssue(4, "needs a different fix")
	_, err = db.UpsertIssue(ctx, changed)
	require.NoError(t, err)
	stored, err = db.GetIssue(ctx, "acme/widgets", 4)
	require.NoError(t, err)
	assert.Equal(t, models.Ints{12, 15}, stored.LinkedPRs)
}
