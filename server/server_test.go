package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"githubtriage/db"
	"githubtriage/models"
	"githubtriage/service"
)

// MockSyncController is a mock implementation of SyncController
type MockSyncController struct {
	mock.Mock
}

func (m *MockSyncController) TriggerSync() error {
	return m.Called().Error(0)
}

func (m *MockSyncController) Status(ctx context.Context) (*service.Status, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Status), args.Error(1)
}

func (m *MockSyncController) Annotate(ctx context.Context, kind models.Kind, repo string, number int, a models.Annotation) error {
	return m.Called(ctx, kind, repo, number, a).Error(0)
}

func setupStore(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open("sqlite", ":memory:", db.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	ctx := context.Background()
	require.NoError(t, database.EnsureSchema(ctx))
	require.NoError(t, database.UpsertRepository(ctx, models.Repository{Repo: "acme/widgets", DisplayName: "Widgets", Active: true}))

	updated := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for _, n := range []int{1, 2} {
		_, err := database.UpsertIssue(ctx, &models.Issue{Item: models.Item{
			Repo: "acme/widgets", Number: n, Title: "Issue", State: models.StateOpen,
			CreatedAt: updated, UpdatedAt: updated.Add(time.Duration(n) * time.Hour), LastFetchedAt: updated,
		}})
		require.NoError(t, err)
	}
	return database
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTriggerSync(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "started", wantStatus: http.StatusAccepted},
		{name: "already running", err: service.ErrSyncInProgress, wantStatus: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := new(MockSyncController)
			ctrl.On("TriggerSync").Return(tt.err)
			srv := New(ctrl, setupStore(t), nil)

			rec := do(t, srv, http.MethodPost, "/api/sync", "")
			assert.Equal(t, tt.wantStatus, rec.Code)
			ctrl.AssertExpectations(t)
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	last := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ctrl := new(MockSyncController)
	ctrl.On("Status", mock.Anything).Return(&service.Status{LastSync: &last, QueueDepth: 2}, nil)
	srv := New(ctrl, setupStore(t), nil)

	rec := do(t, srv, http.MethodGet, "/api/sync/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["sync_in_progress"])
	assert.Equal(t, float64(2), body["queue_depth"])
	assert.Equal(t, "2024-01-02T03:04:05Z", body["last_sync"])
}

func TestListItems(t *testing.T) {
	srv := New(new(MockSyncController), setupStore(t), nil)

	rec := do(t, srv, http.MethodGet, "/api/issues?repo=acme/widgets&state=open", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var issues []models.Issue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issues))
	require.Len(t, issues, 2)
	assert.Equal(t, 2, issues[0].Number)

	rec = do(t, srv, http.MethodGet, "/api/pulls", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, strings.TrimSpace(rec.Body.String()))

	rec = do(t, srv, http.MethodGet, "/api/issues?triage=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/commits", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnnotate(t *testing.T) {
	priority := 2
	ctrl := new(MockSyncController)
	ctrl.On("Annotate", mock.Anything, models.KindIssues, "acme/widgets", 7, models.Annotation{Priority: &priority}).Return(nil)
	ctrl.On("Annotate", mock.Anything, models.KindPullRequests, "acme/widgets", 9, mock.Anything).Return(db.ErrItemNotFound)
	srv := New(ctrl, setupStore(t), nil)

	rec := do(t, srv, http.MethodPatch, "/api/issues/acme/widgets/7", `{"priority": 2}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodPatch, "/api/pulls/acme/widgets/9", `{"triage": true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPatch, "/api/issues/acme/widgets/abc", `{"triage": true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPatch, "/api/issues/acme/widgets/7", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	ctrl.AssertNumberOfCalls(t, "Annotate", 2)
}

func TestRepositoriesEndpoints(t *testing.T) {
	store := setupStore(t)
	srv := New(new(MockSyncController), store, nil)

	rec := do(t, srv, http.MethodPut, "/api/repositories/acme/widgets/active", `{"active": false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/repositories?active=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, strings.TrimSpace(rec.Body.String()))

	rec = do(t, srv, http.MethodGet, "/api/repositories", "")
	var repos []models.Repository
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &repos))
	require.Len(t, repos, 1)
	assert.False(t, repos[0].Active)

	rec = do(t, srv, http.MethodPut, "/api/repositories/acme/missing/active", `{"active": true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPut, "/api/repositories/acme/widgets/active", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryAndHealth(t *testing.T) {
	store := setupStore(t)
	require.NoError(t, store.AppendHistory(context.Background(), models.SyncHistory{
		SessionID: "s1", Repo: "acme/widgets", SyncType: models.KindIssues,
		Status: models.StatusSuccess, StartedAt: time.Now().UTC(),
	}))
	srv := New(new(MockSyncController), store, nil)

	rec := do(t, srv, http.MethodGet, "/api/sync/history?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history []models.SyncHistory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "s1", history[0].SessionID)

	rec = do(t, srv, http.MethodGet, "/api/sync/history?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
