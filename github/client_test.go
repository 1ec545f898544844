package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"githubtriage/logger"
	"githubtriage/models"
)

func init() {
	// Initialize logger for tests
	_ = logger.Initialize("debug")
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient("test-token", WithBaseURL(server.URL), WithTimeout(5*time.Second)), server
}

func TestNewClient(t *testing.T) {
	client := NewClient("test-token")

	assert.NotNil(t, client)
	assert.Equal(t, "test-token", client.token)
	assert.Equal(t, 30*time.Second, client.httpClient.Timeout)
	assert.Equal(t, DefaultBaseURL, client.baseURL.String())
	assert.NotNil(t, client.RateLimiter())

	shared := NewRateLimiter()
	client = NewClient("", WithBaseURL("https://github.example.com/api/v3/"), WithTimeout(time.Second), WithRateLimiter(shared))
	assert.Equal(t, "https://github.example.com/api/v3", client.baseURL.String())
	assert.Equal(t, time.Second, client.httpClient.Timeout)
	assert.Same(t, shared, client.RateLimiter())
}

func TestFetchPageRequest(t *testing.T) {
	since := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	testCases := []struct {
		name     string
		req      PageRequest
		checkReq func(t *testing.T, r *http.Request)
	}{
		{
			name: "incremental issues request",
			req: PageRequest{
				Owner: "acme", Name: "widgets", Kind: models.KindIssues, State: models.StateOpen,
				Since: &since, IfModifiedSince: &since, Page: 2, PerPage: 50,
				Filter: models.TypeFilter{Labels: []string{"bug", "ui"}, Assignee: "octocat", Creator: "hubot", Milestone: "3"},
			},
			checkReq: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "/repos/acme/widgets/issues", r.URL.Path)
				q := r.URL.Query()
				assert.Equal(t, "open", q.Get("state"))
				assert.Equal(t, "50", q.Get("per_page"))
				assert.Equal(t, "2", q.Get("page"))
				assert.Equal(t, "updated", q.Get("sort"))
				assert.Equal(t, "desc", q.Get("direction"))
				assert.Equal(t, "2024-01-02T03:04:05Z", q.Get("since"))
				assert.Equal(t, "bug,ui", q.Get("labels"))
				assert.Equal(t, "octocat", q.Get("assignee"))
				assert.Equal(t, "hubot", q.Get("creator"))
				assert.Equal(t, "3", q.Get("milestone"))
				assert.Equal(t, "Tue, 02 Jan 2024 03:04:05 GMT", r.Header.Get("If-Modified-Since"))
				assert.Equal(t, "token test-token", r.Header.Get("Authorization"))
				assert.Equal(t, "application/vnd.github.v3+json", r.Header.Get("Accept"))
			},
		},
		{
			name: "full pulls request",
			req:  PageRequest{Owner: "acme", Name: "widgets", Kind: models.KindPullRequests, Since: &since},
			checkReq: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "/repos/acme/widgets/pulls", r.URL.Path)
				q := r.URL.Query()
				assert.Equal(t, "all", q.Get("state"))
				assert.Equal(t, "100", q.Get("per_page"))
				assert.Equal(t, "1", q.Get("page"))
				assert.Empty(t, q.Get("since"))
				assert.Empty(t, r.Header.Get("If-Modified-Since"))
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				tc.checkReq(t, r)
				w.Write([]byte("[]"))
			})

			page, err := client.FetchPage(context.Background(), tc.req)
			require.NoError(t, err)
			assert.Empty(t, page.Items)
			assert.False(t, page.HasNext)
		})
	}
}

func TestFetchPageResponses(t *testing.T) {
	reset := time.Now().Add(30 * time.Minute).Unix()

	testCases := []struct {
		name        string
		handler     http.HandlerFunc
		expectedErr error
		check       func(t *testing.T, page *Page, err error)
	}{
		{
			name: "items and next link",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Link", `<https://api.github.com/repositories/1/issues?page=2>; rel="next", <https://api.github.com/repositories/1/issues?page=5>; rel="last"`)
				w.Header().Set("X-RateLimit-Remaining", "41")
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
				fmt.Fprint(w, `[
					{"number": 1, "title": "Bug", "state": "open", "user": {"login": "alice"},
					 "labels": [{"name": "bug", "color": "d73a4a"}], "assignee": {"login": "bob"},
					 "created_at": "2024-01-01T00:00:00Z", "updated_at": "2024-01-03T00:00:00Z"},
					{"number": 2, "title": "PR", "state": "open", "pull_request": {"url": "x"},
					 "created_at": "2024-01-01T00:00:00Z", "updated_at": "2024-01-02T00:00:00Z"}
				]`)
			},
			check: func(t *testing.T, page *Page, err error) {
				require.NoError(t, err)
				require.Len(t, page.Items, 2)
				assert.True(t, page.HasNext)
				assert.False(t, page.Items[0].IsPullRequest())
				assert.True(t, page.Items[1].IsPullRequest())
				assert.Equal(t, []string{"bob"}, page.Items[0].AssigneeLogins())
			},
		},
		{
			name: "last page",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Link", `<https://api.github.com/repositories/1/issues?page=1>; rel="prev"`)
				fmt.Fprint(w, `[{"number": 3, "state": "closed", "created_at": "2024-01-01T00:00:00Z", "updated_at": "2024-01-02T00:00:00Z"}]`)
			},
			check: func(t *testing.T, page *Page, err error) {
				require.NoError(t, err)
				assert.Len(t, page.Items, 1)
				assert.False(t, page.HasNext)
			},
		},
		{
			name: "not modified",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotModified)
			},
			check: func(t *testing.T, page *Page, err error) {
				require.NoError(t, err)
				assert.True(t, page.NotModified)
				assert.Empty(t, page.Items)
			},
		},
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
				w.WriteHeader(http.StatusForbidden)
			},
			expectedErr: ErrRateLimited,
			check: func(t *testing.T, page *Page, err error) {
				var rle *RateLimitError
				require.True(t, errors.As(err, &rle))
				assert.Equal(t, reset, rle.Reset.Unix())
				assert.True(t, IsRetryable(err))
			},
		},
		{
			name: "forbidden without quota exhaustion",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-RateLimit-Remaining", "10")
				w.WriteHeader(http.StatusForbidden)
				fmt.Fprint(w, `{"message": "Resource not accessible"}`)
			},
			check: func(t *testing.T, page *Page, err error) {
				var se *StatusError
				require.True(t, errors.As(err, &se))
				assert.Equal(t, http.StatusForbidden, se.Code)
				assert.Equal(t, "Resource not accessible", se.Message)
				assert.False(t, IsRetryable(err))
			},
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			expectedErr: ErrNotFound,
		},
		{
			name: "server error is transient",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			expectedErr: ErrTransient,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"not": "a list"}`)
			},
			check: func(t *testing.T, page *Page, err error) {
				assert.Error(t, err)
				assert.False(t, IsRetryable(err))
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, tc.handler)

			page, err := client.FetchPage(context.Background(), PageRequest{Owner: "acme", Name: "widgets", Kind: models.KindIssues})
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr)
			}
			if tc.check != nil {
				tc.check(t, page, err)
			}
		})
	}
}

func TestFetchPageGatedByRateLimiter(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte("[]"))
	})

	client.RateLimiter().Observe(RateLimit{Limit: 60, Remaining: 0, Reset: time.Now().Add(time.Hour)})

	_, err := client.FetchPage(context.Background(), PageRequest{Owner: "acme", Name: "widgets", Kind: models.KindIssues})
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	// Once the reset time has passed requests flow again.
	client.RateLimiter().Observe(RateLimit{Limit: 60, Remaining: 0, Reset: time.Now().Add(-time.Second)})
	_, err = client.FetchPage(context.Background(), PageRequest{Owner: "acme", Name: "widgets", Kind: models.KindIssues})
	assert.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchPageTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewClient("", WithBaseURL(server.URL), WithTimeout(50*time.Millisecond))
	_, err := client.FetchPage(context.Background(), PageRequest{Owner: "acme", Name: "widgets", Kind: models.KindIssues})
	assert.ErrorIs(t, err, ErrTransient)
}

func TestItemConversion(t *testing.T) {
	var it Item
	require.NoError(t, json.Unmarshal([]byte(`{
		"number": 9, "title": "Add thing", "body": "cc @Alice and @bob", "state": "closed",
		"html_url": "https://github.com/acme/widgets/pull/9",
		"user": {"login": "carol"}, "assignees": [{"login": "dave", "avatar_url": "a"}],
		"labels": [{"name": "feature", "color": "00ff00", "description": "new"}],
		"milestone": {"number": 1, "title": "v1"},
		"created_at": "2024-01-01T00:00:00Z", "updated_at": "2024-01-05T00:00:00Z",
		"closed_at": "2024-01-05T00:00:00Z", "merged_at": "2024-01-05T00:00:00Z",
		"draft": false, "base": {"ref": "main"}, "head": {"ref": "thing"}
	}`), &it))

	fetched := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
	pr := it.ToPullRequest("acme/widgets", fetched)

	assert.Equal(t, 9, pr.Number)
	assert.Equal(t, "carol", pr.Author)
	assert.Equal(t, "v1", pr.Milestone)
	assert.Equal(t, models.Strings{"alice", "bob"}, pr.Mentions)
	assert.Equal(t, models.Labels{{Name: "feature", Color: "00ff00", Description: "new"}}, pr.Labels)
	assert.Equal(t, models.Assignees{{Login: "dave", AvatarURL: "a"}}, pr.Assignees)
	assert.True(t, pr.Merged)
	assert.Equal(t, "main", pr.BaseRef)
	assert.Equal(t, "thing", pr.HeadRef)
	assert.Equal(t, fetched, pr.LastFetchedAt)
	assert.Equal(t, models.DefaultUserFields(), pr.UserFields)

	issue := it.ToIssue("acme/widgets", fetched)
	assert.Equal(t, models.StateClosed, issue.State)
	assert.Equal(t, models.PriorityUnset, issue.Priority)
}
