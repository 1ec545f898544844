package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	gh "github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"githubtriage/logger"
)

// Enricher looks up cross-references between issues and pull requests through the GitHub SDK.
// It shares the rate limiter with the list client so both draw on one quota.
type Enricher struct {
	client  *gh.Client
	limiter *RateLimiter
	now     func() time.Time
}

// NewEnricher builds an SDK client. An empty token issues unauthenticated requests.
func NewEnricher(ctx context.Context, token, baseURL string, timeout time.Duration, limiter *RateLimiter) (*Enricher, error) {
	httpClient := &http.Client{Timeout: timeout}
	if token != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
		httpClient.Timeout = timeout
	}

	client := gh.NewClient(httpClient)
	if baseURL != "" && strings.TrimRight(baseURL, "/") != DefaultBaseURL {
		u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", baseURL, err)
		}
		client.BaseURL = u
	}
	if limiter == nil {
		limiter = NewRateLimiter()
	}
	return &Enricher{client: client, limiter: limiter, now: time.Now}, nil
}

// LinkedPullRequests returns the numbers of pull requests in the same repository that
// cross-reference the issue, sorted ascending.
func (e *Enricher) LinkedPullRequests(ctx context.Context, owner, name string, number int) ([]int, error) {
	if e.limiter.IsLimited(e.now()) {
		rl, _ := e.limiter.Snapshot()
		return nil, &RateLimitError{Reset: rl.Reset}
	}

	events, resp, err := e.client.Issues.ListIssueTimeline(ctx, owner, name, number, &gh.ListOptions{PerPage: 100})
	if resp != nil && resp.Rate.Limit > 0 {
		e.limiter.Observe(RateLimit{
			Limit:     resp.Rate.Limit,
			Remaining: resp.Rate.Remaining,
			Reset:     resp.Rate.Reset.Time.UTC(),
		})
	}
	if err != nil {
		return nil, translateSDKError(err)
	}

	fullName := strings.ToLower(owner + "/" + name)
	seen := make(map[int]bool)
	var linked []int
	for _, ev := range events {
		if ev.GetEvent() != "cross-referenced" || ev.Source == nil || ev.Source.Issue == nil {
			continue
		}
		src := ev.Source.Issue
		if !src.IsPullRequest() {
			continue
		}
		if repo := src.GetRepository().GetFullName(); repo != "" && strings.ToLower(repo) != fullName {
			continue
		}
		if n := src.GetNumber(); n > 0 && !seen[n] {
			seen[n] = true
			linked = append(linked, n)
		}
	}
	sort.Ints(linked)

	logger.Debug("Fetched issue cross-references",
		zap.String("repo", owner+"/"+name),
		zap.Int("number", number),
		zap.Int("linked_prs", len(linked)))
	return linked, nil
}

func translateSDKError(err error) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return &RateLimitError{Reset: rateErr.Rate.Reset.Time.UTC()}
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &RateLimitError{Reset: time.Now().Add(abuseErr.GetRetryAfter()).UTC()}
	}
	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		code := respErr.Response.StatusCode
		if code == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, respErr.Message)
		}
		return &StatusError{Code: code, Message: respErr.Message}
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
