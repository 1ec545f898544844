package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"githubtriage/logger"
	"githubtriage/models"
)

// DefaultBaseURL is the public GitHub REST API.
const DefaultBaseURL = "https://api.github.com"

var nextLinkPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// Client represents a GitHub API client
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    *url.URL
	limiter    *RateLimiter
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root, such as GitHub Enterprise or a test server.
func WithBaseURL(raw string) Option {
	return func(c *Client) {
		if u, err := url.Parse(strings.TrimRight(raw, "/")); err == nil && raw != "" {
			c.baseURL = u
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimiter shares a quota tracker between clients.
func WithRateLimiter(l *RateLimiter) Option {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

// NewClient creates a client. An empty token issues unauthenticated requests.
func NewClient(token string, opts ...Option) *Client {
	baseURL, _ := url.Parse(DefaultBaseURL)
	c := &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: baseURL,
		limiter: NewRateLimiter(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	logger.Info("Initializing GitHub client",
		zap.String("base_url", c.baseURL.String()),
		zap.Bool("authenticated", token != ""))
	return c
}

// RateLimiter returns the quota tracker consulted before every request.
func (c *Client) RateLimiter() *RateLimiter {
	return c.limiter
}

// PageRequest describes one page of an issues or pulls listing.
type PageRequest struct {
	Owner string
	Name  string
	Kind  models.Kind
	State string
	// Since limits the issues endpoint to items updated at or after the cursor.
	Since *time.Time
	// IfModifiedSince makes the request conditional.
	IfModifiedSince *time.Time
	Page            int
	PerPage         int
	// Filter carries include rules sent as query parameters where the endpoint supports them.
	Filter models.TypeFilter
}

// Page is one decoded page of results.
type Page struct {
	Items       []Item
	HasNext     bool
	NotModified bool
}

func (c *Client) pageURL(req PageRequest) *url.URL {
	path := fmt.Sprintf("%s/repos/%s/%s/%s", c.baseURL.Path, req.Owner, req.Name, req.Kind.Endpoint())
	reqURL := c.baseURL.ResolveReference(&url.URL{Path: path})

	state := req.State
	if state == "" {
		state = models.StateAll
	}
	perPage := req.PerPage
	if perPage <= 0 || perPage > 100 {
		perPage = 100
	}
	page := req.Page
	if page < 1 {
		page = 1
	}

	q := reqURL.Query()
	q.Set("state", state)
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(page))
	q.Set("sort", "updated")
	q.Set("direction", "desc")
	if req.Kind == models.KindIssues {
		if req.Since != nil && !req.Since.IsZero() {
			q.Set("since", req.Since.UTC().Format(time.RFC3339))
		}
		if len(req.Filter.Labels) > 0 {
			q.Set("labels", strings.Join(req.Filter.Labels, ","))
		}
		if req.Filter.Assignee != "" {
			q.Set("assignee", req.Filter.Assignee)
		}
		if req.Filter.Milestone != "" {
			q.Set("milestone", req.Filter.Milestone)
		}
		if req.Filter.Creator != "" {
			q.Set("creator", req.Filter.Creator)
		}
	}
	reqURL.RawQuery = q.Encode()
	return reqURL
}

// FetchPage requests a single page. The rate limiter is consulted first: while the quota is
// exhausted no request is made and a *RateLimitError is returned. A 304 response yields a page
// with NotModified set and no items.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("unknown kind %q", req.Kind)
	}
	if c.limiter.IsLimited(c.now()) {
		rl, _ := c.limiter.Snapshot()
		return nil, &RateLimitError{Reset: rl.Reset}
	}

	reqURL := c.pageURL(req)
	logger.Debug("Fetching page",
		zap.String("owner", req.Owner),
		zap.String("name", req.Name),
		zap.String("kind", string(req.Kind)),
		zap.Int("page", req.Page),
		zap.String("url", reqURL.String()))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("token %s", c.token))
	}
	httpReq.Header.Set("Accept", "application/vnd.github.v3+json")
	if req.IfModifiedSince != nil && !req.IfModifiedSince.IsZero() {
		httpReq.Header.Set("If-Modified-Since", req.IfModifiedSince.UTC().Format(http.TimeFormat))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("GitHub request failed",
			zap.Error(err),
			zap.String("owner", req.Owner),
			zap.String("name", req.Name))
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	c.limiter.Update(resp.Header)

	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotModified {
		return &Page{NotModified: true}, nil
	}

	var items []Item
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return nil, fmt.Errorf("failed to decode %s response: %w", req.Kind, err)
	}

	return &Page{
		Items:   items,
		HasNext: hasNextPage(resp.Header.Get("Link")),
	}, nil
}

func checkResponse(resp *http.Response) error {
	switch code := resp.StatusCode; {
	case code == http.StatusOK || code == http.StatusNotModified:
		return nil
	case (code == http.StatusForbidden || code == http.StatusTooManyRequests) &&
		resp.Header.Get("X-RateLimit-Remaining") == "0":
		rl, _ := parseRateLimit(resp.Header)
		return &RateLimitError{Reset: rl.Reset}
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, resp.Request.URL.Path)
	default:
		return &StatusError{Code: code, Message: errorMessage(resp.Body)}
	}
}

func errorMessage(body io.Reader) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 64<<10)).Decode(&payload); err != nil {
		return ""
	}
	return payload.Message
}

// hasNextPage reports whether a Link header advertises a rel="next" page.
func hasNextPage(linkHeader string) bool {
	return nextLinkPattern.MatchString(linkHeader)
}
