// Package fetcher walks the paginated GitHub listings for one repository and kind.
package fetcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"githubtriage/filter"
	"githubtriage/github"
	"githubtriage/logger"
	"githubtriage/models"
)

// GitHubClientInterface defines the GitHub client operations needed by the fetcher
type GitHubClientInterface interface {
	FetchPage(ctx context.Context, req github.PageRequest) (*github.Page, error)
}

// Options bounds the request volume of one fetch.
type Options struct {
	PerPage   int
	MaxPages  int
	PageDelay time.Duration
}

// Fetcher performs sequential, paginated listing requests.
type Fetcher struct {
	client GitHubClientInterface
	opts   Options
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Fetcher.
func New(client GitHubClientInterface, opts Options) *Fetcher {
	if opts.PerPage <= 0 || opts.PerPage > 100 {
		opts.PerPage = 100
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 1
	}
	return &Fetcher{client: client, opts: opts, sleep: sleepContext}
}

// Request describes one incremental or full fetch.
type Request struct {
	Repo   string
	Kind   models.Kind
	Filter models.TypeFilter
	// Cursor is the largest updated_at stored by the previous run; nil requests a full sync.
	Cursor *time.Time
	// LastSuccess makes the first page conditional.
	LastSuccess *time.Time
}

// Result is what a fetch produced. On error it holds whatever was collected before the
// failure.
type Result struct {
	Items       []github.Item
	Excluded    int
	NewCursor   *time.Time
	NotModified bool
	// Complete is false when the page cap cut pagination short or a page failed.
	Complete bool
	Pages    int
}

// Fetch lists items updated since the cursor. Pull request entries of the issues endpoint are
// dropped, exclude rules are applied, and the returned cursor is the largest updated_at seen,
// never earlier than the previous one.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	owner, name, err := models.SplitRepo(req.Repo)
	if err != nil {
		return nil, err
	}

	state := req.Filter.State
	if state == "" {
		state = models.StateAll
	}

	res := &Result{NewCursor: req.Cursor}
	var seen []github.Item
	err = f.paginate(ctx, github.PageRequest{
		Owner:           owner,
		Name:            name,
		Kind:            req.Kind,
		State:           state,
		Since:           req.Cursor,
		IfModifiedSince: req.LastSuccess,
		PerPage:         f.opts.PerPage,
		Filter:          req.Filter,
	}, res, func(it github.Item) bool {
		// /pulls has no since parameter; results are sorted by updated desc, so the first
		// item older than the cursor ends the incremental window.
		if req.Kind == models.KindPullRequests && req.Cursor != nil && it.UpdatedAt.Before(*req.Cursor) {
			return false
		}
		if res.NewCursor == nil || it.UpdatedAt.After(*res.NewCursor) {
			u := it.UpdatedAt.UTC()
			res.NewCursor = &u
		}
		if req.Kind == models.KindIssues && it.IsPullRequest() {
			return true
		}
		seen = append(seen, it)
		return true
	})

	res.Items, res.Excluded = filter.Apply(seen, req.Filter, req.Kind)

	logger.Info("Fetched items",
		zap.String("repo", req.Repo),
		zap.String("kind", string(req.Kind)),
		zap.Int("pages", res.Pages),
		zap.Int("items", len(res.Items)),
		zap.Int("excluded", res.Excluded),
		zap.Bool("not_modified", res.NotModified),
		zap.Bool("complete", res.Complete))
	return res, err
}

// OpenNumbers lists the numbers of every currently open item, ignoring filters and cursors.
// complete is false when the page cap truncated the listing.
func (f *Fetcher) OpenNumbers(ctx context.Context, repo string, kind models.Kind) ([]int, bool, error) {
	owner, name, err := models.SplitRepo(repo)
	if err != nil {
		return nil, false, err
	}

	res := &Result{}
	var numbers []int
	err = f.paginate(ctx, github.PageRequest{
		Owner:   owner,
		Name:    name,
		Kind:    kind,
		State:   models.StateOpen,
		PerPage: f.opts.PerPage,
	}, res, func(it github.Item) bool {
		if kind == models.KindIssues && it.IsPullRequest() {
			return true
		}
		if it.State == models.StateOpen {
			numbers = append(numbers, it.Number)
		}
		return true
	})
	if err != nil {
		return numbers, false, err
	}
	return numbers, res.Complete, nil
}

// paginate requests pages until the listing ends, visit returns false, or the cap is reached.
func (f *Fetcher) paginate(ctx context.Context, req github.PageRequest, res *Result, visit func(github.Item) bool) error {
	for page := 1; page <= f.opts.MaxPages; page++ {
		if page > 1 {
			if err := f.sleep(ctx, f.opts.PageDelay); err != nil {
				return err
			}
			req.IfModifiedSince = nil
		}
		req.Page = page

		p, err := f.client.FetchPage(ctx, req)
		if err != nil {
			return fmt.Errorf("%s/%s %s page %d: %w", req.Owner, req.Name, req.Kind, page, err)
		}
		res.Pages++

		if p.NotModified {
			res.NotModified = true
			res.Complete = true
			return nil
		}

		more := true
		for _, it := range p.Items {
			if !visit(it) {
				more = false
				break
			}
		}
		if !more || !p.HasNext || len(p.Items) == 0 {
			res.Complete = true
			return nil
		}
	}

	logger.Warn("Page cap reached",
		zap.String("repo", req.Owner+"/"+req.Name),
		zap.String("kind", string(req.Kind)),
		zap.Int("max_pages", f.opts.MaxPages))
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
