package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"githubtriage/logger"
	"githubtriage/models"
)

const (
	issueSelect = `SELECT repo, number, title, body, state, author, html_url, milestone,
		assignees, labels, mentions, created_at, updated_at, closed_at, last_fetched_at,
		content_hash, triage, priority, comments, linked_prs FROM issues`
	pullRequestSelect = `SELECT repo, number, title, body, state, author, html_url, milestone,
		assignees, labels, mentions, created_at, updated_at, closed_at, last_fetched_at,
		content_hash, triage, priority, comments, draft, merged, merged_at, base_ref, head_ref
		FROM pull_requests`
)

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func itemFilter(q models.ItemQuery) (string, []any) {
	var (
		where []string
		args  []any
	)
	if q.Repo != "" {
		where = append(where, "repo = ?")
		args = append(args, q.Repo)
	}
	if q.State != "" && q.State != models.StateAll {
		where = append(where, "state = ?")
		args = append(args, q.State)
	}
	if q.Triaged != nil {
		where = append(where, "triage = ?")
		args = append(args, *q.Triaged)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	p := models.NewPaginationParams(q.Page, q.PageSize)
	clause += " ORDER BY updated_at DESC, repo, number LIMIT ? OFFSET ?"
	args = append(args, p.PageSize, p.Offset())
	return clause, args
}

// ListIssues returns cached issues matching q, most recently updated first.
func (db *DB) ListIssues(ctx context.Context, q models.ItemQuery) ([]models.Issue, error) {
	clause, args := itemFilter(q)
	issues := []models.Issue{}
	if err := db.conn.SelectContext(ctx, &issues, db.conn.Rebind(issueSelect+clause), args...); err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	return issues, nil
}

// ListPullRequests returns cached pull requests matching q, most recently updated first.
func (db *DB) ListPullRequests(ctx context.Context, q models.ItemQuery) ([]models.PullRequest, error) {
	clause, args := itemFilter(q)
	prs := []models.PullRequest{}
	if err := db.conn.SelectContext(ctx, &prs, db.conn.Rebind(pullRequestSelect+clause), args...); err != nil {
		return nil, fmt.Errorf("failed to list pull requests: %w", err)
	}
	return prs, nil
}

// GetIssue retrieves one cached issue.
func (db *DB) GetIssue(ctx context.Context, repo string, number int) (*models.Issue, error) {
	var issue models.Issue
	query := db.conn.Rebind(issueSelect + ` WHERE repo = ? AND number = ?`)
	if err := db.conn.GetContext(ctx, &issue, query, repo, number); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: issue %s#%d", ErrItemNotFound, repo, number)
		}
		return nil, fmt.Errorf("failed to get issue %s#%d: %w", repo, number, err)
	}
	return &issue, nil
}

// GetPullRequest retrieves one cached pull request.
func (db *DB) GetPullRequest(ctx context.Context, repo string, number int) (*models.PullRequest, error) {
	var pr models.PullRequest
	query := db.conn.Rebind(pullRequestSelect + ` WHERE repo = ? AND number = ?`)
	if err := db.conn.GetContext(ctx, &pr, query, repo, number); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: pull request %s#%d", ErrItemNotFound, repo, number)
		}
		return nil, fmt.Errorf("failed to get pull request %s#%d: %w", repo, number, err)
	}
	return &pr, nil
}

// CountItems returns row counts per repository, kind and state.
func (db *DB) CountItems(ctx context.Context) ([]models.ItemCount, error) {
	query := `
		SELECT repo, 'issues' AS sync_type, state, COUNT(*) AS count
		FROM issues GROUP BY repo, state
		UNION ALL
		SELECT repo, 'pull_requests' AS sync_type, state, COUNT(*) AS count
		FROM pull_requests GROUP BY repo, state
		ORDER BY repo, sync_type, state
	`
	counts := []models.ItemCount{}
	if err := db.conn.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	return counts, nil
}

// UpdateAnnotation writes the user-entered fields of one item. Only the fields set in a are
// touched; GitHub-sourced columns are never part of the statement.
func (db *DB) UpdateAnnotation(ctx context.Context, kind models.Kind, repo string, number int, a models.Annotation) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	if repo == "" || number <= 0 {
		return fmt.Errorf("%w: annotation requires a repository and a positive number", ErrInvalidInput)
	}
	if err := a.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var (
		sets []string
		args []any
	)
	if a.Triage != nil {
		sets = append(sets, "triage = ?")
		args = append(args, *a.Triage)
	}
	if a.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *a.Priority)
	}
	if a.Comments != nil {
		sets = append(sets, "comments = ?")
		args = append(args, *a.Comments)
	}
	args = append(args, repo, number)

	query := `UPDATE ` + table + ` SET ` + strings.Join(sets, ", ") + ` WHERE repo = ? AND number = ?`
	res, err := db.conn.ExecContext(ctx, db.conn.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to annotate %s %s#%d: %w", table, repo, number, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s %s#%d", ErrItemNotFound, table, repo, number)
	}

	logger.Info("Annotation updated",
		zap.String("kind", table),
		zap.String("repo", repo),
		zap.Int("number", number))
	return nil
}

// OpenIssuesFetchedSince returns open issue numbers of repo written by a sync at or after
// since, most recently updated first.
func (db *DB) OpenIssuesFetchedSince(ctx context.Context, repo string, since time.Time, limit int) ([]int, error) {
	query := `SELECT number FROM issues
		WHERE repo = ? AND state = 'open' AND last_fetched_at >= ?
		ORDER BY updated_at DESC LIMIT ?`
	var numbers []int
	if err := db.conn.SelectContext(ctx, &numbers, db.conn.Rebind(query), repo, since.UTC(), limit); err != nil {
		return nil, fmt.Errorf("failed to select issues for enrichment: %w", err)
	}
	return numbers, nil
}

// SetLinkedPRs stores the pull requests that reference an issue.
func (db *DB) SetLinkedPRs(ctx context.Context, repo string, number int, prs models.Ints) error {
	if prs == nil {
		prs = models.Ints{}
	}
	query := `UPDATE issues SET linked_prs = ? WHERE repo = ? AND number = ?`
	if _, err := db.conn.ExecContext(ctx, db.conn.Rebind(query), prs, repo, number); err != nil {
		return fmt.Errorf("failed to store linked pull requests for %s#%d: %w", repo, number, err)
	}
	return nil
}
