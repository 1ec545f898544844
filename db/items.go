package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"githubtriage/logger"
	"githubtriage/models"
)

// itemColumns are the GitHub-sourced columns shared by both item tables. User-entered columns
// (triage, priority, comments) and enrichment columns are deliberately absent: the merge
// statements are generated from this list only.
var itemColumns = []string{
	"repo", "number", "title", "body", "state", "author", "html_url", "milestone",
	"assignees", "labels", "mentions", "created_at", "updated_at", "closed_at",
	"last_fetched_at", "content_hash",
}

var pullRequestColumns = append(append([]string{}, itemColumns...),
	"draft", "merged", "merged_at", "base_ref", "head_ref")

type mergeQueries struct {
	table      string
	selectHash string
	insert     string
	update     string
}

func newMergeQueries(table string, columns []string) mergeQueries {
	params := make([]string, len(columns))
	var sets []string
	for i, c := range columns {
		params[i] = ":" + c
		if c == "repo" || c == "number" {
			continue
		}
		sets = append(sets, c+" = :"+c)
	}

	return mergeQueries{
		table:      table,
		selectHash: `SELECT content_hash FROM ` + table + ` WHERE repo = ? AND number = ?`,
		insert: `INSERT INTO ` + table + ` (` + strings.Join(columns, ", ") + `)
			VALUES (` + strings.Join(params, ", ") + `)
			ON CONFLICT (repo, number) DO NOTHING`,
		update: `UPDATE ` + table + ` SET ` + strings.Join(sets, ", ") + `
			WHERE repo = :repo AND number = :number AND content_hash = :previous_hash`,
	}
}

var (
	issueMerge       = newMergeQueries(string(models.KindIssues), itemColumns)
	pullRequestMerge = newMergeQueries(string(models.KindPullRequests), pullRequestColumns)
)

func itemArgs(it *models.Item) map[string]any {
	return map[string]any{
		"repo":            it.Repo,
		"number":          it.Number,
		"title":           it.Title,
		"body":            it.Body,
		"state":           it.State,
		"author":          it.Author,
		"html_url":        it.HTMLURL,
		"milestone":       it.Milestone,
		"assignees":       it.Assignees,
		"labels":          it.Labels,
		"mentions":        it.Mentions,
		"created_at":      it.CreatedAt.UTC(),
		"updated_at":      it.UpdatedAt.UTC(),
		"closed_at":       utcPtr(it.ClosedAt),
		"last_fetched_at": it.LastFetchedAt.UTC(),
		"content_hash":    it.ContentHash,
	}
}

// UpsertIssue merges a fetched issue into storage. A new row gets default user fields; an
// existing row is rewritten only when its GitHub content changed, and never loses the values
// of triage, priority or comments.
func (db *DB) UpsertIssue(ctx context.Context, issue *models.Issue) (models.MergeResult, error) {
	if err := validateItem(&issue.Item); err != nil {
		return models.MergeResult{}, err
	}
	issue.ContentHash = issue.Fingerprint()
	return db.merge(ctx, issueMerge, &issue.Item, itemArgs(&issue.Item))
}

// UpsertPullRequest merges a fetched pull request into storage with the same guarantees as
// UpsertIssue.
func (db *DB) UpsertPullRequest(ctx context.Context, pr *models.PullRequest) (models.MergeResult, error) {
	if err := validateItem(&pr.Item); err != nil {
		return models.MergeResult{}, err
	}
	pr.ContentHash = pr.Fingerprint()
	args := itemArgs(&pr.Item)
	args["draft"] = pr.Draft
	args["merged"] = pr.Merged
	args["merged_at"] = utcPtr(pr.MergedAt)
	args["base_ref"] = pr.BaseRef
	args["head_ref"] = pr.HeadRef
	return db.merge(ctx, pullRequestMerge, &pr.Item, args)
}

func (db *DB) merge(ctx context.Context, q mergeQueries, it *models.Item, args map[string]any) (models.MergeResult, error) {
	var result models.MergeResult

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.GetContext(ctx, &existing, tx.Rebind(q.selectHash), it.Repo, it.Number)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.NamedExecContext(ctx, q.insert, args)
		if err != nil {
			return result, fmt.Errorf("failed to insert %s %s#%d: %w", q.table, it.Repo, it.Number, err)
		}
		n, _ := res.RowsAffected()
		result.IsNew = n > 0
	case err != nil:
		return result, fmt.Errorf("failed to look up %s %s#%d: %w", q.table, it.Repo, it.Number, err)
	case existing == it.ContentHash:
		return result, nil
	default:
		args["previous_hash"] = existing
		res, err := tx.NamedExecContext(ctx, q.update, args)
		if err != nil {
			return result, fmt.Errorf("failed to update %s %s#%d: %w", q.table, it.Repo, it.Number, err)
		}
		n, _ := res.RowsAffected()
		result.IsUpdated = n > 0
	}

	if err := tx.Commit(); err != nil {
		return models.MergeResult{}, fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}

	if result.IsNew || result.IsUpdated {
		logger.Debug("Merged item",
			zap.String("table", q.table),
			zap.String("repo", it.Repo),
			zap.Int("number", it.Number),
			zap.Bool("new", result.IsNew))
	}
	return result, nil
}

func validateItem(it *models.Item) error {
	if it.Repo == "" || it.Number <= 0 {
		return fmt.Errorf("%w: item requires a repository and a positive number", ErrInvalidInput)
	}
	if it.State != models.StateOpen && it.State != models.StateClosed {
		return fmt.Errorf("%w: unknown state %q for %s#%d", ErrInvalidInput, it.State, it.Repo, it.Number)
	}
	return nil
}
