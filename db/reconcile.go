package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"githubtriage/logger"
	"githubtriage/models"
)

func tableFor(kind models.Kind) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, kind)
	}
	return string(kind), nil
}

// OpenNumbers returns the numbers stored as open for repo.
func (db *DB) OpenNumbers(ctx context.Context, kind models.Kind, repo string) ([]int, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	stmt, err := db.getStmt(ctx, `SELECT number FROM `+table+` WHERE repo = ? AND state = 'open' ORDER BY number`)
	if err != nil {
		return nil, err
	}
	var numbers []int
	if err := stmt.SelectContext(ctx, &numbers, repo); err != nil {
		return nil, fmt.Errorf("failed to load open %s for %s: %w", table, repo, err)
	}
	return numbers, nil
}

// ReconcileClosed marks items stored as open but absent from openNow as closed and returns how
// many rows changed. An empty openNow against a non-empty stored set changes nothing: that
// shape comes from a degraded fetch far more often than from every item closing at once.
func (db *DB) ReconcileClosed(ctx context.Context, kind models.Kind, repo string, openNow []int, now time.Time) (int, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	stored, err := db.OpenNumbers(ctx, kind, repo)
	if err != nil {
		return 0, err
	}
	if len(stored) == 0 {
		return 0, nil
	}
	if len(openNow) == 0 {
		logger.Warn("Skipping closed detection: upstream reported no open items",
			zap.String("repo", repo),
			zap.String("kind", string(kind)),
			zap.Int("stored_open", len(stored)))
		return 0, nil
	}

	current := make(map[int]struct{}, len(openNow))
	for _, n := range openNow {
		current[n] = struct{}{}
	}

	stmt, err := db.getStmt(ctx, `UPDATE `+table+`
		SET state = 'closed', closed_at = COALESCE(closed_at, ?), last_fetched_at = ?
		WHERE repo = ? AND number = ? AND state = 'open'`)
	if err != nil {
		return 0, err
	}

	now = now.UTC()
	closed := 0
	for _, number := range stored {
		if _, ok := current[number]; ok {
			continue
		}
		res, err := stmt.ExecContext(ctx, now, now, repo, number)
		if err != nil {
			return closed, fmt.Errorf("failed to close %s %s#%d: %w", table, repo, number, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			closed++
		}
	}

	if closed > 0 {
		logger.Info("Marked externally closed items",
			zap.String("repo", repo),
			zap.String("kind", string(kind)),
			zap.Int("closed", closed))
	}
	return closed, nil
}
