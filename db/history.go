package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"githubtriage/models"
)

const historyColumns = `session_id, repo, sync_type, new_count, updated_count, total_count,
	closed_count, duration_ms, status, error_message, started_at`

// AppendHistory writes one sync attempt to the history log.
func (db *DB) AppendHistory(ctx context.Context, h models.SyncHistory) error {
	if h.SessionID == "" || h.Repo == "" || h.Status == "" {
		return fmt.Errorf("%w: history requires session, repository and status", ErrInvalidInput)
	}

	query := `INSERT INTO sync_history (` + historyColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.conn.ExecContext(ctx, db.conn.Rebind(query),
		h.SessionID, h.Repo, string(h.SyncType), h.NewCount, h.UpdatedCount, h.TotalCount,
		h.ClosedCount, h.DurationMS, h.Status, h.ErrorMessage, h.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append sync history for %s: %w", h.Repo, err)
	}
	return nil
}

// RecentHistory returns the latest history rows, newest first.
func (db *DB) RecentHistory(ctx context.Context, limit int) ([]models.SyncHistory, error) {
	return db.selectHistory(ctx, "", limit)
}

// RecentErrors returns the latest failed attempts, newest first.
func (db *DB) RecentErrors(ctx context.Context, limit int) ([]models.SyncHistory, error) {
	return db.selectHistory(ctx, models.StatusError, limit)
}

func (db *DB) selectHistory(ctx context.Context, status string, limit int) ([]models.SyncHistory, error) {
	if limit < 1 {
		limit = 50
	}

	query := `SELECT id, ` + historyColumns + ` FROM sync_history`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows := []models.SyncHistory{}
	if err := db.conn.SelectContext(ctx, &rows, db.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load sync history: %w", err)
	}
	return rows, nil
}

// LastSyncTime returns the start of the most recent recorded attempt, or nil before the first.
func (db *DB) LastSyncTime(ctx context.Context) (*time.Time, error) {
	var started time.Time
	err := db.conn.GetContext(ctx, &started, `SELECT started_at FROM sync_history ORDER BY started_at DESC, id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last sync time: %w", err)
	}
	return &started, nil
}
