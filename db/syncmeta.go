package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"githubtriage/models"
)

const syncMetadataColumns = `repo, sync_type, cursor, last_success_at, last_attempt_at,
	status, error_message, items_synced`

// GetSyncMetadata returns the cursor record for repo and kind. A pair that was never synced
// yields a record with no cursor.
func (db *DB) GetSyncMetadata(ctx context.Context, repo string, kind models.Kind) (models.SyncMetadata, error) {
	meta := models.SyncMetadata{Repo: repo, SyncType: kind}
	if _, err := tableFor(kind); err != nil {
		return meta, err
	}

	stmt, err := db.getStmt(ctx, `SELECT `+syncMetadataColumns+` FROM sync_metadata WHERE repo = ? AND sync_type = ?`)
	if err != nil {
		return meta, err
	}
	if err := stmt.GetContext(ctx, &meta, repo, string(kind)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.SyncMetadata{Repo: repo, SyncType: kind}, nil
		}
		return meta, fmt.Errorf("failed to get sync metadata for %s/%s: %w", repo, kind, err)
	}
	return meta, nil
}

// SaveSyncMetadata records the outcome of a sync attempt. A nil cursor or success time keeps
// the stored value, so failed attempts never erase the incremental position.
func (db *DB) SaveSyncMetadata(ctx context.Context, meta models.SyncMetadata) error {
	if meta.Repo == "" {
		return fmt.Errorf("%w: sync metadata requires a repository", ErrInvalidInput)
	}
	if _, err := tableFor(meta.SyncType); err != nil {
		return err
	}

	query := `
		INSERT INTO sync_metadata (` + syncMetadataColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (repo, sync_type) DO UPDATE SET
			cursor = COALESCE(EXCLUDED.cursor, sync_metadata.cursor),
			last_success_at = COALESCE(EXCLUDED.last_success_at, sync_metadata.last_success_at),
			last_attempt_at = EXCLUDED.last_attempt_at,
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			items_synced = EXCLUDED.items_synced
	`
	_, err := db.conn.ExecContext(ctx, db.conn.Rebind(query),
		meta.Repo, string(meta.SyncType), utcPtr(meta.Cursor), utcPtr(meta.LastSuccessAt),
		utcPtr(meta.LastAttemptAt), meta.Status, meta.ErrorMessage, meta.ItemsSynced,
	)
	if err != nil {
		return fmt.Errorf("failed to save sync metadata for %s/%s: %w", meta.Repo, meta.SyncType, err)
	}
	return nil
}

// ListSyncMetadata returns every cursor record.
func (db *DB) ListSyncMetadata(ctx context.Context) ([]models.SyncMetadata, error) {
	var metas []models.SyncMetadata
	query := `SELECT ` + syncMetadataColumns + ` FROM sync_metadata ORDER BY repo, sync_type`
	if err := db.conn.SelectContext(ctx, &metas, query); err != nil {
		return nil, fmt.Errorf("failed to list sync metadata: %w", err)
	}
	return metas, nil
}
