package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"githubtriage/config"
	"githubtriage/logger"
)

const itemColumnsDDL = `
	repo TEXT NOT NULL,
	number INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT 'open',
	author TEXT NOT NULL DEFAULT '',
	html_url TEXT NOT NULL DEFAULT '',
	milestone TEXT NOT NULL DEFAULT '',
	assignees TEXT NOT NULL DEFAULT '[]',
	labels TEXT NOT NULL DEFAULT '[]',
	mentions TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	closed_at TIMESTAMP,
	last_fetched_at TIMESTAMP NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	triage BOOLEAN NOT NULL DEFAULT FALSE,
	priority INTEGER NOT NULL DEFAULT -1,
	comments TEXT NOT NULL DEFAULT '',`

func schema(driver string) []string {
	historyID := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == config.DriverPostgres {
		historyID = "id BIGSERIAL PRIMARY KEY"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS repositories (
			repo TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			categories TEXT NOT NULL DEFAULT '[]',
			priority INTEGER NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			filter_config TEXT NOT NULL DEFAULT '{}',
			language_group TEXT NOT NULL DEFAULT 'other',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS issues (` + itemColumnsDDL + `
			linked_prs TEXT NOT NULL DEFAULT '[]',
			PRIMARY KEY (repo, number)
		)`,
		`CREATE TABLE IF NOT EXISTS pull_requests (` + itemColumnsDDL + `
			draft BOOLEAN NOT NULL DEFAULT FALSE,
			merged BOOLEAN NOT NULL DEFAULT FALSE,
			merged_at TIMESTAMP,
			base_ref TEXT NOT NULL DEFAULT '',
			head_ref TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (repo, number)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_metadata (
			repo TEXT NOT NULL,
			sync_type TEXT NOT NULL,
			cursor TIMESTAMP,
			last_success_at TIMESTAMP,
			last_attempt_at TIMESTAMP,
			status TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			items_synced INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (repo, sync_type)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sync_history (
			%s,
			session_id TEXT NOT NULL,
			repo TEXT NOT NULL,
			sync_type TEXT NOT NULL,
			new_count INTEGER NOT NULL DEFAULT 0,
			updated_count INTEGER NOT NULL DEFAULT 0,
			total_count INTEGER NOT NULL DEFAULT 0,
			closed_count INTEGER NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMP NOT NULL
		)`, historyID),
		`CREATE INDEX IF NOT EXISTS idx_issues_repo_state ON issues (repo, state)`,
		`CREATE INDEX IF NOT EXISTS idx_pull_requests_repo_state ON pull_requests (repo, state)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_history_started_at ON sync_history (started_at)`,
	}
}

// EnsureSchema creates the tables and indexes that do not exist yet.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema(db.driver) {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", ErrSchema, err)
		}
	}
	logger.Debug("Database schema ready", zap.String("driver", db.driver))
	return nil
}
