package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"githubtriage/logger"
	"githubtriage/models"
)

const repositoryColumns = `repo, display_name, categories, priority, active,
	filter_config, language_group, created_at, updated_at`

// UpsertRepository stores a repository in the database. The creation time of an existing row
// is kept.
func (db *DB) UpsertRepository(ctx context.Context, repo models.Repository) error {
	if _, _, err := models.SplitRepo(repo.Repo); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if repo.DisplayName == "" {
		repo.DisplayName = repo.Repo
	}
	if repo.LanguageGroup == "" {
		repo.LanguageGroup = models.LanguageGroup(repo.Categories)
	}

	logger.Debug("Storing repository", zap.String("repo", repo.Repo))
	now := utcNow()
	query := `
		INSERT INTO repositories (` + repositoryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (repo) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			categories = EXCLUDED.categories,
			priority = EXCLUDED.priority,
			active = EXCLUDED.active,
			filter_config = EXCLUDED.filter_config,
			language_group = EXCLUDED.language_group,
			updated_at = EXCLUDED.updated_at
	`

	_, err := db.conn.ExecContext(ctx, db.conn.Rebind(query),
		repo.Repo, repo.DisplayName, repo.Categories, repo.Priority, repo.Active,
		repo.Filters, repo.LanguageGroup, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to store repository %s: %w", repo.Repo, err)
	}
	return nil
}

// ListRepositories returns the tracked repositories ordered by priority.
func (db *DB) ListRepositories(ctx context.Context, activeOnly bool) ([]models.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories`
	var args []any
	if activeOnly {
		query += ` WHERE active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY priority, repo`

	repos := []models.Repository{}
	if err := db.conn.SelectContext(ctx, &repos, db.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	return repos, nil
}

// GetRepository retrieves one repository by its owner/name identifier.
func (db *DB) GetRepository(ctx context.Context, repo string) (*models.Repository, error) {
	if repo == "" {
		return nil, fmt.Errorf("%w: repository cannot be empty", ErrInvalidInput)
	}

	var r models.Repository
	query := `SELECT ` + repositoryColumns + ` FROM repositories WHERE repo = ?`
	if err := db.conn.GetContext(ctx, &r, db.conn.Rebind(query), repo); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRepositoryNotFound, repo)
		}
		return nil, fmt.Errorf("failed to get repository %s: %w", repo, err)
	}
	return &r, nil
}

// SetRepositoryActive toggles whether a repository takes part in sync runs.
func (db *DB) SetRepositoryActive(ctx context.Context, repo string, active bool) error {
	query := `UPDATE repositories SET active = ?, updated_at = ? WHERE repo = ?`
	res, err := db.conn.ExecContext(ctx, db.conn.Rebind(query), active, utcNow(), repo)
	if err != nil {
		return fmt.Errorf("failed to update repository %s: %w", repo, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRepositoryNotFound, repo)
	}
	logger.Info("Repository activation changed", zap.String("repo", repo), zap.Bool("active", active))
	return nil
}
