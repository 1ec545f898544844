package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"githubtriage/models"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("DB_DRIVER", "")
	t.Setenv("DATABASE_URL", "")

	cfg := NewConfig()
	require.NoError(t, cfg.Load(""))

	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "triage.db", cfg.DatabaseURL)
	assert.Equal(t, 100, cfg.PerPage)
	assert.Equal(t, 6*time.Hour, cfg.SyncInterval)
	assert.Equal(t, 65*time.Minute, cfg.RateLimitDelay)
	assert.Equal(t, 3, cfg.MaxRetryAttempts)
	assert.True(t, cfg.ReconcileClosed)
	assert.False(t, cfg.Authenticated())
	assert.Equal(t, 3, cfg.MaxPages())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "secret")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_PORT", "5432")
	t.Setenv("POSTGRES_USER", "triage")
	t.Setenv("POSTGRES_PASSWORD", "pw")
	t.Setenv("POSTGRES_DB", "triage")
	t.Setenv("SYNC_INTERVAL", "2h")
	t.Setenv("PAGE_DELAY", "0s")

	cfg := NewConfig()
	require.NoError(t, cfg.Load(""))

	assert.True(t, cfg.Authenticated())
	assert.Equal(t, 10, cfg.MaxPages())
	assert.Equal(t, 2*time.Hour, cfg.SyncInterval)
	assert.Equal(t, time.Duration(0), cfg.PageDelay)
	assert.Contains(t, cfg.DatabaseURL, "host=db")
	assert.Contains(t, cfg.DatabaseURL, "dbname=triage")
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("DATABASE_URL", "")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DATABASE_URL=/tmp/cache.db\nMAX_RETRY_ATTEMPTS=5\n"), 0o644))

	cfg := NewConfig()
	require.NoError(t, cfg.Load(path))
	assert.Equal(t, "/tmp/cache.db", cfg.DatabaseURL)
	assert.Equal(t, 5, cfg.MaxRetryAttempts)

	missing := NewConfig()
	assert.NoError(t, missing.Load(filepath.Join(t.TempDir(), "absent.env")))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "unknown driver", mutate: func(c *Config) { c.DBDriver = "mysql" }},
		{name: "postgres without dsn", mutate: func(c *Config) { c.DBDriver = DriverPostgres; c.DatabaseURL = "" }},
		{name: "per page too large", mutate: func(c *Config) { c.PerPage = 101 }},
		{name: "zero retry attempts", mutate: func(c *Config) { c.MaxRetryAttempts = 0 }},
		{name: "negative page delay", mutate: func(c *Config) { c.PageDelay = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DB_DRIVER", "")
			t.Setenv("DATABASE_URL", "")
			cfg := NewConfig()
			require.NoError(t, cfg.Load(""))
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

const sampleRepos = `
repositories:
  - repo: acme/widgets
    display_name: Widgets
    categories: [go, backend]
    priority: 1
    filters:
      issues:
        exclude_labels: [wontfix]
      pull_requests:
        state: open
  - repo: acme/docs
    active: false
`

func TestParseRepositories(t *testing.T) {
	repos, err := ParseRepositories([]byte(sampleRepos))
	require.NoError(t, err)
	require.Len(t, repos, 2)

	assert.Equal(t, "acme/widgets", repos[0].Repo)
	assert.Equal(t, "Widgets", repos[0].DisplayName)
	assert.Equal(t, "go", repos[0].LanguageGroup)
	assert.True(t, repos[0].Active)
	assert.Equal(t, []string{"wontfix"}, repos[0].Filters.Issues.ExcludeLabels)
	assert.Equal(t, models.StateOpen, repos[0].Filters.PullRequests.State)

	assert.Equal(t, "acme/docs", repos[1].DisplayName)
	assert.False(t, repos[1].Active)
	assert.Equal(t, "other", repos[1].LanguageGroup)
}

func TestParseRepositoriesErrors(t *testing.T) {
	_, err := ParseRepositories([]byte("repositories:\n  - repo: not-a-repo\n"))
	assert.Error(t, err)

	_, err = ParseRepositories([]byte("repositories:\n  - repo: a/b\n  - repo: a/b\n"))
	assert.Error(t, err)

	_, err = ParseRepositories([]byte("repositories: [\n"))
	assert.Error(t, err)
}

func TestWatchRepositories(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repositories.yaml")
	require.NoError(t, os.WriteFile(path, []byte("repositories: []\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan []models.Repository, 4)
	require.NoError(t, WatchRepositories(ctx, path, func(repos []models.Repository) {
		changes <- repos
	}))

	require.NoError(t, os.WriteFile(path, []byte(sampleRepos), 0o644))

	select {
	case repos := <-changes:
		assert.Len(t, repos, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("repositories file change was not observed")
	}
}
