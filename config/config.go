package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Supported storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all configuration for the application
type Config struct {
	GitHubToken  string
	GitHubAPIURL string

	DBDriver        string
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	ReposFile string
	HTTPAddr  string

	SyncInterval       time.Duration
	RetryCheckInterval time.Duration
	HTTPTimeout        time.Duration
	PerPage            int
	MaxPagesAnonymous  int
	MaxPagesAuthed     int
	PageDelay          time.Duration
	RepoDelay          time.Duration
	RateLimitDelay     time.Duration
	TimeoutRetryDelay  time.Duration
	MaxRetryAttempts   int
	LowQuotaThreshold  int
	EnrichMaxIssues    int
	ReconcileClosed    bool

	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// NewConfig creates a new Config instance
func NewConfig() *Config {
	return &Config{}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("GITHUB_API_URL", "https://api.github.com")
	v.SetDefault("DB_DRIVER", DriverSQLite)
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 25)
	v.SetDefault("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	v.SetDefault("REPOS_FILE", "repositories.yaml")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("SYNC_INTERVAL", 6*time.Hour)
	v.SetDefault("RETRY_CHECK_INTERVAL", time.Minute)
	v.SetDefault("HTTP_TIMEOUT", 30*time.Second)
	v.SetDefault("PER_PAGE", 100)
	v.SetDefault("MAX_PAGES_UNAUTHENTICATED", 3)
	v.SetDefault("MAX_PAGES_AUTHENTICATED", 10)
	v.SetDefault("PAGE_DELAY", time.Second)
	v.SetDefault("REPO_DELAY", 2*time.Second)
	v.SetDefault("RATE_LIMIT_RETRY_DELAY", 65*time.Minute)
	v.SetDefault("TIMEOUT_RETRY_DELAY", 5*time.Minute)
	v.SetDefault("MAX_RETRY_ATTEMPTS", 3)
	v.SetDefault("LOW_QUOTA_THRESHOLD", 100)
	v.SetDefault("ENRICH_MAX_ISSUES", 20)
	v.SetDefault("RECONCILE_CLOSED", true)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_MAX_SIZE_MB", 50)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("LOG_MAX_AGE_DAYS", 28)
}

// Load loads configuration from environment variables and, when path is not empty,
// from the given env/config file. A missing file is not an error.
func (c *Config) Load(path string) error {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isNotExist(err) {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	c.GitHubToken = v.GetString("GITHUB_TOKEN")
	c.GitHubAPIURL = v.GetString("GITHUB_API_URL")

	c.DBDriver = v.GetString("DB_DRIVER")
	c.DatabaseURL = v.GetString("DATABASE_URL")
	if c.DatabaseURL == "" {
		c.DatabaseURL = defaultDatabaseURL(v, c.DBDriver)
	}
	c.MaxOpenConns = v.GetInt("DB_MAX_OPEN_CONNS")
	c.MaxIdleConns = v.GetInt("DB_MAX_IDLE_CONNS")
	c.ConnMaxLifetime = v.GetDuration("DB_CONN_MAX_LIFETIME")

	c.ReposFile = v.GetString("REPOS_FILE")
	c.HTTPAddr = v.GetString("HTTP_ADDR")

	c.SyncInterval = v.GetDuration("SYNC_INTERVAL")
	c.RetryCheckInterval = v.GetDuration("RETRY_CHECK_INTERVAL")
	c.HTTPTimeout = v.GetDuration("HTTP_TIMEOUT")
	c.PerPage = v.GetInt("PER_PAGE")
	c.MaxPagesAnonymous = v.GetInt("MAX_PAGES_UNAUTHENTICATED")
	c.MaxPagesAuthed = v.GetInt("MAX_PAGES_AUTHENTICATED")
	c.PageDelay = v.GetDuration("PAGE_DELAY")
	c.RepoDelay = v.GetDuration("REPO_DELAY")
	c.RateLimitDelay = v.GetDuration("RATE_LIMIT_RETRY_DELAY")
	c.TimeoutRetryDelay = v.GetDuration("TIMEOUT_RETRY_DELAY")
	c.MaxRetryAttempts = v.GetInt("MAX_RETRY_ATTEMPTS")
	c.LowQuotaThreshold = v.GetInt("LOW_QUOTA_THRESHOLD")
	c.EnrichMaxIssues = v.GetInt("ENRICH_MAX_ISSUES")
	c.ReconcileClosed = v.GetBool("RECONCILE_CLOSED")

	c.LogLevel = v.GetString("LOG_LEVEL")
	c.LogFile = v.GetString("LOG_FILE")
	c.LogMaxSizeMB = v.GetInt("LOG_MAX_SIZE_MB")
	c.LogMaxBackups = v.GetInt("LOG_MAX_BACKUPS")
	c.LogMaxAgeDays = v.GetInt("LOG_MAX_AGE_DAYS")

	return c.Validate()
}

func defaultDatabaseURL(v *viper.Viper, driver string) string {
	if driver != DriverPostgres {
		return "triage.db"
	}
	if v.GetString("POSTGRES_HOST") == "" {
		return ""
	}
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s port=%s host=%s sslmode=disable",
		v.GetString("POSTGRES_USER"),
		v.GetString("POSTGRES_PASSWORD"),
		v.GetString("POSTGRES_DB"),
		v.GetString("POSTGRES_PORT"),
		v.GetString("POSTGRES_HOST"),
	)
}

// Validate checks the loaded values for consistency.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q: use %s or %s", c.DBDriver, DriverPostgres, DriverSQLite)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL or POSTGRES_HOST is required for the %s driver", c.DBDriver)
	}
	if c.PerPage < 1 || c.PerPage > 100 {
		return fmt.Errorf("PER_PAGE must be between 1 and 100, got %d", c.PerPage)
	}
	if c.MaxPagesAnonymous < 1 || c.MaxPagesAuthed < 1 {
		return fmt.Errorf("page caps must be positive")
	}
	if c.MaxRetryAttempts < 1 {
		return fmt.Errorf("MAX_RETRY_ATTEMPTS must be positive, got %d", c.MaxRetryAttempts)
	}
	if c.SyncInterval <= 0 || c.RetryCheckInterval <= 0 || c.HTTPTimeout <= 0 {
		return fmt.Errorf("SYNC_INTERVAL, RETRY_CHECK_INTERVAL and HTTP_TIMEOUT must be positive")
	}
	if c.PageDelay < 0 || c.RepoDelay < 0 || c.RateLimitDelay <= 0 || c.TimeoutRetryDelay <= 0 {
		return fmt.Errorf("delays must not be negative and retry delays must be positive")
	}
	return nil
}

// Authenticated reports whether requests carry a token.
func (c *Config) Authenticated() bool {
	return c.GitHubToken != ""
}

// MaxPages returns the pagination cap for the current authentication mode.
func (c *Config) MaxPages() int {
	if c.Authenticated() {
		return c.MaxPagesAuthed
	}
	return c.MaxPagesAnonymous
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
