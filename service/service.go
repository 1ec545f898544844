// Package service wires the sync engine to storage, GitHub and the process lifecycle.
package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"githubtriage/config"
	"githubtriage/db"
	"githubtriage/fetcher"
	"githubtriage/github"
	"githubtriage/logger"
	"githubtriage/models"
)

// Service errors
var (
	ErrServiceInit     = fmt.Errorf("service initialization error")
	ErrServiceShutdown = fmt.Errorf("service shutdown error")
)

// RepositoryStore abstracts repository list maintenance
// (for testability)
type RepositoryStore interface {
	UpsertRepository(ctx context.Context, repo models.Repository) error
	ListRepositories(ctx context.Context, activeOnly bool) ([]models.Repository, error)
	SetRepositoryActive(ctx context.Context, repo string, active bool) error
}

// Service represents the main application service
type Service struct {
	config   *config.Config
	database *db.DB
	sync     *SyncService
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewService creates a new service instance from a loaded configuration.
func NewService(cfg *config.Config, options ...SyncOption) (*Service, error) {
	ctx, cancel := context.WithCancel(context.Background())

	// Initialize database
	database, err := db.New(cfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to initialize database: %v", ErrServiceInit, err)
	}
	if err := database.EnsureSchema(ctx); err != nil {
		cancel()
		database.Close()
		return nil, fmt.Errorf("%w: failed to create schema: %v", ErrServiceInit, err)
	}

	// Initialize GitHub clients sharing one quota
	limiter := github.NewRateLimiter()
	client := github.NewClient(cfg.GitHubToken,
		github.WithBaseURL(cfg.GitHubAPIURL),
		github.WithTimeout(cfg.HTTPTimeout),
		github.WithRateLimiter(limiter))
	enricher, err := github.NewEnricher(ctx, cfg.GitHubToken, cfg.GitHubAPIURL, cfg.HTTPTimeout, limiter)
	if err != nil {
		cancel()
		database.Close()
		return nil, fmt.Errorf("%w: failed to create GitHub SDK client: %v", ErrServiceInit, err)
	}

	f := fetcher.New(client, fetcher.Options{
		PerPage:   cfg.PerPage,
		MaxPages:  cfg.MaxPages(),
		PageDelay: cfg.PageDelay,
	})
	options = append([]SyncOption{WithEnricher(enricher)}, options...)
	syncService := NewSyncService(database, f, limiter, OptionsFromConfig(cfg), options...)

	logger.Info("Service initialized successfully",
		zap.String("db_driver", cfg.DBDriver),
		zap.Bool("authenticated", cfg.Authenticated()),
		zap.Int("max_pages", cfg.MaxPages()),
		zap.Duration("sync_interval", cfg.SyncInterval))

	return &Service{
		config:   cfg,
		database: database,
		sync:     syncService,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// OptionsFromConfig maps configuration onto sync engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SyncInterval:       cfg.SyncInterval,
		RetryCheckInterval: cfg.RetryCheckInterval,
		RepoDelay:          cfg.RepoDelay,
		RateLimitDelay:     cfg.RateLimitDelay,
		TimeoutRetryDelay:  cfg.TimeoutRetryDelay,
		MaxRetryAttempts:   cfg.MaxRetryAttempts,
		LowQuotaThreshold:  cfg.LowQuotaThreshold,
		EnrichMaxIssues:    cfg.EnrichMaxIssues,
		ReconcileClosed:    cfg.ReconcileClosed,
	}
}

// Database returns the underlying store.
func (s *Service) Database() *db.DB {
	return s.database
}

// Sync returns the sync engine.
func (s *Service) Sync() *SyncService {
	return s.sync
}

// LoadRepositories upserts the repositories file into storage. A missing file leaves the
// stored list untouched.
func (s *Service) LoadRepositories(ctx context.Context) error {
	repos, err := config.LoadRepositories(s.config.ReposFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Repositories file not found, using stored repositories",
				zap.String("path", s.config.ReposFile))
			return nil
		}
		return err
	}
	return StoreRepositories(ctx, s.database, repos)
}

// StoreRepositories upserts repos and deactivates stored repositories missing from the list.
// Deactivated repositories keep their cached items.
func StoreRepositories(ctx context.Context, store RepositoryStore, repos []models.Repository) error {
	listed := make(map[string]bool, len(repos))
	for _, repo := range repos {
		if err := store.UpsertRepository(ctx, repo); err != nil {
			return fmt.Errorf("failed to store repository %s: %w", repo.Repo, err)
		}
		listed[repo.Repo] = true
	}

	stored, err := store.ListRepositories(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to list repositories: %w", err)
	}
	for _, repo := range stored {
		if listed[repo.Repo] {
			continue
		}
		if err := store.SetRepositoryActive(ctx, repo.Repo, false); err != nil {
			return fmt.Errorf("failed to deactivate repository %s: %w", repo.Repo, err)
		}
		logger.Info("Repository deactivated", zap.String("repo", repo.Repo))
	}

	logger.Info("Repositories loaded", zap.Int("count", len(repos)))
	return nil
}

// Start loads repositories, starts the scheduler, the repositories file watcher and, when
// handler is not nil, the HTTP server. It blocks until a shutdown signal arrives.
func (s *Service) Start(handler http.Handler) error {
	if err := s.LoadRepositories(s.ctx); err != nil {
		logger.Warn("Error loading repositories file",
			zap.Error(err),
			zap.String("path", s.config.ReposFile))
		// Continue with the stored repository list
	}

	s.sync.Start(s.ctx)
	s.startWatching()

	var server *http.Server
	if handler != nil {
		server = &http.Server{
			Addr:              s.config.HTTPAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", zap.String("addr", s.config.HTTPAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server failed", zap.Error(err))
				s.cancel()
			}
		}()
	}

	// Wait for interrupt signal
	s.waitForShutdown()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("%w: failed to stop HTTP server: %v", ErrServiceShutdown, err)
		}
	}
	return nil
}

// startWatching reloads the repositories file on change.
func (s *Service) startWatching() {
	err := config.WatchRepositories(s.ctx, s.config.ReposFile, func(repos []models.Repository) {
		if err := StoreRepositories(s.ctx, s.database, repos); err != nil {
			logger.Error("Error storing reloaded repositories", zap.Error(err))
		}
	})
	if err != nil {
		logger.Warn("Repositories file watcher not started", zap.Error(err))
	}
}

// waitForShutdown waits for the shutdown signal or an internal cancellation
func (s *Service) waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown")
	case <-s.ctx.Done():
	}
	s.cancel()
}

// Close performs cleanup operations
func (s *Service) Close() error {
	logger.Info("Closing service")
	s.cancel()
	s.sync.Close()
	if err := s.database.Close(); err != nil {
		return fmt.Errorf("%w: failed to close database: %v", ErrServiceShutdown, err)
	}
	return nil
}
