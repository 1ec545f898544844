package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"githubtriage/logger"
)

// Start runs an initial session, then one every SyncInterval, and replays due retries every
// RetryCheckInterval while no session is active. It returns immediately; Close stops it.
func (s *SyncService) Start(ctx context.Context) {
	s.mu.Lock()
	// Sessions triggered before Start still run on the previous context; Close cancels both.
	prevCancel := s.cancel
	schedCtx, cancel := context.WithCancel(ctx)
	s.ctx = schedCtx
	s.cancel = func() {
		cancel()
		prevCancel()
	}
	ctx = schedCtx
	s.mu.Unlock()

	syncInterval := s.opts.SyncInterval
	if syncInterval <= 0 {
		syncInterval = 6 * time.Hour
	}
	retryInterval := s.opts.RetryCheckInterval
	if retryInterval <= 0 {
		retryInterval = time.Minute
	}

	logger.Info("Starting sync scheduler",
		zap.Duration("sync_interval", syncInterval),
		zap.Duration("retry_interval", retryInterval))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.scheduledSync(ctx)

		syncTicker := time.NewTicker(syncInterval)
		defer syncTicker.Stop()
		retryTicker := time.NewTicker(retryInterval)
		defer retryTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping sync scheduler")
				return
			case <-syncTicker.C:
				s.scheduledSync(ctx)
			case <-retryTicker.C:
				if _, err := s.RunRetries(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
					logger.Error("Error processing retry queue", zap.Error(err))
				}
			}
		}
	}()
}

func (s *SyncService) scheduledSync(ctx context.Context) {
	if _, err := s.RunSync(ctx); err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			logger.Info("Skipping scheduled sync, another sync is running")
			return
		}
		logger.Error("Scheduled sync failed", zap.Error(err))
	}
}

// Close stops the scheduler and waits for background sessions to finish.
func (s *SyncService) Close() {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	cancel()
	s.wg.Wait()
}
