package service

import (
	"context"
	"fmt"
	"time"

	"githubtriage/models"
	"githubtriage/retry"
)

// recentErrorLimit bounds the errors reported by Status.
const recentErrorLimit = 5

// RateLimitStatus is the last quota GitHub reported.
type RateLimitStatus struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
	Limited   bool      `json:"limited"`
}

// Status is a point-in-time view of the sync engine.
type Status struct {
	SyncInProgress bool                 `json:"sync_in_progress"`
	LastSync       *time.Time           `json:"last_sync,omitempty"`
	LastSessionID  string               `json:"last_session_id,omitempty"`
	LastSummary    *Summary             `json:"last_summary,omitempty"`
	RecentErrors   []models.SyncHistory `json:"recent_errors"`
	QueueDepth     int                  `json:"queue_depth"`
	Queue          []retry.Item         `json:"queue"`
	RateLimit      *RateLimitStatus     `json:"rate_limit,omitempty"`
	Counts         []models.ItemCount   `json:"counts"`
}

// Status reports whether a session is running, when the last one finished, the most recent
// failures, queue depth, quota and cached item counts.
func (s *SyncService) Status(ctx context.Context) (*Status, error) {
	s.mu.RLock()
	st := &Status{
		SyncInProgress: s.running,
		LastSync:       s.lastSync,
		LastSessionID:  s.lastSession,
		LastSummary:    s.lastSummary,
	}
	s.mu.RUnlock()

	if st.LastSync == nil {
		last, err := s.store.LastSyncTime(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read last sync time: %w", err)
		}
		st.LastSync = last
	}

	errs, err := s.store.RecentErrors(ctx, recentErrorLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent errors: %w", err)
	}
	st.RecentErrors = errs

	counts, err := s.store.CountItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	st.Counts = counts

	st.Queue = s.queue.Items()
	st.QueueDepth = len(st.Queue)

	if rl, ok := s.limiter.Snapshot(); ok {
		st.RateLimit = &RateLimitStatus{
			Limit:     rl.Limit,
			Remaining: rl.Remaining,
			Reset:     rl.Reset,
			Limited:   s.limiter.IsLimited(s.now()),
		}
	}
	return st, nil
}
