package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"githubtriage/fetcher"
	"githubtriage/github"
	"githubtriage/logger"
	"githubtriage/models"
	"githubtriage/retry"
)

// ErrSyncInProgress is returned when a run is requested while another one is active.
var ErrSyncInProgress = errors.New("sync already in progress")

// Store abstracts the database operations needed by the sync engine
// (for testability)
type Store interface {
	ListRepositories(ctx context.Context, activeOnly bool) ([]models.Repository, error)
	GetSyncMetadata(ctx context.Context, repo string, kind models.Kind) (models.SyncMetadata, error)
	SaveSyncMetadata(ctx context.Context, meta models.SyncMetadata) error
	AppendHistory(ctx context.Context, h models.SyncHistory) error
	RecentErrors(ctx context.Context, limit int) ([]models.SyncHistory, error)
	LastSyncTime(ctx context.Context) (*time.Time, error)
	CountItems(ctx context.Context) ([]models.ItemCount, error)
	UpsertIssue(ctx context.Context, issue *models.Issue) (models.MergeResult, error)
	UpsertPullRequest(ctx context.Context, pr *models.PullRequest) (models.MergeResult, error)
	ReconcileClosed(ctx context.Context, kind models.Kind, repo string, openNow []int, now time.Time) (int, error)
	UpdateAnnotation(ctx context.Context, kind models.Kind, repo string, number int, a models.Annotation) error
	OpenIssuesFetchedSince(ctx context.Context, repo string, since time.Time, limit int) ([]int, error)
	SetLinkedPRs(ctx context.Context, repo string, number int, prs models.Ints) error
}

// ItemFetcher abstracts the paginated GitHub listings
// (for testability)
type ItemFetcher interface {
	Fetch(ctx context.Context, req fetcher.Request) (*fetcher.Result, error)
	OpenNumbers(ctx context.Context, repo string, kind models.Kind) ([]int, bool, error)
}

// LinkEnricher looks up pull requests that reference an issue.
type LinkEnricher interface {
	LinkedPullRequests(ctx context.Context, owner, name string, number int) ([]int, error)
}

// Options tunes pacing and retry behavior of the sync engine.
type Options struct {
	SyncInterval       time.Duration
	RetryCheckInterval time.Duration
	RepoDelay          time.Duration
	RateLimitDelay     time.Duration
	TimeoutRetryDelay  time.Duration
	MaxRetryAttempts   int
	LowQuotaThreshold  int
	EnrichMaxIssues    int
	ReconcileClosed    bool
}

// Summary describes one finished run.
type Summary struct {
	SessionID    string               `json:"session_id"`
	StartedAt    time.Time            `json:"started_at"`
	Duration     time.Duration        `json:"duration"`
	Repositories int                  `json:"repositories"`
	Stats        models.MergeStats    `json:"stats"`
	Closed       int                  `json:"closed"`
	Errors       int                  `json:"errors"`
	Deferred     int                  `json:"deferred"`
	Retried      int                  `json:"retried"`
	Enriched     int                  `json:"enriched"`
	Results      []models.SyncHistory `json:"results"`
}

func (s *Summary) record(h models.SyncHistory) {
	s.Results = append(s.Results, h)
	s.Stats.New += h.NewCount
	s.Stats.Updated += h.UpdatedCount
	s.Stats.Total += h.TotalCount
	s.Stats.Unchanged += h.TotalCount - h.NewCount - h.UpdatedCount
	s.Closed += h.ClosedCount
	switch h.Status {
	case models.StatusError:
		s.Errors++
	case models.StatusDeferred:
		s.Deferred++
	}
}

// SyncService runs sync sessions over every active repository. At most one session runs at a
// time; the rate limiter and retry queue it owns are shared by every session of the process.
type SyncService struct {
	store    Store
	fetcher  ItemFetcher
	limiter  *github.RateLimiter
	enricher LinkEnricher
	notifier Notifier
	queue    *retry.Queue
	opts     Options

	sem *semaphore.Weighted
	now func() time.Time

	sleep func(ctx context.Context, d time.Duration) error

	mu          sync.RWMutex
	running     bool
	session     string
	lastSync    *time.Time
	lastSession string
	lastSummary *Summary

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SyncOption configures optional collaborators of a SyncService.
type SyncOption func(*SyncService)

// WithEnricher enables the cross-reference phase.
func WithEnricher(e LinkEnricher) SyncOption {
	return func(s *SyncService) { s.enricher = e }
}

// WithNotifier publishes sync events.
func WithNotifier(n Notifier) SyncOption {
	return func(s *SyncService) { s.notifier = n }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) SyncOption {
	return func(s *SyncService) { s.now = now }
}

// NewSyncService creates a sync engine over store and fetcher. limiter must be the one the
// fetcher's client reports to.
func NewSyncService(store Store, f ItemFetcher, limiter *github.RateLimiter, opts Options, options ...SyncOption) *SyncService {
	if limiter == nil {
		limiter = github.NewRateLimiter()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &SyncService{
		store:   store,
		fetcher: f,
		limiter: limiter,
		opts:    opts,
		sem:     semaphore.NewWeighted(1),
		now:     func() time.Time { return time.Now().UTC() },
		sleep:   sleepContext,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, o := range options {
		o(s)
	}
	s.queue = retry.NewQueue(retry.Policy{
		BaseDelay:   opts.TimeoutRetryDelay,
		MaxAttempts: opts.MaxRetryAttempts,
	}, s.dropped)
	return s
}

// Queue exposes the retry queue.
func (s *SyncService) Queue() *retry.Queue {
	return s.queue
}

// RunSync performs one full session in the foreground. It returns ErrSyncInProgress without
// waiting when another session holds the lock.
func (s *SyncService) RunSync(ctx context.Context) (*Summary, error) {
	if !s.sem.TryAcquire(1) {
		return nil, ErrSyncInProgress
	}
	defer s.sem.Release(1)
	return s.run(ctx)
}

// TriggerSync starts a session in the background and returns immediately.
func (s *SyncService) TriggerSync() error {
	if !s.sem.TryAcquire(1) {
		return ErrSyncInProgress
	}
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		if _, err := s.run(ctx); err != nil {
			logger.Error("Background sync failed", zap.Error(err))
		}
	}()
	return nil
}

// RunRetries replays due retry items when no session is active.
func (s *SyncService) RunRetries(ctx context.Context) (int, error) {
	if s.queue.Len() == 0 {
		return 0, nil
	}
	if !s.sem.TryAcquire(1) {
		return 0, ErrSyncInProgress
	}
	defer s.sem.Release(1)

	session := s.begin()
	defer s.finish(nil)

	repos, err := s.activeRepositories(ctx)
	if err != nil {
		return 0, err
	}
	summary := &Summary{SessionID: session, StartedAt: s.now()}
	n := s.queue.ProcessReady(ctx, s.now(), s.replay(session, repos, summary, nil))
	if n > 0 {
		logger.Info("Processed retry queue",
			zap.String("session_id", session),
			zap.Int("processed", n),
			zap.Int("remaining", s.queue.Len()))
	}
	return n, nil
}

// Annotate writes the user-entered fields of one item.
func (s *SyncService) Annotate(ctx context.Context, kind models.Kind, repo string, number int, a models.Annotation) error {
	return s.store.UpdateAnnotation(ctx, kind, repo, number, a)
}

func (s *SyncService) begin() string {
	session := uuid.NewString()
	s.mu.Lock()
	s.running = true
	s.session = session
	s.mu.Unlock()
	return session
}

func (s *SyncService) finish(summary *Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.session = ""
	if summary != nil {
		started := summary.StartedAt
		s.lastSync = &started
		s.lastSession = summary.SessionID
		s.lastSummary = summary
	}
}

// run executes one session. The caller holds the semaphore.
func (s *SyncService) run(ctx context.Context) (summary *Summary, err error) {
	session := s.begin()
	started := s.now()
	summary = &Summary{SessionID: session, StartedAt: started}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync session %s panicked: %v", session, r)
		}
		summary.Duration = s.now().Sub(started)
		if err != nil {
			logger.Error("Sync failed", zap.String("session_id", session), zap.Error(err))
			s.notify(Event{Type: EventSyncFailed, SessionID: session, Error: err.Error()})
			s.finish(nil)
			return
		}
		s.finish(summary)
		logger.Info("Sync completed",
			zap.String("session_id", session),
			zap.Int("repositories", summary.Repositories),
			zap.Int("new", summary.Stats.New),
			zap.Int("updated", summary.Stats.Updated),
			zap.Int("closed", summary.Closed),
			zap.Int("errors", summary.Errors),
			zap.Int("deferred", summary.Deferred),
			zap.Duration("duration", summary.Duration))
		s.notify(Event{Type: EventSyncCompleted, SessionID: session, Summary: summary})
	}()

	logger.Info("Sync started", zap.String("session_id", session))
	s.notify(Event{Type: EventSyncStarted, SessionID: session})

	repos, err := s.activeRepositories(ctx)
	if err != nil {
		return summary, err
	}
	summary.Repositories = len(repos)

	done := make(map[retry.Request]bool)
	summary.Retried = s.queue.ProcessReady(ctx, started, s.replay(session, repos, summary, done))

	touched := make([]models.Repository, 0, len(repos))
	for i, repo := range repos {
		if ctx.Err() != nil {
			return summary, fmt.Errorf("sync cancelled: %w", ctx.Err())
		}
		if i > 0 {
			if err := s.sleep(ctx, s.opts.RepoDelay); err != nil {
				return summary, fmt.Errorf("sync cancelled: %w", err)
			}
		}

		issuesSynced := false
		for _, kind := range models.Kinds {
			req := retry.Request{Repo: repo.Repo, Kind: kind}
			if done[req] {
				continue
			}
			h, ferr := s.syncKind(ctx, session, repo, kind)
			summary.record(h)
			if h.Status == models.StatusDeferred {
				s.queue.Enqueue(req, s.retryAt(ferr), 0, ferr)
			}
			if kind == models.KindIssues && (h.NewCount > 0 || h.UpdatedCount > 0) {
				issuesSynced = true
			}
		}
		if issuesSynced {
			touched = append(touched, repo)
		}
	}

	summary.Enriched = s.enrich(ctx, touched, started)
	return summary, nil
}

func (s *SyncService) activeRepositories(ctx context.Context) ([]models.Repository, error) {
	repos, err := s.store.ListRepositories(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	return repos, nil
}

// syncKind runs fetch, filter, reconcile and merge for one repository and kind, then records
// metadata and history. It never returns a Go error; failures end up in the history row. The
// fetch error is returned alongside so callers can schedule a retry.
func (s *SyncService) syncKind(ctx context.Context, session string, repo models.Repository, kind models.Kind) (h models.SyncHistory, fetchErr error) {
	start := s.now()
	h = models.SyncHistory{SessionID: session, Repo: repo.Repo, SyncType: kind, StartedAt: start}
	log := logger.WithContext(
		zap.String("session_id", session),
		zap.String("repo", repo.Repo),
		zap.String("kind", string(kind)))

	defer func() {
		if r := recover(); r != nil {
			h.Status = models.StatusError
			h.ErrorMessage = fmt.Sprintf("panic: %v", r)
			fetchErr = nil
			log.Error("Recovered from panic while syncing", zap.String("error", h.ErrorMessage))
			if err := s.store.SaveSyncMetadata(ctx, models.SyncMetadata{
				Repo:          repo.Repo,
				SyncType:      kind,
				LastAttemptAt: &start,
				Status:        h.Status,
				ErrorMessage:  h.ErrorMessage,
			}); err != nil {
				log.Error("Failed to save sync metadata", zap.Error(err))
			}
		}
		h.DurationMS = s.now().Sub(start).Milliseconds()
		if err := s.store.AppendHistory(ctx, h); err != nil {
			log.Error("Failed to record sync history", zap.Error(err))
		}
		result := h
		s.notify(Event{Type: EventRepoSynced, SessionID: session, Repo: repo.Repo, Kind: kind, Result: &result})
	}()

	meta, err := s.store.GetSyncMetadata(ctx, repo.Repo, kind)
	if err != nil {
		h.Status = models.StatusError
		h.ErrorMessage = err.Error()
		return h, nil
	}

	res, fetchErr := s.fetcher.Fetch(ctx, fetcher.Request{
		Repo:        repo.Repo,
		Kind:        kind,
		Filter:      repo.Filters.For(kind),
		Cursor:      meta.Cursor,
		LastSuccess: meta.LastSuccessAt,
	})

	if fetchErr == nil && !res.NotModified {
		h.ClosedCount = s.reconcile(ctx, repo.Repo, kind, log)
	}

	var stats models.MergeStats
	var mergeErr error
	if res != nil {
		stats, mergeErr = s.merge(ctx, repo.Repo, kind, res.Items, start)
	}
	h.NewCount, h.UpdatedCount, h.TotalCount = stats.New, stats.Updated, stats.Total

	meta.Repo, meta.SyncType = repo.Repo, kind
	meta.LastAttemptAt = &start
	meta.ItemsSynced = stats.Total
	meta.ErrorMessage = ""

	switch {
	case mergeErr != nil:
		h.Status = models.StatusError
		h.ErrorMessage = mergeErr.Error()
		fetchErr = nil
		meta.Cursor = nil
		meta.LastSuccessAt = nil
	case fetchErr == nil && res.NotModified:
		h.Status = models.StatusNotModified
		meta.LastSuccessAt = &start
	case fetchErr == nil:
		h.Status = models.StatusSuccess
		meta.Cursor = res.NewCursor
		meta.LastSuccessAt = &start
	case github.IsRetryable(fetchErr):
		h.Status = models.StatusDeferred
		h.ErrorMessage = fetchErr.Error()
		meta.Cursor = nil
		meta.LastSuccessAt = nil
		log.Warn("Fetch deferred", zap.Error(fetchErr), zap.Int("partial_items", stats.Total))
	case errors.Is(fetchErr, github.ErrNotFound):
		log.Warn("Repository not found, no data", zap.Error(fetchErr))
		h.Status = models.StatusError
		h.ErrorMessage = fetchErr.Error()
		fetchErr = nil
		meta.Cursor = nil
		meta.LastSuccessAt = nil
	default:
		h.Status = models.StatusError
		h.ErrorMessage = fetchErr.Error()
		fetchErr = nil
		meta.Cursor = nil
		meta.LastSuccessAt = nil
		log.Error("Sync failed for repository", zap.String("error", h.ErrorMessage))
	}
	meta.Status = h.Status
	meta.ErrorMessage = h.ErrorMessage

	if err := s.store.SaveSyncMetadata(ctx, meta); err != nil {
		log.Error("Failed to save sync metadata", zap.Error(err))
	}

	log.Info("Repository synced",
		zap.String("status", h.Status),
		zap.Int("new", h.NewCount),
		zap.Int("updated", h.UpdatedCount),
		zap.Int("total", h.TotalCount),
		zap.Int("closed", h.ClosedCount))
	return h, fetchErr
}

// reconcile closes stored open items missing from GitHub's current open listing. A failed or
// truncated listing skips the pass.
func (s *SyncService) reconcile(ctx context.Context, repo string, kind models.Kind, log *zap.Logger) int {
	if !s.opts.ReconcileClosed {
		return 0
	}
	open, complete, err := s.fetcher.OpenNumbers(ctx, repo, kind)
	if err != nil {
		log.Warn("Skipping closed detection, open listing failed", zap.Error(err))
		return 0
	}
	if !complete {
		log.Warn("Skipping closed detection, open listing truncated")
		return 0
	}
	closed, err := s.store.ReconcileClosed(ctx, kind, repo, open, s.now())
	if err != nil {
		log.Error("Closed detection failed", zap.Error(err))
		return 0
	}
	return closed
}

func (s *SyncService) merge(ctx context.Context, repo string, kind models.Kind, items []github.Item, fetchedAt time.Time) (models.MergeStats, error) {
	var stats models.MergeStats
	for _, it := range items {
		var (
			res models.MergeResult
			err error
		)
		if kind == models.KindIssues {
			res, err = s.store.UpsertIssue(ctx, it.ToIssue(repo, fetchedAt))
		} else {
			res, err = s.store.UpsertPullRequest(ctx, it.ToPullRequest(repo, fetchedAt))
		}
		if err != nil {
			return stats, fmt.Errorf("failed to merge %s#%d: %w", repo, it.Number, err)
		}
		stats.Add(res)
	}
	return stats, nil
}

// retryAt picks when a deferred fetch is due again: the reported reset for rate limits,
// otherwise the configured delays.
func (s *SyncService) retryAt(err error) time.Time {
	now := s.now()
	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		if rle.Reset.After(now) {
			return rle.Reset
		}
		return now.Add(s.opts.RateLimitDelay)
	}
	if errors.Is(err, github.ErrRateLimited) {
		return now.Add(s.opts.RateLimitDelay)
	}
	return now.Add(s.opts.TimeoutRetryDelay)
}

// replay builds the queue handler for one session. Replayed requests are marked in done so the
// regular loop does not fetch them twice.
func (s *SyncService) replay(session string, repos []models.Repository, summary *Summary, done map[retry.Request]bool) retry.Handler {
	byName := make(map[string]models.Repository, len(repos))
	for _, r := range repos {
		byName[r.Repo] = r
	}
	return func(ctx context.Context, item retry.Item) error {
		repo, ok := byName[item.Request.Repo]
		if !ok {
			logger.Info("Dropping retry for inactive repository", zap.String("request", item.Request.String()))
			return nil
		}
		if done != nil {
			done[item.Request] = true
		}
		h, err := s.syncKind(ctx, session, repo, item.Request.Kind)
		summary.record(h)
		if err == nil {
			return nil
		}
		return &retry.RescheduleError{At: s.retryAt(err), Err: err}
	}
}

// dropped records a retry item that ran out of attempts.
func (s *SyncService) dropped(item retry.Item, err error) {
	s.mu.RLock()
	session := s.session
	s.mu.RUnlock()
	if session == "" {
		session = uuid.NewString()
	}

	h := models.SyncHistory{
		SessionID:    session,
		Repo:         item.Request.Repo,
		SyncType:     item.Request.Kind,
		Status:       models.StatusError,
		ErrorMessage: err.Error(),
		StartedAt:    s.now(),
	}
	if aerr := s.store.AppendHistory(context.Background(), h); aerr != nil {
		logger.Error("Failed to record dropped retry", zap.Error(aerr))
	}
	logger.Warn("Retry dropped",
		zap.String("request", item.Request.String()),
		zap.Int("attempts", item.Attempts),
		zap.Error(err))
}

// enrich stores cross-referencing pull requests for open issues written during this session.
// Low quota skips the phase.
func (s *SyncService) enrich(ctx context.Context, repos []models.Repository, since time.Time) int {
	if s.enricher == nil || s.opts.EnrichMaxIssues <= 0 || len(repos) == 0 {
		return 0
	}

	budget := s.opts.EnrichMaxIssues
	enriched := 0
	for _, repo := range repos {
		owner, name, err := repo.OwnerName()
		if err != nil {
			continue
		}
		numbers, err := s.store.OpenIssuesFetchedSince(ctx, repo.Repo, since, budget)
		if err != nil {
			logger.Warn("Skipping enrichment", zap.String("repo", repo.Repo), zap.Error(err))
			continue
		}
		for _, number := range numbers {
			if budget <= 0 {
				return enriched
			}
			if s.limiter.LowQuota(s.now(), s.opts.LowQuotaThreshold) {
				logger.Info("Skipping enrichment, rate limit quota low",
					zap.Int("threshold", s.opts.LowQuotaThreshold))
				return enriched
			}
			budget--

			prs, err := s.enricher.LinkedPullRequests(ctx, owner, name, number)
			if err != nil {
				if errors.Is(err, github.ErrRateLimited) {
					logger.Info("Stopping enrichment, rate limited", zap.Error(err))
					return enriched
				}
				logger.Warn("Enrichment failed",
					zap.String("repo", repo.Repo),
					zap.Int("number", number),
					zap.Error(err))
				continue
			}
			if err := s.store.SetLinkedPRs(ctx, repo.Repo, number, models.Ints(prs)); err != nil {
				logger.Warn("Failed to store linked pull requests", zap.Error(err))
				continue
			}
			enriched++
		}
	}
	return enriched
}

func (s *SyncService) notify(e Event) {
	if s.notifier == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = s.now()
	}
	s.notifier.Notify(e)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
