// Package retry holds deferred GitHub fetches until they are due again.
package retry

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"githubtriage/logger"
	"githubtriage/models"
)

// ErrMaxAttempts is reported for items dropped after exhausting their attempts.
var ErrMaxAttempts = errors.New("maximum retry attempts exceeded")

// Request identifies the fetch to replay.
type Request struct {
	Repo string      `json:"repo"`
	Kind models.Kind `json:"kind"`
}

func (r Request) String() string {
	return r.Repo + "/" + string(r.Kind)
}

// Item is one deferred request.
type Item struct {
	Request    Request   `json:"request"`
	RetryAfter time.Time `json:"retry_after"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`

	seq   uint64
	index int
}

// Handler replays a request. A nil error removes the item; Reschedule asks for a specific
// retry time; any other error applies exponential backoff.
type Handler func(ctx context.Context, item Item) error

// RescheduleError asks the queue to retry at a specific time, such as a rate-limit reset.
type RescheduleError struct {
	At  time.Time
	Err error
}

func (e *RescheduleError) Error() string { return e.Err.Error() }
func (e *RescheduleError) Unwrap() error { return e.Err }

// DropFunc is told about items removed after their last attempt.
type DropFunc func(item Item, err error)

// Policy controls backoff.
type Policy struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

// Backoff returns BaseDelay × 2^attempts.
func (p Policy) Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 20 {
		attempts = 20
	}
	return p.BaseDelay * time.Duration(1<<uint(attempts))
}

// Queue is a priority queue of deferred requests ordered by RetryAfter. Items enqueued out of
// order are still released in time order. Safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	items  itemHeap
	seq    uint64
	policy Policy
	onDrop DropFunc
}

// NewQueue creates an empty queue.
func NewQueue(policy Policy, onDrop DropFunc) *Queue {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 3
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 5 * time.Minute
	}
	return &Queue{policy: policy, onDrop: onDrop}
}

// Enqueue schedules req for retryAfter. A request already waiting keeps a single entry at the
// later of the two times with the higher attempt count. Requests that already used every
// attempt are dropped.
func (q *Queue) Enqueue(req Request, retryAfter time.Time, attempts int, cause error) {
	q.mu.Lock()
	if attempts >= q.policy.MaxAttempts {
		q.mu.Unlock()
		q.drop(Item{Request: req, RetryAfter: retryAfter, Attempts: attempts, LastError: errString(cause)}, cause)
		return
	}

	for _, it := range q.items {
		if it.Request == req {
			if retryAfter.After(it.RetryAfter) {
				it.RetryAfter = retryAfter
			}
			if attempts > it.Attempts {
				it.Attempts = attempts
			}
			it.LastError = errString(cause)
			heap.Fix(&q.items, it.index)
			q.mu.Unlock()
			return
		}
	}

	q.seq++
	heap.Push(&q.items, &Item{
		Request:    req,
		RetryAfter: retryAfter,
		Attempts:   attempts,
		LastError:  errString(cause),
		seq:        q.seq,
	})
	q.mu.Unlock()

	logger.Info("Request deferred",
		zap.String("request", req.String()),
		zap.Time("retry_after", retryAfter),
		zap.Int("attempts", attempts))
}

// Len returns the number of waiting items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Items returns a copy of the waiting items in retry order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	clone := make(itemHeap, len(q.items))
	for i, it := range q.items {
		c := *it
		clone[i] = &c
	}
	q.mu.Unlock()

	out := make([]Item, 0, len(clone))
	for clone.Len() > 0 {
		out = append(out, *heap.Pop(&clone).(*Item))
	}
	return out
}

// NextRetry returns the earliest scheduled time, if any item is waiting.
func (q *Queue) NextRetry() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return q.items[0].RetryAfter, true
}

// ProcessReady replays every item due at or before now, earliest first, and returns how many
// were handled. Failed items are re-enqueued with backoff or dropped after MaxAttempts.
func (q *Queue) ProcessReady(ctx context.Context, now time.Time, handle Handler) int {
	var ready []Item
	q.mu.Lock()
	for len(q.items) > 0 && !q.items[0].RetryAfter.After(now) {
		ready = append(ready, *heap.Pop(&q.items).(*Item))
	}
	q.mu.Unlock()

	for i, item := range ready {
		if ctx.Err() != nil {
			for _, rest := range ready[i:] {
				q.requeue(rest)
			}
			return i
		}

		err := handle(ctx, item)
		if err == nil {
			logger.Info("Deferred request completed", zap.String("request", item.Request.String()))
			continue
		}

		attempts := item.Attempts + 1
		at := now.Add(q.policy.Backoff(attempts))
		var resched *RescheduleError
		if errors.As(err, &resched) && resched.At.After(at) {
			at = resched.At
		}
		logger.Warn("Deferred request failed",
			zap.String("request", item.Request.String()),
			zap.Int("attempts", attempts),
			zap.Error(err))
		q.Enqueue(item.Request, at, attempts, err)
	}
	return len(ready)
}

func (q *Queue) requeue(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	item.seq = q.seq
	heap.Push(&q.items, &item)
}

func (q *Queue) drop(item Item, cause error) {
	err := fmt.Errorf("%w after %d attempts", ErrMaxAttempts, item.Attempts)
	if cause != nil {
		err = fmt.Errorf("%w after %d attempts: %v", ErrMaxAttempts, item.Attempts, cause)
	}
	logger.Error("Dropping deferred request",
		zap.String("request", item.Request.String()),
		zap.Int("attempts", item.Attempts),
		zap.Error(err))
	if q.onDrop != nil {
		q.onDrop(item, err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// itemHeap implements heap.Interface ordered by RetryAfter, then insertion order.
type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].RetryAfter.Equal(h[j].RetryAfter) {
		return h[i].seq < h[j].seq
	}
	return h[i].RetryAfter.Before(h[j].RetryAfter)
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*Item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
