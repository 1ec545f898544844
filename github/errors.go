package github

import (
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrRateLimited = errors.New("github rate limit exceeded")
	ErrNotFound    = errors.New("github resource not found")
	ErrTransient   = errors.New("transient github error")
)

// RateLimitError is returned when a request was refused, or never sent, because the quota is
// exhausted. Reset is zero when GitHub did not report it.
type RateLimitError struct {
	Reset time.Time
}

func (e *RateLimitError) Error() string {
	if e.Reset.IsZero() {
		return ErrRateLimited.Error()
	}
	return fmt.Sprintf("%s until %s", ErrRateLimited, e.Reset.Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// StatusError is an unexpected HTTP status from GitHub. Server errors are transient.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("github responded with status code %d", e.Code)
	}
	return fmt.Sprintf("github responded with status code %d: %s", e.Code, e.Message)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrTransient && e.Code >= 500
}

// IsRetryable reports whether err should be retried later rather than recorded as a failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}
