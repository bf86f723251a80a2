// Package jobs implements a delayed job queue with at-least-once delivery,
// keyed idempotent scheduling and bounded retries.
package jobs

import (
	"context"
	"errors"
	"time"
)

// Job is a unit of delayed work. Key is unique: scheduling a job whose key
// is already known is a no-op.
type Job struct {
	Key       string
	Kind      string
	Payload   []byte
	FireAt    time.Time
	Attempts  int
	LastError string

	origin string
}

// Queue stores delayed jobs until they are due.
type Queue interface {
	// Schedule stores job unless a job with the same key exists. It reports whether the job was added.
	Schedule(ctx context.Context, job Job) (bool, error)
	// ClaimDue leases up to limit jobs whose FireAt is not after now.
	// A claimed job that is neither completed, retried nor failed before its
	// lease expires becomes due again.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error)
	Complete(ctx context.Context, job Job) error
	Retry(ctx context.Context, job Job, at time.Time, cause error) error
	Fail(ctx context.Context, job Job, cause error) error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RetryConfig holds configuration for retry logic.
type RetryConfig struct {
	MaxAttempts int
	RetryDelays []time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		RetryDelays: []time.Duration{
			5 * time.Second,
			30 * time.Second,
			2 * time.Minute,
			10 * time.Minute,
		},
	}
}

// Delay returns the backoff before retry number attempt (1-based).
func (c RetryConfig) Delay(attempt int) time.Duration {
	if len(c.RetryDelays) == 0 {
		return time.Second
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(c.RetryDelays) {
		idx = len(c.RetryDelays) - 1
	}
	return c.RetryDelays[idx]
}
