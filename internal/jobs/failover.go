package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	originPrimary  = "primary"
	originFallback = "fallback"

	recheckInterval = time.Minute
)

// FailoverQueue schedules into primary and switches to fallback while primary
// is failing. Jobs remember which queue they came from so acknowledgements go
// back to the right place. Both queues are drained.
type FailoverQueue struct {
	primary   Queue
	fallback  Queue
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverQueue(primary, fallback Queue, logger *zerolog.Logger) *FailoverQueue {
	return &FailoverQueue{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// usePrimary reports whether primary should be tried, allowing one probe per recheck interval while down.
func (q *FailoverQueue) usePrimary() bool {
	if !q.isDown.Load() {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if time.Since(q.lastCheck) >= recheckInterval {
		q.lastCheck = time.Now()
		return true
	}
	return false
}

func (q *FailoverQueue) markDown(err error) {
	if !q.isDown.Swap(true) {
		q.logger.Error().Err(err).Msg("Primary job queue failed, switching to fallback")
	}
	q.mu.Lock()
	q.lastCheck = time.Now()
	q.mu.Unlock()
}

func (q *FailoverQueue) markUp() {
	if q.isDown.Swap(false) {
		q.logger.Info().Msg("Primary job queue recovered")
	}
}

func (q *FailoverQueue) Schedule(ctx context.Context, job Job) (bool, error) {
	if q.usePrimary() {
		added, err := q.primary.Schedule(ctx, job)
		if err == nil {
			q.markUp()
			return added, nil
		}
		q.markDown(err)
	}
	return q.fallback.Schedule(ctx, job)
}

func (q *FailoverQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	var out []Job
	if q.usePrimary() {
		jobs, err := q.primary.ClaimDue(ctx, now, limit)
		if err != nil {
			q.markDown(err)
		} else {
			q.markUp()
			for _, j := range jobs {
				j.origin = originPrimary
				out = append(out, j)
			}
		}
	}

	remaining := limit - len(out)
	if limit > 0 && remaining <= 0 {
		return out, nil
	}
	jobs, err := q.fallback.ClaimDue(ctx, now, remaining)
	if err != nil {
		return out, err
	}
	for _, j := range jobs {
		j.origin = originFallback
		out = append(out, j)
	}
	return out, nil
}

func (q *FailoverQueue) owner(job Job) Queue {
	if job.origin == originFallback {
		return q.fallback
	}
	return q.primary
}

func (q *FailoverQueue) Complete(ctx context.Context, job Job) error {
	return q.owner(job).Complete(ctx, job)
}

func (q *FailoverQueue) Retry(ctx context.Context, job Job, at time.Time, cause error) error {
	return q.owner(job).Retry(ctx, job, at, cause)
}

func (q *FailoverQueue) Fail(ctx context.Context, job Job, cause error) error {
	return q.owner(job).Fail(ctx, job, cause)
}
