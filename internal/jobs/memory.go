package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

type jobState int

const (
	statePending jobState = iota
	stateProcessing
	stateDone
	stateFailed
)

type memEntry struct {
	job        Job
	state      jobState
	dueAt      time.Time
	leaseUntil time.Time
}

// MemoryQueue is an in-process Queue. Jobs do not survive a restart.
type MemoryQueue struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	lease   time.Duration
}

func NewMemoryQueue(lease time.Duration) *MemoryQueue {
	if lease <= 0 {
		lease = time.Minute
	}
	return &MemoryQueue{
		entries: make(map[string]*memEntry),
		lease:   lease,
	}
}

func (q *MemoryQueue) Schedule(_ context.Context, job Job) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[job.Key]; ok {
		return false, nil
	}
	job.Attempts = 0
	job.LastError = ""
	q.entries[job.Key] = &memEntry{job: job, state: statePending, dueAt: job.FireAt}
	return true, nil
}

func (q *MemoryQueue) ClaimDue(_ context.Context, now time.Time, limit int) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*memEntry
	for _, e := range q.entries {
		if e.state == stateProcessing && !e.leaseUntil.After(now) {
			e.state = statePending
			e.dueAt = now
		}
		if e.state == statePending && !e.dueAt.After(now) {
			due = append(due, e)
		}
	}

	sort.Slice(due, func(i, j int) bool { return due[i].dueAt.Before(due[j].dueAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]Job, 0, len(due))
	for _, e := range due {
		e.state = stateProcessing
		e.leaseUntil = now.Add(q.lease)
		out = append(out, e.job)
	}
	return out, nil
}

func (q *MemoryQueue) Complete(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[job.Key]; ok {
		e.state = stateDone
	}
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, job Job, at time.Time, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[job.Key]
	if !ok {
		return nil
	}
	e.state = statePending
	e.dueAt = at
	e.job.Attempts = job.Attempts
	if cause != nil {
		e.job.LastError = cause.Error()
	}
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, job Job, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[job.Key]
	if !ok {
		return nil
	}
	e.state = stateFailed
	e.job.Attempts = job.Attempts
	if cause != nil {
		e.job.LastError = cause.Error()
	}
	return nil
}

// Failed returns the jobs that exhausted their retries.
func (q *MemoryQueue) Failed() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Job
	for _, e := range q.entries {
		if e.state == stateFailed {
			out = append(out, e.job)
		}
	}
	return out
}

// Pending returns the number of jobs waiting to run.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.entries {
		if e.state == statePending || e.state == stateProcessing {
			n++
		}
	}
	return n
}
