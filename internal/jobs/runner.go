package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"skynet/internal/metrics"
)

// Handler runs one job. Returning an error schedules a retry unless the
// error is Permanent or the attempts are exhausted.
type Handler func(ctx context.Context, job Job) error

// RunnerConfig holds configuration for the job runner.
type RunnerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Retry        RetryConfig
}

// DefaultRunnerConfig returns the default runner configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    50,
		Retry:        DefaultRetryConfig(),
	}
}

// Runner polls a Queue and dispatches due jobs to handlers by kind.
type Runner struct {
	queue    Queue
	config   RunnerConfig
	logger   zerolog.Logger
	now      func() time.Time
	handlers map[string]Handler

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

func NewRunner(queue Queue, cfg RunnerConfig, logger *zerolog.Logger) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	return &Runner{
		queue:    queue,
		config:   cfg,
		logger:   logger.With().Str("component", "jobs").Logger(),
		now:      time.Now,
		handlers: make(map[string]Handler),
		stopCh:   make(chan struct{}),
	}
}

// SetClock overrides the time source.
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// Handle registers the handler for a job kind.
func (r *Runner) Handle(kind string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Start polls until ctx is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	r.logger.Info().Dur("poll_interval", r.config.PollInterval).Msg("Job runner started")

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		r.RunOnce(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Job runner stopped by context")
			return
		case <-r.stopCh:
			r.logger.Info().Msg("Job runner stopped")
			return
		case <-ticker.C:
		}
	}
}

// Stop stops the runner.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		r.running = false
		close(r.stopCh)
	}
}

// RunOnce claims and processes one batch of due jobs, returning how many ran.
func (r *Runner) RunOnce(ctx context.Context) int {
	jobs, err := r.queue.ClaimDue(ctx, r.now(), r.config.BatchSize)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to claim due jobs")
	}

	for _, job := range jobs {
		select {
		case <-ctx.Done():
			return 0
		default:
		}
		r.process(ctx, job)
	}
	return len(jobs)
}

func (r *Runner) process(ctx context.Context, job Job) {
	r.mu.Lock()
	handler, ok := r.handlers[job.Kind]
	r.mu.Unlock()

	log := r.logger.With().Str("job_key", job.Key).Str("kind", job.Kind).Int("attempt", job.Attempts+1).Logger()

	if !ok {
		err := fmt.Errorf("no handler for job kind %q", job.Kind)
		log.Error().Err(err).Msg("Job failed")
		metrics.IncJob(job.Kind, "failed")
		if ferr := r.queue.Fail(ctx, job, err); ferr != nil {
			log.Error().Err(ferr).Msg("Failed to mark job failed")
		}
		return
	}

	start := time.Now()
	err := r.safeRun(ctx, handler, job)
	metrics.ObserveJobDuration(job.Kind, time.Since(start).Seconds())
	job.Attempts++

	if err == nil {
		metrics.IncJob(job.Kind, "completed")
		if cerr := r.queue.Complete(ctx, job); cerr != nil {
			log.Error().Err(cerr).Msg("Failed to mark job completed")
		}
		return
	}

	if IsPermanent(err) || job.Attempts >= r.config.Retry.MaxAttempts {
		log.Error().Err(err).Int("attempts", job.Attempts).Msg("Job failed permanently")
		metrics.IncJob(job.Kind, "failed")
		if ferr := r.queue.Fail(ctx, job, err); ferr != nil {
			log.Error().Err(ferr).Msg("Failed to mark job failed")
		}
		return
	}

	delay := r.config.Retry.Delay(job.Attempts)
	log.Warn().Err(err).Dur("retry_in", delay).Msg("Job failed, will retry")
	metrics.IncJob(job.Kind, "retried")
	if rerr := r.queue.Retry(ctx, job, r.now().Add(delay), err); rerr != nil {
		log.Error().Err(rerr).Msg("Failed to reschedule job")
	}
}

func (r *Runner) safeRun(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job handler panic: %v", rec)
		}
	}()
	return h(ctx, job)
}
