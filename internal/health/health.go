// Package health reports liveness and readiness over HTTP and the gRPC
// health protocol.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Check returns nil when a dependency is usable.
type Check func(ctx context.Context) error

type namedCheck struct {
	name  string
	check Check
}

type Checker struct {
	mu      sync.RWMutex
	checks  []namedCheck
	timeout time.Duration
	grpc    *grpchealth.Server
	logger  zerolog.Logger
}

func New(timeout time.Duration, logger *zerolog.Logger) *Checker {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Checker{
		timeout: timeout,
		grpc:    grpchealth.NewServer(),
		logger:  logger.With().Str("component", "health").Logger(),
	}
}

// Add registers a readiness check.
func (c *Checker) Add(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, namedCheck{name: name, check: check})
}

// Ready runs the checks in registration order and returns the first failure.
func (c *Checker) Ready(ctx context.Context) error {
	c.mu.RLock()
	checks := append([]namedCheck(nil), c.checks...)
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	for _, nc := range checks {
		if err := nc.check(ctx); err != nil {
			return fmt.Errorf("%s not ready: %w", nc.name, err)
		}
	}
	return nil
}

// Handler serves /healthz and /readyz.
func (c *Checker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := c.Ready(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

// RegisterGRPC exposes the readiness state through grpc.health.v1.
func (c *Checker) RegisterGRPC(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, c.grpc)
}

// Refresh runs the checks once and publishes the result to gRPC clients.
func (c *Checker) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := c.Ready(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Readiness check failed")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	c.grpc.SetServingStatus("", status)
	return status
}

// Watch refreshes the gRPC status every interval until ctx is done.
func (c *Checker) Watch(ctx context.Context, interval time.Duration) {
	c.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.grpc.Shutdown()
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}
