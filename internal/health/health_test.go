package health

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newChecker() *Checker {
	logger := zerolog.New(io.Discard)
	return New(time.Second, &logger)
}

func TestHandler(t *testing.T) {
	c := newChecker()
	dbUp := true
	c.Add("db", func(context.Context) error {
		if !dbUp {
			return errors.New("closed")
		}
		return nil
	})
	h := c.Handler()

	tests := []struct {
		name   string
		path   string
		dbUp   bool
		status int
		body   string
	}{
		{"live", "/healthz", false, http.StatusOK, "ok"},
		{"ready", "/readyz", true, http.StatusOK, "ready"},
		{"not ready", "/readyz", false, http.StatusServiceUnavailable, "db not ready: closed\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbUp = tt.dbUp
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.body, rr.Body.String())
		})
	}
}

func TestReady_StopsAtFirstFailure(t *testing.T) {
	c := newChecker()
	called := false
	c.Add("redis", func(context.Context) error { return errors.New("refused") })
	c.Add("db", func(context.Context) error {
		called = true
		return nil
	})

	err := c.Ready(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis not ready")
	assert.False(t, called)
}

func TestRefresh_PublishesGRPCStatus(t *testing.T) {
	c := newChecker()
	ctx := context.Background()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, c.Refresh(ctx))

	resp, err := c.grpc.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	c.Add("db", func(context.Context) error { return errors.New("down") })
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, c.Refresh(ctx))
	resp, err = c.grpc.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}
