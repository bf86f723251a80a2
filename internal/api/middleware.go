package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"skynet/internal/apperror"
	"skynet/internal/metrics"
	"skynet/internal/models"
)

// Identity headers set by the authenticating gateway in front of the service.
const (
	HeaderUserID   = "X-User-ID"
	HeaderTenantID = "X-Tenant-ID"
	HeaderRole     = "X-User-Role"
	HeaderAPIKey   = "X-Api-Key"
)

const msgNotAuthenticated = "Not authenticated"

type actorKey struct{}

func withActor(ctx context.Context, a models.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the caller stored by the authenticate middleware.
func ActorFrom(ctx context.Context) (models.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(models.Actor)
	return a, ok
}

func (s *HTTPServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := models.Actor{
			UserID:   r.Header.Get(HeaderUserID),
			TenantID: r.Header.Get(HeaderTenantID),
			Role:     models.Role(r.Header.Get(HeaderRole)),
		}
		if actor.UserID == "" || actor.TenantID == "" || !actor.Role.Valid() {
			writeMessage(w, http.StatusUnauthorized, msgNotAuthenticated)
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

func (s *HTTPServer) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.apiKeys) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		got := []byte(r.Header.Get(HeaderAPIKey))
		for _, key := range s.apiKeys {
			if subtle.ConstantTimeCompare(got, []byte(key)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeMessage(w, http.StatusUnauthorized, "Invalid API key")
	})
}

func (s *HTTPServer) requireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ := ActorFrom(r.Context())
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeMessage(w, http.StatusForbidden, apperror.MsgNotAuthorized)
		})
	}
}

// instrument counts responses of one endpoint by status class.
func (s *HTTPServer) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		h(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.IncHTTP(endpoint, status)
	}
}

func (s *HTTPServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
