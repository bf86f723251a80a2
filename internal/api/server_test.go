package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"skynet/internal/escalation"
	"skynet/internal/events"
	"skynet/internal/jobs"
	"skynet/internal/models"
	"skynet/internal/repository"
	"skynet/internal/service"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	store  *repository.MemoryStore
	queue  *jobs.MemoryQueue
	server *HTTPServer
	router http.Handler
}

type fakeExporter struct {
	tenantID string
	err      error
}

func (f *fakeExporter) Export(_ context.Context, tenantID string, w io.Writer) error {
	f.tenantID = tenantID
	if f.err != nil {
		return f.err
	}
	_, err := w.Write([]byte("PK-xlsx"))
	return err
}

func newTestEnv(t *testing.T, apiKeys ...string) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	bus := events.NewEventBus(&logger)
	store := repository.NewMemoryStore()
	queue := jobs.NewMemoryQueue(time.Minute)

	scheduler := escalation.NewScheduler(queue, escalation.DefaultLead, &logger)
	scheduler.SetClock(func() time.Time { return testNow })
	bookings := service.NewBookingService(store, scheduler, escalation.NewResolver(bus, &logger), bus, service.Options{}, &logger)
	bookings.SetClock(func() time.Time { return testNow })
	escalations := service.NewEscalationService(store, bus, &logger)
	escalations.SetClock(func() time.Time { return testNow })

	srv := NewHTTPServer(Deps{
		Bookings:    bookings,
		Escalations: escalations,
		Dismisser:   escalations,
		Audit:       &fakeExporter{},
		APIKeys:     apiKeys,
	}, &logger)
	srv.now = func() time.Time { return testNow }

	return &testEnv{store: store, queue: queue, server: srv, router: srv.Routes()}
}

func (e *testEnv) do(t *testing.T, method, path string, actor *models.Actor, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set(HeaderUserID, actor.UserID)
		req.Header.Set(HeaderTenantID, actor.TenantID)
		req.Header.Set(HeaderRole, string(actor.Role))
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

var (
	student = &models.Actor{UserID: "s1", TenantID: "t1", Role: models.RoleStudent}
	owner   = &models.Actor{UserID: "owner", TenantID: "t1", Role: models.RoleTenant}
)

func createBody(start time.Time, instructorID string) map[string]any {
	body := map[string]any{
		"startTime": start.Format(time.RFC3339),
		"endTime":   start.Add(time.Hour).Format(time.RFC3339),
	}
	if instructorID != "" {
		body["instructorId"] = instructorID
	}
	return body
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		actor  *models.Actor
		status int
	}{
		{"missing identity", nil, http.StatusUnauthorized},
		{"unknown role", &models.Actor{UserID: "u", TenantID: "t1", Role: "PILOT"}, http.StatusUnauthorized},
		{"missing tenant", &models.Actor{UserID: "u", Role: models.RoleAdmin}, http.StatusUnauthorized},
		{"valid", owner, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodGet, "/api/v1/bookings", tt.actor, nil)
			assert.Equal(t, tt.status, rr.Code)
		})
	}
}

func TestAPIKey(t *testing.T) {
	env := newTestEnv(t, "test-key")

	tests := []struct {
		name   string
		key    string
		status int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"wrong key", "nope", http.StatusUnauthorized},
		{"valid key", "test-key", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings", http.NoBody)
			req.Header.Set("x-api-key", tt.key)
			req.Header.Set(HeaderUserID, owner.UserID)
			req.Header.Set(HeaderTenantID, owner.TenantID)
			req.Header.Set(HeaderRole, string(owner.Role))
			rr := httptest.NewRecorder()
			env.router.ServeHTTP(rr, req)
			assert.Equal(t, tt.status, rr.Code)
		})
	}
}

func TestCreateBooking(t *testing.T) {
	start := testNow.Add(96 * time.Hour)

	t.Run("created and escalation scheduled", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.do(t, http.MethodPost, "/api/v1/bookings", student, createBody(start, ""))
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		body := decodeBody(t, rr)
		assert.Equal(t, "success", body["status"])
		b := body["data"].(map[string]any)["booking"].(map[string]any)
		assert.Equal(t, "REQUESTED", b["status"])
		assert.Equal(t, "s1", b["studentId"])

		assert.Equal(t, 1, env.queue.Pending())
		fireAt := start.Add(-48 * time.Hour)
		early, err := env.queue.ClaimDue(context.Background(), fireAt.Add(-time.Second), 10)
		require.NoError(t, err)
		assert.Empty(t, early)
		due, err := env.queue.ClaimDue(context.Background(), fireAt, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, escalation.JobKey(b["id"].(string)), due[0].Key)
	})

	t.Run("errors", func(t *testing.T) {
		env := newTestEnv(t)
		require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/bookings", student, createBody(start, "i1")).Code)
		other := &models.Actor{UserID: "s2", TenantID: "t1", Role: models.RoleStudent}

		tests := []struct {
			name   string
			actor  *models.Actor
			body   any
			status int
			msg    string
		}{
			{"not a student", owner, createBody(start.Add(24*time.Hour), ""), http.StatusForbidden, "Not authorized"},
			{"malformed json", student, "{", http.StatusBadRequest, "Invalid request body"},
			{"unknown field", student, `{"startTime":"2026-03-10T10:00:00Z","endTime":"2026-03-10T11:00:00Z","foo":1}`, http.StatusBadRequest, "Invalid request body"},
			{"missing end", student, map[string]any{"startTime": start.Format(time.RFC3339)}, http.StatusBadRequest, "Invalid value for endTime"},
			{"lead time", student, createBody(testNow.Add(24*time.Hour), ""), http.StatusBadRequest, "Bookings must be made at least 72 hours in advance"},
			{"student busy", student, createBody(start.Add(30*time.Minute), ""), http.StatusConflict, "You already have a booking at this time"},
			{"instructor busy", other, createBody(start, "i1"), http.StatusConflict, "Instructor is not available at this time"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rr := env.do(t, http.MethodPost, "/api/v1/bookings", tt.actor, tt.body)
				assert.Equal(t, tt.status, rr.Code)
				assert.Equal(t, tt.msg, decodeBody(t, rr)["error"])
			})
		}
	})
}

func TestUpdateBooking(t *testing.T) {
	env := newTestEnv(t)
	start := testNow.Add(96 * time.Hour)
	rr := env.do(t, http.MethodPost, "/api/v1/bookings", student, createBody(start, ""))
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decodeBody(t, rr)["data"].(map[string]any)["booking"].(map[string]any)["id"].(string)

	tests := []struct {
		name   string
		actor  *models.Actor
		path   string
		body   any
		status int
	}{
		{"not found", owner, "/api/v1/bookings/missing", map[string]any{"status": "CANCELLED"}, http.StatusNotFound},
		{"empty update", owner, "/api/v1/bookings/" + id, map[string]any{}, http.StatusBadRequest},
		{"unknown status", owner, "/api/v1/bookings/" + id, map[string]any{"status": "FLYING"}, http.StatusBadRequest},
		{"approve without instructor", owner, "/api/v1/bookings/" + id, map[string]any{"status": "APPROVED"}, http.StatusConflict},
		{"student approves", student, "/api/v1/bookings/" + id, map[string]any{"status": "APPROVED"}, http.StatusForbidden},
		{"assign and approve", owner, "/api/v1/bookings/" + id, map[string]any{"status": "APPROVED", "instructorId": "i1"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPatch, tt.path, tt.actor, tt.body)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
		})
	}

	b, err := env.store.GetBooking(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, b.Status)
	require.NotNil(t, b.InstructorID)
	assert.Equal(t, "i1", *b.InstructorID)
}

func TestListBookings(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		start := testNow.Add(time.Duration(96+2*i) * time.Hour)
		require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/bookings", student, createBody(start, "")).Code)
	}

	t.Run("paginated", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/v1/bookings?page=2&limit=2", owner, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		body := decodeBody(t, rr)
		assert.EqualValues(t, 1, body["results"])
		assert.EqualValues(t, 3, body["total"])
		assert.EqualValues(t, 2, body["page"])
		assert.EqualValues(t, 2, body["pages"])
		assert.Len(t, body["data"].(map[string]any)["bookings"], 1)
	})

	t.Run("range filter", func(t *testing.T) {
		from := testNow.Add(97 * time.Hour).Format(time.RFC3339)
		rr := env.do(t, http.MethodGet, "/api/v1/bookings?start="+from, owner, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.EqualValues(t, 2, decodeBody(t, rr)["total"])
	})

	t.Run("bad params", func(t *testing.T) {
		for _, q := range []string{"?page=0", "?limit=abc", "?start=yesterday"} {
			rr := env.do(t, http.MethodGet, "/api/v1/bookings"+q, owner, nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code, q)
		}
	})

	t.Run("other tenant sees nothing", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/v1/bookings", &models.Actor{UserID: "x", TenantID: "t2", Role: models.RoleAdmin}, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.EqualValues(t, 0, decodeBody(t, rr)["total"])
	})
}

func TestEscalationEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.CreateEscalation(ctx, &models.Escalation{
		ID: "e1", BookingID: "b1", TenantID: "t1", Message: "m", Status: models.EscalationUnresolved, CreatedAt: testNow,
	}))

	t.Run("students are rejected", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/v1/escalations", student, nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		rr = env.do(t, http.MethodPatch, "/api/v1/escalations/e1/resolve", student, nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("list", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/v1/escalations", owner, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		body := decodeBody(t, rr)
		assert.EqualValues(t, 1, body["results"])
	})

	t.Run("dismiss", func(t *testing.T) {
		rr := env.do(t, http.MethodPatch, "/api/v1/escalations/e1/resolve", owner, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		e := decodeBody(t, rr)["data"].(map[string]any)["escalation"].(map[string]any)
		assert.Equal(t, "RESOLVED", e["status"])

		rr = env.do(t, http.MethodGet, "/api/v1/escalations", owner, nil)
		assert.EqualValues(t, 0, decodeBody(t, rr)["results"])
	})

	t.Run("dismiss missing", func(t *testing.T) {
		rr := env.do(t, http.MethodPatch, "/api/v1/escalations/nope/resolve", owner, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "Escalation not found", decodeBody(t, rr)["error"])
	})
}

func TestAuditExport(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/v1/audit/export", student, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/v1/audit/export", owner, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, xlsxContentType, rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "audit_t1_20260301_120000.xlsx")
	assert.Equal(t, "PK-xlsx", rr.Body.String())
	assert.Equal(t, "t1", env.server.audit.(*fakeExporter).tenantID)
}

type mockBookings struct {
	mock.Mock
}

func (m *mockBookings) CreateBooking(ctx context.Context, in service.CreateBookingInput) (*models.Booking, error) {
	args := m.Called(ctx, in)
	b, _ := args.Get(0).(*models.Booking)
	return b, args.Error(1)
}

func (m *mockBookings) UpdateBooking(ctx context.Context, in service.UpdateBookingInput) (*models.Booking, error) {
	args := m.Called(ctx, in)
	b, _ := args.Get(0).(*models.Booking)
	return b, args.Error(1)
}

func (m *mockBookings) ListBookings(ctx context.Context, in service.ListBookingsInput) (*service.BookingPage, error) {
	args := m.Called(ctx, in)
	p, _ := args.Get(0).(*service.BookingPage)
	return p, args.Error(1)
}

func TestInternalErrorsAreHidden(t *testing.T) {
	logger := zerolog.New(io.Discard)
	bookings := &mockBookings{}
	bookings.On("ListBookings", mock.Anything, mock.Anything).Return(nil, errors.New("disk I/O error: /var/lib/skynet.db")).Once()
	srv := NewHTTPServer(Deps{Bookings: bookings}, &logger)
	env := &testEnv{server: srv, router: srv.Routes()}

	rr := env.do(t, http.MethodGet, "/api/v1/bookings", owner, nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Something went wrong", decodeBody(t, rr)["error"])
	assert.NotEmpty(t, rr.Header().Get("Content-Type"))
	bookings.AssertExpectations(t)
}

func TestCorrelationIDFromRequestID(t *testing.T) {
	logger := zerolog.New(io.Discard)
	bookings := &mockBookings{}
	bookings.On("CreateBooking", mock.Anything, mock.MatchedBy(func(in service.CreateBookingInput) bool {
		return in.CorrelationID == "req-42" && in.Actor.UserID == "s1"
	})).Return(&models.Booking{ID: "b1"}, nil).Once()
	srv := NewHTTPServer(Deps{Bookings: bookings}, &logger)

	data, err := json.Marshal(createBody(testNow.Add(96*time.Hour), ""))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", bytes.NewReader(data))
	req.Header.Set("X-Request-Id", "req-42")
	req.Header.Set(HeaderUserID, "s1")
	req.Header.Set(HeaderTenantID, "t1")
	req.Header.Set(HeaderRole, "STUDENT")
	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	bookings.AssertExpectations(t)
}
