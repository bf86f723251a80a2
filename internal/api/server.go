// Package api exposes the booking scheduler over HTTP.
package api

import (
	"context"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"skynet/internal/models"
	"skynet/internal/service"
)

type BookingService interface {
	CreateBooking(ctx context.Context, in service.CreateBookingInput) (*models.Booking, error)
	UpdateBooking(ctx context.Context, in service.UpdateBookingInput) (*models.Booking, error)
	ListBookings(ctx context.Context, in service.ListBookingsInput) (*service.BookingPage, error)
}

type EscalationDismisser interface {
	DismissEscalation(ctx context.Context, in service.DismissEscalationInput) (*models.Escalation, error)
}

// AuditExporter writes a tenant's audit workbook.
type AuditExporter interface {
	Export(ctx context.Context, tenantID string, w io.Writer) error
}

type Deps struct {
	Bookings    BookingService
	Escalations service.EscalationLister
	Dismisser   EscalationDismisser
	Audit       AuditExporter
	APIKeys     []string
}

// HTTPServer holds the handlers of the public API.
type HTTPServer struct {
	bookings    BookingService
	escalations service.EscalationLister
	dismisser   EscalationDismisser
	audit       AuditExporter
	apiKeys     []string
	validate    *validator.Validate
	now         func() time.Time
	logger      zerolog.Logger
}

func NewHTTPServer(deps Deps, logger *zerolog.Logger) *HTTPServer {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &HTTPServer{
		bookings:    deps.Bookings,
		escalations: deps.Escalations,
		dismisser:   deps.Dismisser,
		audit:       deps.Audit,
		apiKeys:     deps.APIKeys,
		validate:    validate,
		now:         time.Now,
		logger:      logger.With().Str("component", "http").Logger(),
	}
}

// Routes builds the router for /api/v1.
func (s *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Use(s.authenticate)

		r.Route("/bookings", func(r chi.Router) {
			r.Get("/", s.instrument("bookings_list", s.handleListBookings))
			r.Post("/", s.instrument("bookings_create", s.handleCreateBooking))
			r.Patch("/{id}", s.instrument("bookings_update", s.handleUpdateBooking))
		})

		r.Route("/escalations", func(r chi.Router) {
			r.Use(s.requireRole(models.RoleAdmin, models.RoleTenant))
			r.Get("/", s.instrument("escalations_list", s.handleListEscalations))
			r.Patch("/{id}/resolve", s.instrument("escalations_dismiss", s.handleDismissEscalation))
		})

		r.With(s.requireRole(models.RoleAdmin, models.RoleTenant)).
			Get("/audit/export", s.instrument("audit_export", s.handleAuditExport))
	})

	return r
}
