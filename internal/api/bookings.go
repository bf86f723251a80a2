package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"skynet/internal/apperror"
	"skynet/internal/models"
	"skynet/internal/service"
)

// CreateBookingRequest is the body of POST /api/v1/bookings.
type CreateBookingRequest struct {
	InstructorID *string   `json:"instructorId" validate:"omitempty,min=1,max=64"`
	StartTime    time.Time `json:"startTime" validate:"required"`
	EndTime      time.Time `json:"endTime" validate:"required"`
}

// UpdateBookingRequest is the body of PATCH /api/v1/bookings/{id}. Omitted
// fields are left unchanged.
type UpdateBookingRequest struct {
	Status             *models.BookingStatus `json:"status"`
	InstructorID       *string               `json:"instructorId" validate:"omitempty,min=1,max=64"`
	CancellationReason *string               `json:"cancellationReason" validate:"omitempty,max=500"`
}

// handleCreateBooking
// POST /api/v1/bookings
func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	var req CreateBookingRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	b, err := s.bookings.CreateBooking(r.Context(), service.CreateBookingInput{
		Actor:         actor,
		InstructorID:  req.InstructorID,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		CorrelationID: middleware.GetReqID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeData(w, http.StatusCreated, "booking", b)
}

// handleUpdateBooking approves, assigns or cancels a booking.
// PATCH /api/v1/bookings/{id}
func (s *HTTPServer) handleUpdateBooking(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	var req UpdateBookingRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Status == nil && req.InstructorID == nil && req.CancellationReason == nil {
		s.writeError(w, r, apperror.Validation("No changes requested"))
		return
	}

	b, err := s.bookings.UpdateBooking(r.Context(), service.UpdateBookingInput{
		Actor:              actor,
		BookingID:          chi.URLParam(r, "id"),
		Status:             req.Status,
		InstructorID:       req.InstructorID,
		CancellationReason: req.CancellationReason,
		CorrelationID:      middleware.GetReqID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, "booking", b)
}

// handleListBookings
// GET /api/v1/bookings?start=&end=&userId=&page=&limit=
func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	q := r.URL.Query()

	in := service.ListBookingsInput{Actor: actor, UserID: q.Get("userId")}
	var err error
	if in.From, err = parseTimeParam(q.Get("start"), "start"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if in.To, err = parseTimeParam(q.Get("end"), "end"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if in.Page, in.Limit, err = parsePaging(r); err != nil {
		s.writeError(w, r, err)
		return
	}

	page, err := s.bookings.ListBookings(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		Status:  "success",
		Results: page.Results,
		Total:   page.Total,
		Page:    page.Page,
		Pages:   page.Pages,
		Data:    map[string]any{"bookings": page.Bookings},
	})
}

func parseTimeParam(raw, name string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperror.Validation("Invalid " + name + " time; expected RFC3339")
	}
	return &t, nil
}

func parsePaging(r *http.Request) (page, limit int, err error) {
	q := r.URL.Query()
	if raw := q.Get("page"); raw != "" {
		if page, err = strconv.Atoi(raw); err != nil || page < 1 {
			return 0, 0, apperror.Validation("Invalid page")
		}
	}
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 1 {
			return 0, 0, apperror.Validation("Invalid limit")
		}
	}
	return page, limit, nil
}
