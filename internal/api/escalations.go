package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"skynet/internal/models"
	"skynet/internal/service"
)

// handleListEscalations
// GET /api/v1/escalations?status=&page=&limit=
func (s *HTTPServer) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	page, limit, err := parsePaging(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.escalations.ListEscalations(r.Context(), service.ListEscalationsInput{
		Actor:  actor,
		Status: models.EscalationStatus(r.URL.Query().Get("status")),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		Status:  "success",
		Results: res.Results,
		Total:   res.Total,
		Page:    res.Page,
		Pages:   res.Pages,
		Data:    map[string]any{"escalations": res.Escalations},
	})
}

// handleDismissEscalation
// PATCH /api/v1/escalations/{id}/resolve
func (s *HTTPServer) handleDismissEscalation(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	e, err := s.dismisser.DismissEscalation(r.Context(), service.DismissEscalationInput{
		Actor:         actor,
		EscalationID:  chi.URLParam(r, "id"),
		CorrelationID: middleware.GetReqID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, "escalation", e)
}
