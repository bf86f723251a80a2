package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"skynet/internal/apperror"
)

type errorResponse struct {
	Error string `json:"error"`
}

type dataResponse struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data"`
}

type listResponse struct {
	Status  string         `json:"status"`
	Results int            `json:"results"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	Pages   int            `json:"pages"`
	Data    map[string]any `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, key string, v any) {
	writeJSON(w, status, dataResponse{Status: "success", Data: map[string]any{key: v}})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps application errors to their status code. Anything else is
// logged and reported as a generic 500.
func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		appErr = apperror.Infra("unexpected error", err)
	}
	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.logger.Error().
			Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
	}
	writeMessage(w, status, appErr.PublicMessage())
}

func (s *HTTPServer) decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperror.Validation("Invalid request body")
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperror.Validation(fmt.Sprintf("Invalid value for %s", verrs[0].Field()))
		}
		return apperror.Validation("Invalid request body")
	}
	return nil
}
