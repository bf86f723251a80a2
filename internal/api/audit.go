package api

import (
	"bytes"
	"fmt"
	"net/http"

	"skynet/internal/apperror"
	"skynet/internal/audit"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handleAuditExport streams the tenant's bookings, escalations and audit log as XLSX.
// GET /api/v1/audit/export
func (s *HTTPServer) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	if s.audit == nil {
		writeMessage(w, http.StatusNotImplemented, "Audit export is not configured")
		return
	}

	var buf bytes.Buffer
	if err := s.audit.Export(r.Context(), actor.TenantID, &buf); err != nil {
		s.writeError(w, r, apperror.Infra("export audit", err))
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", audit.FileName(actor.TenantID, s.now())))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
