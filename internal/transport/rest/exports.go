package rest

import (
	"net/http"

	"debt-titles/internal/transport/auth"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) exportTitles(w http.ResponseWriter, r *http.Request) {
	req, err := ValidateExportRequest(r)
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	exportID, err := h.exporter.StartTitlesExport(r.Context(), req, userID)
	if err != nil {
		ErrorFrom(w, "start export", err)
		return
	}

	SuccessAccepted(w, "Exportação colocada na fila", map[string]interface{}{
		"export_id": exportID,
	})
}

func (h *Handler) listExports(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	exports, err := h.exportList.GetExports(r.Context(), userID)
	if err != nil {
		ErrorFrom(w, "get exports", err)
		return
	}

	Success(w, "", exports)
}

func (h *Handler) getExport(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	exportID := chi.URLParam(r, "export_id")
	if exportID == "" {
		ErrorBadRequest(w, "export_id is required")
		return
	}

	export, err := h.exportList.GetExport(r.Context(), exportID, userID)
	if err != nil {
		ErrorFrom(w, "get export", err)
		return
	}

	Success(w, "", export)
}
