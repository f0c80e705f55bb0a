package rest

import (
	"net/http"
	"strings"

	"debt-titles/internal/service"
	"debt-titles/internal/transport/auth"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, invalidField(name, name+" must be a UUID")
	}
	return id, nil
}

func (h *Handler) listTitles(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseAsOf(r)
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	document := r.URL.Query().Get("document")
	if err := checkDocument("document", document, false); err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	titles, err := h.titles.List(r.Context(), document, asOf)
	if err != nil {
		ErrorFrom(w, "list titles", err)
		return
	}

	Success(w, "", titles)
}

func (h *Handler) createTitle(w http.ResponseWriter, r *http.Request) {
	in, err := ValidateCreateTitleRequest(r)
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	title, err := h.titles.Create(r.Context(), in)
	if err != nil {
		ErrorFrom(w, "create title", err)
		return
	}

	SuccessCreated(w, "Título criado", title)
}

func (h *Handler) getTitle(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}
	asOf, err := parseAsOf(r)
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	title, err := h.titles.Get(r.Context(), id, asOf)
	if err != nil {
		ErrorFrom(w, "get title", err)
		return
	}

	Success(w, "", title)
}

func (h *Handler) updateTitle(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}
	u, err := ValidateUpdateTitleRequest(r)
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	title, err := h.titles.Update(r.Context(), id, u)
	if err != nil {
		ErrorFrom(w, "update title", err)
		return
	}

	Success(w, "Título atualizado", title)
}

func (h *Handler) deleteTitle(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	if err := h.titles.Delete(r.Context(), id); err != nil {
		ErrorFrom(w, "delete title", err)
		return
	}

	Success(w, "Título removido", nil)
}

func (h *Handler) addInstallment(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}
	in, err := ValidateInstallmentRequest(r)
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	title, err := h.titles.AddInstallment(r.Context(), id, in)
	if err != nil {
		ErrorFrom(w, "add installment", err)
		return
	}

	SuccessCreated(w, "Parcela adicionada", title)
}

func (h *Handler) payInstallment(w http.ResponseWriter, r *http.Request) {
	h.setInstallmentPaid(w, r, true)
}

func (h *Handler) unpayInstallment(w http.ResponseWriter, r *http.Request) {
	h.setInstallmentPaid(w, r, false)
}

func (h *Handler) setInstallmentPaid(w http.ResponseWriter, r *http.Request, paid bool) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}
	titleID, err := uuidParam(r, "id")
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}
	installmentID, err := uuidParam(r, "installmentID")
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	var (
		view service.InstallmentView
		op   string
		msg  string
	)
	if paid {
		op, msg = "mark installment paid", "Parcela paga"
		view, err = h.titles.MarkInstallmentPaid(r.Context(), userID, titleID, installmentID)
	} else {
		op, msg = "mark installment unpaid", "Pagamento da parcela estornado"
		view, err = h.titles.MarkInstallmentUnpaid(r.Context(), userID, titleID, installmentID)
	}
	if err != nil {
		ErrorFrom(w, op, err)
		return
	}

	Success(w, msg, view)
}

func (h *Handler) overdueInstallments(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseAsOf(r)
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	items, err := h.titles.OverdueInstallments(r.Context(), asOf)
	if err != nil {
		ErrorFrom(w, "list overdue installments", err)
		return
	}

	Success(w, "", items)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseAsOf(r)
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	st, err := h.titles.Stats(r.Context(), asOf)
	if err != nil {
		ErrorFrom(w, "get stats", err)
		return
	}

	Success(w, "", st)
}

func (h *Handler) validateDocument(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("document"))
	if raw == "" {
		ErrorBadRequest(w, "document is required")
		return
	}

	valid, docType, formatted := service.ValidateDocument(raw)
	data := map[string]interface{}{
		"document": raw,
		"valid":    valid,
	}
	if valid {
		data["type"] = docType
		data["formatted"] = formatted
	}

	Success(w, "", data)
}
