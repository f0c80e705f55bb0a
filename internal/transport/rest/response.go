package rest

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"debt-titles/internal/domain"
	"debt-titles/internal/repository"
	"debt-titles/internal/service"
)

type APIResponse struct {
	ErrorCode int         `json:"error_code"`
	Status    string      `json:"status"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data"`
}

func Response(w http.ResponseWriter, message string, data interface{}, errorCode int, status string, httpStatus int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	response := APIResponse{
		ErrorCode: errorCode,
		Status:    status,
		Message:   message,
		Data:      data,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("[HTTP] write response error: %v", err)
	}
}

func Success(w http.ResponseWriter, message string, data interface{}) {
	Response(w, message, data, 0, "success", http.StatusOK)
}

func SuccessCreated(w http.ResponseWriter, message string, data interface{}) {
	Response(w, message, data, 0, "success", http.StatusCreated)
}

func SuccessAccepted(w http.ResponseWriter, message string, data interface{}) {
	Response(w, message, data, 0, "success", http.StatusAccepted)
}

func Error(w http.ResponseWriter, message string, errorCode int, httpStatus int) {
	Response(w, message, nil, errorCode, "error", httpStatus)
}

func ErrorBadRequest(w http.ResponseWriter, message string) {
	Error(w, message, 400, http.StatusBadRequest)
}

func ErrorUnauthorized(w http.ResponseWriter, message string) {
	Error(w, message, 401, http.StatusUnauthorized)
}

func ErrorNotFound(w http.ResponseWriter, message string) {
	Error(w, message, 404, http.StatusNotFound)
}

func ErrorConflict(w http.ResponseWriter, message string) {
	Error(w, message, 409, http.StatusConflict)
}

func ErrorInternal(w http.ResponseWriter, message string) {
	Error(w, message, 500, http.StatusInternalServerError)
}

// ErrorFrom writes the response matching err. Unknown errors are logged under op.
func ErrorFrom(w http.ResponseWriter, op string, err error) {
	switch {
	case domain.IsValidation(err):
		ErrorBadRequest(w, err.Error())
	case errors.Is(err, service.ErrTitleNotFound),
		errors.Is(err, service.ErrExportNotFound),
		errors.Is(err, domain.ErrInstallmentNotFound):
		ErrorNotFound(w, err.Error())
	case errors.Is(err, domain.ErrInstallmentAlreadyPaid),
		errors.Is(err, repository.ErrDuplicateTitleNumber),
		errors.Is(err, repository.ErrDuplicateInstallmentNumber):
		ErrorConflict(w, err.Error())
	default:
		log.Printf("[HTTP] %s error: %v", op, err)
		ErrorInternal(w, "failed to "+op)
	}
}
