package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"infomail/services"
)

// Error codes carried in APIResponse.Code.
const (
	CodeValidation        = "VALIDATION"
	CodeConfigMissing     = "CONFIG_MISSING"
	CodeInvalidCredential = "INVALID_CREDENTIAL"
	CodeTransport         = "TRANSPORT_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeForbidden         = "FORBIDDEN"
	CodeQuotaExceeded     = "QUOTA_EXCEEDED"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeInternal          = "INTERNAL_ERROR"
)

// APIResponse struct for consistent JSON responses
type APIResponse struct {
	Message string      `json:"message"`
	Status  string      `json:"status"` // "success" or "error"
	Code    string      `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(response)
}

// errorResponse sends an error JSON response
func errorResponse(w http.ResponseWriter, statusCode int, code, message string, data interface{}) {
	respondWithJSON(w, statusCode, APIResponse{
		Message: message,
		Status:  "error",
		Code:    code,
		Data:    data,
	})
}

// successResponse sends a success JSON response
func successResponse(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	respondWithJSON(w, statusCode, APIResponse{
		Message: message,
		Status:  "success",
		Data:    data,
	})
}

// classify maps a service error onto an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, services.ErrConfigMissing):
		return http.StatusBadRequest, CodeConfigMissing
	case errors.Is(err, services.ErrInvalidCredential):
		return http.StatusBadRequest, CodeInvalidCredential
	case errors.Is(err, services.ErrTransport):
		return http.StatusBadGateway, CodeTransport
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, services.ErrQuotaExceeded):
		return http.StatusTooManyRequests, CodeQuotaExceeded
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// writeError answers with the error's classified status. Unclassified
// errors are logged and hidden behind a generic message.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.SugaredLogger, err error, data interface{}) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		logger.Errorw("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		errorResponse(w, status, code, "Internal server error", nil)
		return
	}
	errorResponse(w, status, code, services.Message(err), data)
}
