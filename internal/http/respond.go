package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/fjod/scancart/internal/domain"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// errorStatus maps a domain error to an HTTP status and a stable error code.
func errorStatus(err error) (int, string) {
	if errors.Is(err, domain.ErrPaymentInProgress) {
		return http.StatusConflict, "payment_in_progress"
	}

	switch domain.Classify(err) {
	case domain.KindSessionMissing:
		return http.StatusConflict, "session_missing"
	case domain.KindPairingConflict:
		return http.StatusConflict, "pairing_conflict"
	case domain.KindCartLocked:
		return http.StatusConflict, "cart_locked"
	case domain.KindInvalid:
		return http.StatusBadRequest, "invalid_request"
	case domain.KindPayment:
		return http.StatusPaymentRequired, "payment_failed"
	case domain.KindPermission:
		return http.StatusForbidden, "permission_denied"
	case domain.KindUnavailable, domain.KindTransient:
		return http.StatusServiceUnavailable, "service_unavailable"
	case domain.KindFinalize:
		return http.StatusBadGateway, "finalize_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func handleError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
		respondError(w, status, code, "internal server error")
		return
	}
	respondError(w, status, code, err.Error())
}
