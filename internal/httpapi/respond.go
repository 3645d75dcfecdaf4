package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/service"
)

type errorBody struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Boundary      string `json:"boundary,omitempty"`
	RemainingUses *int   `json:"remaining_uses,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// statusFor maps an access kind to its HTTP status.
func statusFor(k service.Kind) int {
	switch k {
	case service.KindDecodeError, service.KindInvalidRequest:
		return http.StatusBadRequest
	case service.KindInvalidSignature, service.KindExpired:
		return http.StatusUnauthorized
	case service.KindForbidden, service.KindTooEarly, service.KindTooLate,
		service.KindKeyInactive, service.KindRevoked, service.KindRoomMismatch,
		service.KindBookingInactive, service.KindUsageLimitExceeded:
		return http.StatusForbidden
	case service.KindBookingNotFound, service.KindNotFound:
		return http.StatusNotFound
	case service.KindActuationFailed:
		return http.StatusBadGateway
	case service.KindProviderNotConfigured:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBodyFor(ae *service.AccessError) errorBody {
	b := errorBody{
		Error:         string(ae.Kind),
		Message:       ae.Message,
		RemainingUses: ae.RemainingUses,
		ErrorCode:     ae.ErrorCode,
	}
	if ae.Boundary != nil {
		b.Boundary = ae.Boundary.UTC().Format(timeLayout)
	}
	if b.Message == "" {
		b.Message = string(ae.Kind)
	}
	return b
}

// writeServiceError writes an AccessError with its context, and anything
// else as an opaque 500.
func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	var ae *service.AccessError
	if errors.As(err, &ae) {
		writeJSON(w, statusFor(ae.Kind), errorBodyFor(ae))
		return
	}
	s.logger.Printf("%s error: %v", op, err)
	writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
}
