package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/neasmart-gateway/internal/addrmap"
	"github.com/nerrad567/neasmart-gateway/internal/gateway"
)

// Error represents a structured error response.
//
// Err repeats Message under the key the add-on's clients read.
type Error struct {
	Err     string `json:"err"`
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
	ErrCodeUnavailable    = "unavailable"
)

// identifierMessages are the client-facing rejections per identifier field.
var identifierMessages = map[string]string{
	addrmap.IDBase:         "invalid base id",
	addrmap.IDZone:         "invalid zone id",
	addrmap.IDGroup:        "invalid mixed group id",
	addrmap.IDDehumidifier: "invalid dehumidifier id",
	addrmap.IDPump:         "invalid pump id",
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message, field string) {
	writeJSON(w, status, Error{
		Err:     message,
		Status:  status,
		Code:    code,
		Message: message,
		Field:   field,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message, "")
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message, "")
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message, "")
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message, "")
}

// writeInvalidID writes the 400 response for an identifier that is not an
// integer or is out of range.
func writeInvalidID(w http.ResponseWriter, field string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, identifierMessages[field], field)
}

// writeGatewayError maps a gateway operation failure to a response.
// Validation failures are the client's fault; anything else is ours.
func (s *Server) writeGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	var idErr *addrmap.IdentifierError
	var payloadErr *gateway.PayloadError

	switch {
	case errors.As(err, &idErr):
		writeInvalidID(w, idErr.Field)
	case errors.As(err, &payloadErr):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, payloadErr.Reason, payloadErr.Field)
	default:
		s.logger.Error("gateway operation failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "register store failure")
	}
}
