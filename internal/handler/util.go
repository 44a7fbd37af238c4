package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/capitalize-ai/chat-demo/internal/script"
	"github.com/capitalize-ai/chat-demo/internal/service"
)

const maxBodyBytes = 64 << 10

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// decodeJSON decodes a bounded request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// errorStatus maps service errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrGeneratedScriptRejected):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrScriptNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, script.ErrInvalidScript):
		return http.StatusBadRequest
	case errors.Is(err, script.ErrDuplicateScript):
		return http.StatusConflict
	case errors.Is(err, service.ErrTooManySessions), errors.Is(err, service.ErrLLMUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
