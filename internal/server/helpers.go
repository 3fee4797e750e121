package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bobmcallan/smartfund/internal/models"
)

// ErrorResponse is the standard error format for REST API responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message})
}

// WriteErrorWithCode writes a JSON error response with an error code.
func WriteErrorWithCode(w http.ResponseWriter, statusCode int, message, code string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// WritePNG writes a rendered chart.
func WritePNG(w http.ResponseWriter, png []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// WriteServiceError maps service sentinel errors onto HTTP status codes.
// Anything unrecognised is a 500 with the given prefix.
func WriteServiceError(w http.ResponseWriter, err error, prefix string) {
	switch {
	case errors.Is(err, models.ErrInvalidRequest), errors.Is(err, models.ErrInvalidTransaction):
		WriteErrorWithCode(w, http.StatusBadRequest, err.Error(), "invalid_request")
	case errors.Is(err, models.ErrNotConfigured):
		WriteErrorWithCode(w, http.StatusBadRequest, "Config Error: "+err.Error(), "not_configured")
	case errors.Is(err, models.ErrFundNotFound), errors.Is(err, models.ErrNotFound):
		WriteErrorWithCode(w, http.StatusNotFound, err.Error(), "not_found")
	case errors.Is(err, models.ErrNoProfitHistory):
		WriteErrorWithCode(w, http.StatusNotFound, err.Error(), "no_profit_history")
	case errors.Is(err, models.ErrFundExists):
		WriteErrorWithCode(w, http.StatusConflict, err.Error(), "fund_exists")
	case errors.Is(err, context.DeadlineExceeded):
		WriteErrorWithCode(w, http.StatusGatewayTimeout, err.Error(), "timeout")
	default:
		WriteError(w, http.StatusInternalServerError, fmt.Sprintf("%s: %v", prefix, err))
	}
}

// RequireMethod validates the HTTP method and returns true if it matches.
// If it doesn't match, it writes a 405 response and returns false.
func RequireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// DecodeJSON reads and decodes JSON from the request body into v.
// Returns false and writes a 400 error if decoding fails.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		WriteError(w, http.StatusBadRequest, "Request body is required")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

// PathParam extracts a path parameter from the URL path.
// For /api/funds/{code}/transactions, PathParam(r, "/api/funds/", "/transactions")
// extracts the {code} part.
func PathParam(r *http.Request, prefix, suffix string) string {
	path := r.URL.Path
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := path[len(prefix):]
	if suffix != "" {
		idx := strings.Index(rest, suffix)
		if idx < 0 {
			return rest
		}
		return rest[:idx]
	}
	// No suffix - return up to the next /
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}
