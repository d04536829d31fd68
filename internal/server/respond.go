package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/eteran/meshvault/internal/auth"
	"github.com/eteran/meshvault/internal/catalog"
	"github.com/eteran/meshvault/internal/media"
)

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// writeJSON encodes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Encode JSON response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// decodeJSON reads a JSON request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

// sentence turns the detail of a sentinel-wrapped error into a message fit
// for a client, e.g. "validation failed: no file uploaded" becomes
// "No file uploaded".
func sentence(err error, sentinel error) string {
	msg := strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
	r, size := utf8.DecodeRuneInString(msg)
	if r == utf8.RuneError {
		return msg
	}
	return string(unicode.ToUpper(r)) + msg[size:]
}

// writeServiceError maps an error from the catalog, media or auth layers to
// an HTTP response. notFound is the message used when the requested entry is
// missing.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	switch {
	case errors.Is(err, media.ErrValidation):
		writeError(w, http.StatusBadRequest, sentence(err, media.ErrValidation))
	case errors.Is(err, catalog.ErrInvalid):
		writeError(w, http.StatusBadRequest, "Title, description, and technical details are required")
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, "Asset not found")
	case errors.Is(err, media.ErrNotFound):
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, media.ErrConflict):
		writeError(w, http.StatusConflict, "The entry was modified by another request, retry with fresh data")
	case errors.Is(err, auth.ErrInvalid):
		writeError(w, http.StatusBadRequest, "All fields are required")
	case errors.Is(err, auth.ErrExists):
		writeError(w, http.StatusBadRequest, "User already exists")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusBadRequest, "Invalid credentials")
	default:
		slog.Error("Request failed", "method", r.Method, "url", r.URL.String(), "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
