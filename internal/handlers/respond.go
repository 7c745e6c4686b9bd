package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prudhvinik1/changesync/internal/database"
	"github.com/prudhvinik1/changesync/internal/lifecycle"
	"github.com/prudhvinik1/changesync/internal/models"
	"github.com/prudhvinik1/changesync/internal/repositories"
	"github.com/prudhvinik1/changesync/internal/services"
)

// RetryAfterSeconds is advertised on 503 responses.
const RetryAfterSeconds = 5

type errorBody struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func writeUnavailable(w http.ResponseWriter, code string) {
	w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
	writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: code})
}

// writeError maps domain errors to HTTP responses in one place.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *models.ValidationError
	if errors.As(err, &validation) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation", Field: validation.Field, Reason: validation.Reason})
		return
	}
	if gone, ok := models.AsCursorGone(err); ok {
		writeJSON(w, http.StatusGone, gone)
		return
	}

	switch {
	case errors.Is(err, repositories.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not-found"})
	case services.IsConflict(err):
		writeJSON(w, http.StatusConflict, errorBody{Error: "conflict"})
	case errors.Is(err, services.ErrInvalidToken), errors.Is(err, services.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
	case errors.Is(err, services.ErrIssueDisabled):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
	case errors.Is(err, lifecycle.ErrShutdownInProgress):
		writeUnavailable(w, "shutting-down")
	case errors.Is(err, database.ErrStorageUnavailable):
		slog.Error("Storage unavailable", "path", r.URL.Path, "error", err)
		writeUnavailable(w, "storage-unavailable")
	default:
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal"})
	}
}

func parseInt64Query(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &models.ValidationError{Field: name, Reason: "must be an integer"}
	}
	return n, nil
}
