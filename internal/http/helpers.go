package http

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"tally/internal/core"
)

type requestIDKey struct{}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// respondError maps domain errors onto HTTP status codes.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.Is(err, core.ErrNotFound):
		respondJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, core.ErrVersionConflict):
		respondJSON(w, http.StatusConflict, errorResponse{Error: "concurrent modification, retry"})
	default:
		slog.ErrorContext(r.Context(), "Request failed",
			"url", r.URL.Path,
			"error", err)
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// requireUserID reads the mandatory userId query parameter.
func requireUserID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("userId"))
	if raw == "" {
		return uuid.Nil, core.NewValidationError("userId", fmt.Errorf("userId is required"))
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, core.NewValidationError("userId", fmt.Errorf("invalid userId %q", raw))
	}
	return id, nil
}

// optionalAccountID reads the accountId query parameter if present.
func optionalAccountID(r *http.Request) (*uuid.UUID, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("accountId"))
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, core.NewValidationError("accountId", fmt.Errorf("invalid accountId %q", raw))
	}
	return &id, nil
}

// optionalDate parses a YYYY-MM-DD query parameter.
func optionalDate(r *http.Request, key string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, core.NewValidationError(key, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", raw))
	}
	t = t.UTC()
	return &t, nil
}

// intQuery reads an integer query parameter with a default.
func intQuery(r *http.Request, key string, defaultValue int) int {
	if v := strings.TrimSpace(r.URL.Query().Get(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}
