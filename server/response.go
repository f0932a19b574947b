package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veldtlabs/runq/errors"
)

type contextKey string

// requestIDKey carries the per-request id through handler contexts
const requestIDKey contextKey = "request_id"

// errorEnvelope is the JSON body for every non-2xx API response
type errorEnvelope struct {
	Status    int                    `json:"status"`
	Kind      string                 `json:"kind"`
	Message   string                 `json:"message"`
	Timestamp string                 `json:"timestamp"`
	ErrorID   string                 `json:"error_id"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeError writes the standard error envelope
func writeError(w http.ResponseWriter, r *http.Request, status int, message string, details map[string]interface{}) {
	env := errorEnvelope{
		Status:    status,
		Kind:      "error",
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		ErrorID:   uuid.New().String(),
		RequestID: requestID(r),
		Details:   details,
	}
	writeJSON(w, status, env)
}

// readJSON reads and decodes a JSON request body
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request body: "+err.Error(), nil)
		return err
	}
	return nil
}

// requireMethod checks if the request method matches the expected method
func requireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, method := range methods {
		if r.Method == method {
			return true
		}
	}
	writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed", map[string]interface{}{
		"method":  r.Method,
		"allowed": methods,
	})
	return false
}

// extractPathParts extracts path segments after removing a prefix
func extractPathParts(urlPath, prefix string) []string {
	return strings.Split(strings.TrimPrefix(urlPath, prefix), "/")
}

// requestID returns the id assigned by requestIDMiddleware, if any
func requestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// requestIDMiddleware assigns each request an opaque id and echoes it
// in the X-Request-ID response header
func requestIDMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	}
}

// intQueryParam parses an integer query parameter. Returns def when the
// parameter is absent; ok=false when it is present but not an integer.
func intQueryParam(r *http.Request, name string, def int) (value int, ok bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// shortID truncates an ID to 8 characters for logging
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
