// Package httputil provides common HTTP utilities for service handlers.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	kerrors "github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/infrastructure/logging"
)

// Envelope is the uniform success response shape every PIK endpoint returns.
type Envelope struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
}

var defaultLogger = logging.NewFromEnv("httputil")

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		defaultLogger.WithError(err).Warn("write json response")
	}
}

// WriteOK writes the standard success envelope {status:"ok", data: ...}.
func WriteOK(w http.ResponseWriter, status int, data interface{}) {
	WriteJSON(w, status, Envelope{Status: "ok", Data: data})
}

func traceIDFromRequestOrResponse(w http.ResponseWriter, r *http.Request) string {
	if r != nil {
		if traceID := logging.GetTraceID(r.Context()); traceID != "" {
			return traceID
		}
		if traceID := r.Header.Get("X-Trace-ID"); traceID != "" {
			return traceID
		}
	}
	return w.Header().Get("X-Trace-ID")
}

// WriteErrorResponse writes the failure envelope {status:"error", message: ...}.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details interface{}) {
	if code == "" {
		code = fmt.Sprintf("HTTP_%d", status)
	}

	traceID := traceIDFromRequestOrResponse(w, r)
	if traceID != "" && w.Header().Get("X-Trace-ID") == "" {
		w.Header().Set("X-Trace-ID", traceID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "error",
		"message":  message,
		"code":     code,
		"details":  details,
		"trace_id": traceID,
	})
}

// WriteServiceError writes the failure envelope for any error produced by
// the infrastructure/errors taxonomy, mapping its Kind to the matching HTTP
// status; errors outside the taxonomy are treated as internal.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := kerrors.GetServiceError(err)
	if svcErr == nil {
		WriteErrorResponse(w, r, http.StatusInternalServerError, "", "internal server error", nil)
		return
	}
	WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Kind), svcErr.Message, svcErr.Details)
}

// WriteError writes an error envelope with no error code.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteErrorResponse(w, nil, status, "", message, nil)
}

// BadRequest writes a 400 error envelope.
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

// Unauthorized writes a 401 error envelope.
func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "unauthorized"
	}
	WriteError(w, http.StatusUnauthorized, message)
}

// DecodeJSON decodes a JSON request body into the provided struct.
// Returns false and writes an error response if decoding fails.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteErrorResponse(w, r, http.StatusRequestEntityTooLarge, "", "request body too large", map[string]any{
				"limit_bytes": maxErr.Limit,
			})
			return false
		}
		BadRequest(w, "invalid request body")
		return false
	}
	return true
}

// DecodeJSONOptional decodes a JSON request body into the provided struct when present.
// It returns true when the body is empty and no decoding is needed.
func DecodeJSONOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return true
	}

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}

		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteErrorResponse(w, r, http.StatusRequestEntityTooLarge, "", "request body too large", map[string]any{
				"limit_bytes": maxErr.Limit,
			})
			return false
		}
		BadRequest(w, "invalid request body")
		return false
	}
	return true
}

// QueryInt extracts an integer query parameter with a default value.
func QueryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(val); err == nil {
		return n
	}
	return defaultVal
}

// contextKey namespaces values PIK's auth middleware attaches to a request context.
type contextKey string

const (
	rootIDContextKey contextKey = "pik_root_id"
	sourceContextKey contextKey = "pik_source"
)

// WithRootID returns a context carrying the authenticated session's root id.
func WithRootID(ctx context.Context, rootID string) context.Context {
	return context.WithValue(ctx, rootIDContextKey, rootID)
}

// WithSource returns a context carrying the resolved source name SourceAuth verified.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceContextKey, source)
}

// GetSource extracts the source name attached by SourceAuth middleware.
func GetSource(r *http.Request) string {
	if v, ok := r.Context().Value(sourceContextKey).(string); ok {
		return v
	}
	return ""
}

// GetRootID extracts the root id attached by SessionAuth middleware.
func GetRootID(r *http.Request) string {
	if v, ok := r.Context().Value(rootIDContextKey).(string); ok {
		return v
	}
	return ""
}

// RequireRootID extracts the session root id or writes 401 and returns false.
func RequireRootID(w http.ResponseWriter, r *http.Request) (string, bool) {
	rootID := GetRootID(r)
	if rootID == "" {
		Unauthorized(w, "")
		return "", false
	}
	return rootID, true
}
