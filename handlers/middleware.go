package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/tobilg/caddyserver-sqlgateway-module/database"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// ContextKeyRequestID is the context key for the request ID (for tracing).
const ContextKeyRequestID contextKey = "request_id"

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// SetRequestID sets the request ID in the context.
func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// GetRequestIDFromContext retrieves the request ID from the request context.
func GetRequestIDFromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(ContextKeyRequestID).(string)
	return requestID
}

// WithRequestID takes the request ID from the X-Request-ID header or
// generates one, stores it in the request context and echoes it in the
// response header.
func WithRequestID(w http.ResponseWriter, r *http.Request) *http.Request {
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set(RequestIDHeader, requestID)
	return r.WithContext(SetRequestID(r.Context(), requestID))
}

// RequestID is WithRequestID as middleware.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, WithRequestID(w, r))
	})
}

// SendError sends a JSON error response.
// The request ID is available in the X-Request-ID response header.
func SendError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// StatusForError maps a gateway error onto an HTTP status code.
func StatusForError(err error) int {
	switch database.KindOf(err) {
	case database.KindUnsupportedDatabase, database.KindUnsupportedSSLMode, database.KindInvalidArgument:
		return http.StatusBadRequest
	case database.KindUnsupportedType:
		return http.StatusUnprocessableEntity
	case database.KindConnection:
		return http.StatusBadGateway
	case database.KindStatement:
		return http.StatusBadRequest
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
