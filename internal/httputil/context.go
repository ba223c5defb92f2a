package httputil

import (
	"context"
	"net/http"
)

// RequestIDHeader carries the request ID to the client and into problem responses
const RequestIDHeader = "X-Request-ID"

type contextKey int

const (
	userIDKey contextKey = iota
	requestIDKey
)

// WithUserID stores the authenticated user on the request
func WithUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userIDKey, userID))
}

// GetUserID returns the authenticated user, or "" on public routes
func GetUserID(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}

// WithRequestID stores the request ID on the request
func WithRequestID(r *http.Request, requestID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), requestIDKey, requestID))
}

// RequestID returns the ID assigned by the request logger
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
