package middleware

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/searchlens/searchlens/internal/core"
)

// RequestIDHeader carries the gateway request ID in and out.
const RequestIDHeader = "X-Request-ID"

type requestIDContextKey string

const RequestIDContextKey requestIDContextKey = "request_id"

// RequestID assigns every request an ID, echoes it in the response and tags
// the context so cluster calls made for the request carry it as X-Opaque-Id.
// A caller-supplied X-Opaque-Id is kept for the cluster side.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		if requestID == "" {
			requestID = r.Header.Get(RequestIDHeader)
		}
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)

		opaque := r.Header.Get(core.OpaqueIDHeader)
		if opaque == "" {
			opaque = requestID
		}

		ctx := context.WithValue(r.Context(), RequestIDContextKey, requestID)
		ctx = core.WithOpaqueID(ctx, opaque)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request ID from ctx, falling back to chi's.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDContextKey).(string); ok {
		return requestID
	}
	return middleware.GetReqID(ctx)
}
