package middleware

import (
	"net/http"

	"complaint-portal/pkg/logging"

	"github.com/google/uuid"
)

const TraceHeader = "X-Trace-Id"

// TraceMiddleware automatically generates or extracts trace IDs from requests
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = uuid.New().String()
		}

		w.Header().Set(TraceHeader, traceID)

		ctx := logging.ContextWithTraceID(r.Context(), traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// retrieves the trace ID from the request context
func GetTraceID(r *http.Request) string {
	return logging.TraceIDFromContext(r.Context())
}
