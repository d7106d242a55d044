package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/frahmantamala/fleet-portal/pkg/logger"
)

// TraceHeader carries the trace id in both directions.
const TraceHeader = "X-Trace-ID"

// RequestID tags the request context logger with a trace id, taken from the
// caller when present.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" || len(traceID) > 64 {
			traceID = uuid.NewString()
		}

		ctx := logger.With(r.Context(), "traceID", traceID)
		w.Header().Set(TraceHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
