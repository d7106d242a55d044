package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// CORS lets the configured portal origins call the API with credentials.
// "*" allows any origin; the origin is echoed back since credentialed
// responses may not carry a wildcard.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
			continue
		}
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}

	return cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			if allowAll {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", TraceHeader},
		ExposedHeaders:   []string{TraceHeader, "X-Access-Level", "X-Access-Feature"},
		AllowCredentials: true,
		MaxAge:           600,
	})
}
