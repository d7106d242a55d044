package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/frahmantamala/fleet-portal/internal"
)

// CSRF rejects state-changing requests whose Origin (or, failing that,
// Referer) is neither the portal itself nor one of allowedOrigins. The session
// cookie is sent by the browser on every request, so this is the only thing
// standing between a hostile page and the login and logout endpoints.
func CSRF(allowedOrigins []string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	allowedSet := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowedSet[normalizeOrigin(origin)] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			source, header := r.Header.Get("Origin"), "origin"
			if source == "" {
				source, header = extractOrigin(r.Header.Get("Referer")), "referer"
			}

			if source == "" || !(allowedSet[normalizeOrigin(source)] || sameHost(source, r.Host)) {
				logger.Warn("csrf check failed", "header", header, "source", source, "path", r.URL.Path)
				writeAppError(w, internal.ErrCSRF)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func normalizeOrigin(origin string) string {
	return strings.TrimSuffix(strings.ToLower(origin), "/")
}

func sameHost(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return host != "" && strings.EqualFold(u.Host, host)
}

// extractOrigin reduces a URL to scheme://host[:port].
func extractOrigin(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}
