package guard

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/frahmantamala/fleet-portal/internal/access"
	"github.com/frahmantamala/fleet-portal/internal/session"
)

// SessionLoader restores the browser's session for path and settles its
// permissions before returning.
type SessionLoader interface {
	LoadSession(w http.ResponseWriter, r *http.Request, path string) (session.State, access.Permissions)
}

// Observer is told about every decision the middleware applies.
type Observer interface {
	ObserveDecision(d Decision)
}

type MiddlewareConfig struct {
	// SignInURL is where redirects point; next= carries the original path.
	SignInURL string
	// MountPrefix is stripped from the request path before deciding.
	MountPrefix string
	RetryAfter  string
}

// Middleware gates page navigations. Unauthorized pages get the same body
// as pages that do not exist.
func Middleware(g *Guard, loader SessionLoader, cfg MiddlewareConfig, logger *slog.Logger, observers ...Observer) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryAfter == "" {
		cfg.RetryAfter = "1"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := strings.TrimPrefix(r.URL.Path, cfg.MountPrefix)

			state, perms := loader.LoadSession(w, r, path)
			d := g.Decide(state, perms, path)
			for _, o := range observers {
				o.ObserveDecision(d)
			}

			switch d.Outcome {
			case OutcomeRender:
				w.Header().Set("X-Access-Level", d.Level.String())
				if d.Feature != "" {
					w.Header().Set("X-Access-Feature", d.Feature)
				}
				next.ServeHTTP(w, r.WithContext(WithDecision(r.Context(), d)))

			case OutcomeRedirect:
				target := redirectURL(cfg.SignInURL, d)
				logger.Debug("redirecting to sign-in", "path", d.Path)
				http.Redirect(w, r, target, http.StatusFound)

			case OutcomeLoading:
				w.Header().Set("Retry-After", cfg.RetryAfter)
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)

			default:
				logger.Info("navigation denied", "path", d.Path, "error", perms.Err)
				http.NotFound(w, r)
			}
		})
	}
}

func redirectURL(signInURL string, d Decision) string {
	if signInURL == "" {
		signInURL = d.RedirectTo
	}
	if d.Remember == "" {
		return signInURL
	}
	sep := "?"
	if strings.Contains(signInURL, "?") {
		sep = "&"
	}
	return signInURL + sep + "next=" + url.QueryEscape(d.Remember)
}
