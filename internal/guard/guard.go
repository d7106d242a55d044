// Package guard decides what a navigation to a portal page may do. Decide is
// pure; Middleware applies its outcome to HTTP requests.
package guard

import (
	"context"

	"github.com/frahmantamala/fleet-portal/internal/access"
	"github.com/frahmantamala/fleet-portal/internal/session"
)

type Outcome string

const (
	OutcomeLoading  Outcome = "loading"
	OutcomeRedirect Outcome = "redirect"
	OutcomeNotFound Outcome = "not_found"
	OutcomeRender   Outcome = "render"
)

type Decision struct {
	Outcome    Outcome      `json:"outcome"`
	Path       string       `json:"path"`
	Level      access.Level `json:"level"`
	Feature    string       `json:"feature,omitempty"`
	RedirectTo string       `json:"redirect_to,omitempty"`
	// Remember is the path to return to after signing in.
	Remember string `json:"remember,omitempty"`
}

type Config struct {
	SignInRoute  string
	PublicRoutes []string
	ExemptRoutes []string
}

type Guard struct {
	resolver *access.Resolver
	cfg      Config
}

func New(resolver *access.Resolver, cfg Config) *Guard {
	if resolver == nil {
		resolver = access.Default()
	}
	if cfg.SignInRoute == "" {
		cfg.SignInRoute = "/signin"
	}
	return &Guard{resolver: resolver, cfg: cfg}
}

// Decide maps (session state, permissions, path) to an outcome. Checks run in
// order: public pages, pending state, sign-in, exempt pages, then the route
// table. A missing record, including a failed fetch, resolves to not_found.
func (g *Guard) Decide(state session.State, perms access.Permissions, path string) Decision {
	path = access.NormalizePath(path)
	d := Decision{Path: path, Level: access.None}

	if access.PathIn(path, g.cfg.PublicRoutes) {
		d.Outcome = OutcomeRender
		return d
	}

	switch state {
	case session.StateValidating:
		d.Outcome = OutcomeLoading
		return d
	case session.StateAuthenticated:
		if !perms.Checked {
			d.Outcome = OutcomeLoading
			return d
		}
	default:
		d.Outcome = OutcomeRedirect
		d.RedirectTo = g.cfg.SignInRoute
		d.Remember = path
		return d
	}

	if access.PathIn(path, g.cfg.ExemptRoutes) {
		d.Outcome = OutcomeRender
		d.Level = access.Both
		return d
	}

	if b, ok := g.resolver.Bind(path); ok {
		d.Feature = b.Feature
	}
	d.Level = g.resolver.ResolveRouteAccess(perms.Record, path)
	if d.Level == access.None {
		d.Outcome = OutcomeNotFound
		d.Feature = ""
		return d
	}

	d.Outcome = OutcomeRender
	return d
}

func (g *Guard) Resolver() *access.Resolver {
	return g.resolver
}

type contextKey struct{}

func WithDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, contextKey{}, d)
}

// FromContext returns the decision that admitted the current request.
func FromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(contextKey{}).(Decision)
	return d, ok
}
