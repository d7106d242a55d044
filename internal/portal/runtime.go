// Package portal composes the per-request session machinery: one event bus,
// one access scope and one session provider for every browser request.
package portal

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/frahmantamala/fleet-portal/internal/access"
	"github.com/frahmantamala/fleet-portal/internal/core/events"
	"github.com/frahmantamala/fleet-portal/internal/session"
	"github.com/frahmantamala/fleet-portal/pkg/logger"
)

// Backend is the part of the fleet backend the portal talks to.
type Backend interface {
	session.Backend
	access.Fetcher
}

// Subscriber attaches a listener to a request's event bus.
type Subscriber interface {
	Subscribe(bus *events.EventBus)
}

type SubscriberFunc func(bus *events.EventBus)

func (f SubscriberFunc) Subscribe(bus *events.EventBus) { f(bus) }

type Config struct {
	Session      session.Config
	FetchTimeout time.Duration
}

// Runtime builds a Session for each request.
type Runtime struct {
	backend     Backend
	stores      session.StoreOpener
	cfg         Config
	logger      *slog.Logger
	subscribers []Subscriber
}

func NewRuntime(be Backend, stores session.StoreOpener, cfg Config, lg *slog.Logger, subscribers ...Subscriber) *Runtime {
	if lg == nil {
		lg = slog.Default()
	}
	return &Runtime{
		backend:     be,
		stores:      stores,
		cfg:         cfg,
		logger:      lg,
		subscribers: subscribers,
	}
}

// Session is the state machinery of one request.
type Session struct {
	Provider *session.Provider
	Scope    *access.Scope
	Bus      *events.EventBus
}

// Open wires a fresh bus, scope and provider around the request's store.
func (rt *Runtime) Open(w http.ResponseWriter, r *http.Request) *Session {
	lg := rt.logger
	if traced, ok := logger.Lookup(r.Context()); ok {
		lg = traced
	}

	bus := events.NewEventBus(lg)
	scope := access.NewScope(rt.backend, lg, rt.cfg.FetchTimeout)
	bus.Subscribe(events.EventTypeIdentityChanged, scope.HandleIdentityChanged)
	for _, s := range rt.subscribers {
		s.Subscribe(bus)
	}

	provider := session.NewProvider(rt.backend, rt.stores.Open(w, r), bus, rt.cfg.Session, lg)
	return &Session{Provider: provider, Scope: scope, Bus: bus}
}

// OpenSession implements session.Opener.
func (rt *Runtime) OpenSession(w http.ResponseWriter, r *http.Request) *session.Provider {
	return rt.Open(w, r).Provider
}

// LoadSession implements guard.SessionLoader. It waits for validation, which
// the backend client bounds with its own timeout, so the cookie is never
// touched after the handler returns.
func (rt *Runtime) LoadSession(w http.ResponseWriter, r *http.Request, path string) (session.State, access.Permissions) {
	s := rt.Open(w, r)
	<-s.Provider.Restore(r.Context(), path)
	return s.Provider.State(), s.Scope.Permissions()
}
