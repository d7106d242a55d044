package session

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/frahmantamala/fleet-portal/internal/access"
	"github.com/frahmantamala/fleet-portal/internal/backend"
	"github.com/frahmantamala/fleet-portal/internal/core/events"
	"github.com/frahmantamala/fleet-portal/internal/identity"
)

// Provider owns the session of one browser: who is signed in, the persisted
// snapshot and the last failure reason. Methods report failures through a
// bool and Reason instead of errors.
type Provider struct {
	backend   Backend
	store     Store
	publisher events.Publisher
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	mu             sync.RWMutex
	generation     uint64
	state          State
	user           *identity.User
	reason         Reason
	redirectTarget string
	rememberedPath string
	loggingOut     bool
	logoutTimer    *time.Timer
}

type Option func(*Provider)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

func NewProvider(be Backend, store Store, publisher events.Publisher, cfg Config, logger *slog.Logger, opts ...Option) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{
		backend:   be,
		store:     store,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		now:       time.Now,
		state:     StateUnauthenticated,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Login authenticates against the backend and persists the session.
func (p *Provider) Login(ctx context.Context, identifier, password string) bool {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return p.loginFailed(ctx, identifier, ReasonInvalidCredentials, nil)
	}

	user, err := p.backend.Login(ctx, identifier, password)
	if err != nil {
		return p.loginFailed(ctx, identifier, loginReason(err), err)
	}
	if !user.Valid() {
		return p.loginFailed(ctx, identifier, ReasonUnknown, errors.New("backend returned a user without id, role or token"))
	}

	snap := Snapshot{
		Token:     user.Token,
		User:      user.Clone(),
		ExpiresAt: p.now().Add(p.cfg.TTL),
	}
	if err := p.store.Save(ctx, snap); err != nil {
		return p.loginFailed(ctx, identifier, ReasonUnknown, err)
	}

	p.mu.Lock()
	p.generation++
	p.state = StateAuthenticated
	p.user = user.Clone()
	p.reason = ReasonNone
	p.redirectTarget = p.cfg.HomeRoute
	if isLocalPath(p.rememberedPath) && !access.PathIn(p.rememberedPath, p.cfg.PublicRoutes) {
		p.redirectTarget = p.rememberedPath
	}
	p.rememberedPath = ""
	p.mu.Unlock()

	p.logger.Info("user logged in", "user_id", user.ID, "role", user.Role)

	p.publishAsync(ctx, events.NewSessionEvent(events.EventTypeLoggedIn, user.ID, user.Username, "", ""))
	p.identityChanged(ctx, user)
	return true
}

func (p *Provider) loginFailed(ctx context.Context, identifier string, reason Reason, err error) bool {
	p.mu.Lock()
	p.reason = reason
	p.mu.Unlock()

	p.logger.Warn("login failed", "identifier", identifier, "reason", reason, "error", err)
	p.publishAsync(ctx, events.NewSessionEvent(events.EventTypeLoginFailed, "", identifier, string(reason), ""))
	return false
}

func loginReason(err error) Reason {
	switch {
	case errors.Is(err, backend.ErrInvalidCredentials):
		return ReasonInvalidCredentials
	case errors.Is(err, backend.ErrInactiveAccount):
		return ReasonInactiveAccount
	case errors.Is(err, backend.ErrUnreachable):
		return ReasonEndpointUnreachable
	default:
		return ReasonUnknown
	}
}

// Logout clears the user and the persisted snapshot. Calling it without a
// signed-in user only clears storage again.
func (p *Provider) Logout(ctx context.Context) {
	p.mu.Lock()
	prev := p.user
	p.generation++
	p.state = StateUnauthenticated
	p.user = nil
	p.reason = ReasonNone
	p.redirectTarget = ""
	if prev != nil {
		p.startLogoutWindowLocked()
	}
	p.mu.Unlock()

	if err := p.store.Clear(ctx); err != nil {
		p.logger.Error("failed to clear session store", "error", err)
	}

	if prev == nil {
		return
	}

	p.logger.Info("user logged out", "user_id", prev.ID)
	p.publishAsync(ctx, events.NewSessionEvent(events.EventTypeLoggedOut, prev.ID, prev.Username, "", ""))
	p.identityChanged(ctx, nil)
}

func (p *Provider) startLogoutWindowLocked() {
	if p.logoutTimer != nil {
		p.logoutTimer.Stop()
	}
	p.loggingOut = true
	p.logoutTimer = time.AfterFunc(p.cfg.LogoutWindow, func() {
		p.mu.Lock()
		p.loggingOut = false
		p.mu.Unlock()
	})
}

// Restore loads the persisted snapshot and validates it with the backend in
// the background. The returned channel closes once the outcome is applied.
func (p *Provider) Restore(ctx context.Context, currentPath string) <-chan struct{} {
	done := make(chan struct{})

	snap, err := p.store.Load(ctx)
	if err == nil && snap != nil && snap.User != nil && snap.User.Token == "" {
		snap.User.Token = snap.Token
	}
	if err != nil || snap.Expired(p.now()) || !snap.User.Valid() {
		if err != nil && !errors.Is(err, ErrNoSnapshot) {
			p.logger.Warn("failed to load session snapshot", "error", err)
		}
		if err == nil {
			// expired or unusable snapshots are dropped
			_ = p.store.Clear(ctx)
		}
		p.mu.Lock()
		p.state = StateUnauthenticated
		p.user = nil
		p.mu.Unlock()
		close(done)
		return done
	}

	p.mu.Lock()
	p.generation++
	gen := p.generation
	p.state = StateValidating
	p.user = snap.User.Clone()
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.validate(ctx, gen, *snap, currentPath)
	}()
	return done
}

func (p *Provider) validate(ctx context.Context, gen uint64, snap Snapshot, currentPath string) {
	fresh, err := p.backend.GetUserByID(ctx, snap.Token, snap.User.ID)
	if err == nil {
		if fresh.Token == "" {
			fresh.Token = snap.Token
		}
		if !fresh.Valid() {
			err = errors.New("backend returned a user without id, role or token")
		}
	}

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		p.logger.Debug("discarding stale session validation", "user_id", snap.User.ID)
		return
	}

	if err != nil {
		p.state = StateUnauthenticated
		p.user = nil
		p.redirectTarget = ""
		if currentPath != "" && !access.PathIn(currentPath, p.cfg.PublicRoutes) {
			p.redirectTarget = p.cfg.SignInRoute
			if isLocalPath(currentPath) {
				p.rememberedPath = currentPath
			}
		}
		p.generation++
		p.mu.Unlock()

		p.logger.Warn("session validation failed, signing out", "user_id", snap.User.ID, "error", err)
		if clearErr := p.store.Clear(ctx); clearErr != nil {
			p.logger.Error("failed to clear session store", "error", clearErr)
		}
		p.publishAsync(ctx, events.NewSessionEvent(events.EventTypeInvalidated, snap.User.ID, snap.User.Username, err.Error(), currentPath))
		return
	}

	p.state = StateAuthenticated
	p.user = fresh.Clone()
	p.mu.Unlock()

	if !identity.Equal(fresh, snap.User) {
		snap.User = fresh.Clone()
		snap.Token = fresh.Token
		if err := p.store.Save(ctx, snap); err != nil {
			p.logger.Warn("failed to refresh session snapshot", "user_id", fresh.ID, "error", err)
		}
	}

	p.identityChanged(ctx, fresh)
}

// UpdatePassword changes the signed-in user's password. The user itself is
// left untouched.
func (p *Provider) UpdatePassword(ctx context.Context, oldPassword, newPassword string) bool {
	p.mu.RLock()
	user := p.user.Clone()
	authenticated := p.state == StateAuthenticated
	p.mu.RUnlock()

	if !authenticated || user == nil {
		p.setReason(ReasonNoCurrentUser)
		return false
	}

	err := p.backend.UpdatePassword(ctx, user.Token, user.ID, oldPassword, newPassword)
	if err != nil {
		reason := passwordReason(err)
		p.setReason(reason)
		p.logger.Warn("password update failed", "user_id", user.ID, "reason", reason, "error", err)
		return false
	}

	p.setReason(ReasonNone)
	p.logger.Info("password updated", "user_id", user.ID)
	p.publishAsync(ctx, events.NewSessionEvent(events.EventTypePasswordUpdated, user.ID, user.Username, "", ""))
	return true
}

func passwordReason(err error) Reason {
	switch {
	case errors.Is(err, backend.ErrBadRequest):
		return ReasonWrongOldPassword
	case errors.Is(err, backend.ErrNotFound):
		return ReasonUserNotFound
	case errors.Is(err, backend.ErrUnreachable):
		return ReasonEndpointUnreachable
	default:
		return ReasonUnknown
	}
}

func (p *Provider) setReason(r Reason) {
	p.mu.Lock()
	p.reason = r
	p.mu.Unlock()
}

func (p *Provider) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// CurrentUser returns a copy of the signed-in user, or nil.
func (p *Provider) CurrentUser() *identity.User {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.user.Clone()
}

func (p *Provider) IsAuthenticated() bool {
	return p.State() == StateAuthenticated
}

func (p *Provider) IsLoggingOut() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loggingOut
}

func (p *Provider) Reason() Reason {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reason
}

// RedirectTarget is where the browser should go after the last transition.
func (p *Provider) RedirectTarget() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.redirectTarget
}

// RememberPath records where to send the user after the next login.
// Anything but a path on this portal is ignored.
func (p *Provider) RememberPath(path string) {
	if !isLocalPath(path) {
		if path != "" {
			p.logger.Warn("ignoring non-local redirect path", "path", path)
		}
		return
	}
	p.mu.Lock()
	p.rememberedPath = path
	p.mu.Unlock()
}

func (p *Provider) RememberedPath() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rememberedPath
}

// identityChanged runs the access scope synchronously so that permissions
// are settled before the caller continues.
func (p *Provider) identityChanged(ctx context.Context, user *identity.User) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishSync(ctx, events.NewIdentityChangedEvent(user)); err != nil {
		p.logger.Error("identity change handler failed", "error", err)
	}
}

func (p *Provider) publishAsync(ctx context.Context, event events.Event) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, event); err != nil {
		p.logger.Error("failed to publish session event", "event_type", event.EventType(), "error", err)
	}
}

// isLocalPath accepts only rooted paths without scheme or host. "//host"
// and "/\host" are rejected since browsers resolve both to another origin.
func isLocalPath(path string) bool {
	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") || strings.ContainsRune(path, '\\') {
		return false
	}
	u, err := url.Parse(path)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == "" && u.Opaque == "" && strings.HasPrefix(u.Path, "/")
}
