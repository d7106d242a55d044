package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/frahmantamala/fleet-portal/internal/identity"
)

type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateValidating      State = "validating"
	StateAuthenticated   State = "authenticated"
)

// Reason categorizes the last failed session operation.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonInvalidCredentials  Reason = "invalid_credentials"
	ReasonInactiveAccount     Reason = "inactive_account"
	ReasonEndpointUnreachable Reason = "endpoint_unreachable"
	ReasonUnknown             Reason = "unknown"
	ReasonNoCurrentUser       Reason = "no_current_user"
	ReasonWrongOldPassword    Reason = "wrong_old_password"
	ReasonUserNotFound        Reason = "user_not_found"
)

const (
	DefaultTTL          = 24 * time.Hour
	DefaultLogoutWindow = 1500 * time.Millisecond
)

var ErrNoSnapshot = errors.New("session: no snapshot")

// Snapshot is the persisted part of a session.
type Snapshot struct {
	Token     string         `json:"token"`
	User      *identity.User `json:"user"`
	ExpiresAt time.Time      `json:"expires_at"`
}

func (s *Snapshot) Expired(now time.Time) bool {
	return s == nil || (!s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt))
}

// Store persists one browser's snapshot. Load returns ErrNoSnapshot when
// nothing usable is stored.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Clear(ctx context.Context) error
}

// StoreOpener binds a Store to one request/response pair.
type StoreOpener interface {
	Open(w http.ResponseWriter, r *http.Request) Store
}

// Backend is the part of the fleet backend the provider needs.
type Backend interface {
	Login(ctx context.Context, identifier, password string) (*identity.User, error)
	GetUserByID(ctx context.Context, token, userID string) (*identity.User, error)
	UpdatePassword(ctx context.Context, token, userID, oldPassword, newPassword string) error
}

type Config struct {
	HomeRoute    string
	SignInRoute  string
	PublicRoutes []string
	TTL          time.Duration
	LogoutWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.HomeRoute == "" {
		c.HomeRoute = "/dashboard"
	}
	if c.SignInRoute == "" {
		c.SignInRoute = "/signin"
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.LogoutWindow <= 0 {
		c.LogoutWindow = DefaultLogoutWindow
	}
	return c
}
