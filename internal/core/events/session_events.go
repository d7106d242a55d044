package events

import (
	"time"

	"github.com/frahmantamala/fleet-portal/internal/identity"
	"github.com/google/uuid"
)

const (
	EventTypeIdentityChanged = "identity.changed"

	EventTypeLoggedIn        = "session.logged_in"
	EventTypeLoginFailed     = "session.login_failed"
	EventTypeLoggedOut       = "session.logged_out"
	EventTypeInvalidated     = "session.invalidated"
	EventTypePasswordUpdated = "session.password_updated"
)

// SessionEventTypes are the audit-worthy session lifecycle events.
var SessionEventTypes = []string{
	EventTypeLoggedIn,
	EventTypeLoginFailed,
	EventTypeLoggedOut,
	EventTypeInvalidated,
	EventTypePasswordUpdated,
}

// IdentityChangedEvent fires whenever the session's current user changes.
// User is nil after logout or a failed validation.
type IdentityChangedEvent struct {
	BaseEvent
	User *identity.User
}

func NewIdentityChangedEvent(u *identity.User) *IdentityChangedEvent {
	return &IdentityChangedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeIdentityChanged,
			Timestamp: time.Now(),
		},
		User: u.Clone(),
	}
}

// SessionEvent records one login, logout or validation outcome.
type SessionEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Reason   string `json:"reason,omitempty"`
	Path     string `json:"path,omitempty"`
}

func NewSessionEvent(eventType, userID, username, reason, path string) *SessionEvent {
	return &SessionEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now(),
		},
		UserID:   userID,
		Username: username,
		Reason:   reason,
		Path:     path,
	}
}
