package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/fleet-portal/internal"
	"github.com/frahmantamala/fleet-portal/internal/core/events"
	"github.com/frahmantamala/fleet-portal/internal/identity"
)

var (
	ErrNoIdentity    = errors.New("access: no current identity")
	ErrNoRoleMatched = errors.New("access: no permission record for role")
)

const DefaultFetchTimeout = 10 * time.Second

// Fetcher loads the permission records visible to a user.
type Fetcher interface {
	FetchPermissionRecords(ctx context.Context, user *identity.User) ([]PermissionRecord, error)
}

// Scope holds the permission record of one identity. Begin and End mark the
// identity's lifetime; every transition bumps a generation so that a fetch
// started for an older identity is dropped when it returns.
type Scope struct {
	fetcher Fetcher
	logger  *slog.Logger
	timeout time.Duration

	mu         sync.RWMutex
	generation uint64
	user       *identity.User
	record     *PermissionRecord
	checked    bool
	err        error
}

func NewScope(fetcher Fetcher, logger *slog.Logger, timeout time.Duration) *Scope {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Scope{
		fetcher: fetcher,
		logger:  logger,
		timeout: timeout,
	}
}

// Begin starts a new identity. Permissions are unchecked until Load returns.
func (s *Scope) Begin(user *identity.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.user = user.Clone()
	s.record = nil
	s.checked = false
	s.err = nil
}

// End drops the identity and its record.
func (s *Scope) End() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.user = nil
	s.record = nil
	s.checked = false
	s.err = nil
}

// Load fetches the record for the current identity. Any failure leaves the
// scope checked with no record, which denies every graded route.
func (s *Scope) Load(ctx context.Context) error {
	s.mu.RLock()
	gen := s.generation
	user := s.user.Clone()
	s.mu.RUnlock()

	if user == nil {
		return ErrNoIdentity
	}

	ctx, cancel := internal.WithTimeout(ctx, s.timeout)
	defer cancel()

	records, err := s.fetcher.FetchPermissionRecords(ctx, user)

	var record *PermissionRecord
	if err == nil {
		record, err = effectiveRecord(records, user.Role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		s.logger.Debug("discarding stale permission response",
			"user_id", user.ID,
			"generation", gen,
			"current_generation", s.generation)
		return nil
	}

	s.checked = true
	s.record = record
	s.err = err

	if err != nil {
		s.logger.Warn("permission fetch failed, denying access",
			"user_id", user.ID,
			"role", user.Role,
			"error", err)
		return err
	}

	if dups := Duplicates(record); len(dups) > 0 {
		s.logger.Warn("permission record has duplicate feature keys, first entry wins",
			"role", record.Role,
			"keys", dups)
	}
	return nil
}

// Permissions returns a snapshot for the route guard.
func (s *Scope) Permissions() Permissions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Permissions{Checked: s.checked, Record: s.record, Err: s.err}
}

// User returns the identity the scope is currently bound to.
func (s *Scope) User() *identity.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.Clone()
}

// HandleIdentityChanged subscribes the scope to identity.changed events.
func (s *Scope) HandleIdentityChanged(ctx context.Context, event events.Event) error {
	changed, ok := event.(*events.IdentityChangedEvent)
	if !ok {
		return fmt.Errorf("access: unexpected event %T", event)
	}
	if changed.User == nil {
		s.End()
		return nil
	}

	s.Begin(changed.User)
	// a failed fetch is recorded on the scope and logged by Load
	_ = s.Load(ctx)
	return nil
}

func effectiveRecord(records []PermissionRecord, role string) (*PermissionRecord, error) {
	for i := range records {
		if records[i].Role == role {
			r := records[i]
			return &r, nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrNoRoleMatched, role)
}
