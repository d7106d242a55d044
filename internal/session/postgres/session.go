package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	sessionDatamodel "github.com/frahmantamala/fleet-portal/internal/core/datamodel/session"
	"github.com/frahmantamala/fleet-portal/internal/identity"
	"github.com/frahmantamala/fleet-portal/internal/session"
	"github.com/frahmantamala/fleet-portal/internal/session/cookie"
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) session.RepositoryAPI {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*sessionDatamodel.PortalSession, error) {
	var row sessionDatamodel.PortalSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *SessionRepository) Upsert(ctx context.Context, row *sessionDatamodel.PortalSession) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "token", "user_data", "expires_at", "updated_at"}),
	}).Create(row).Error
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&sessionDatamodel.PortalSession{}).Error
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&sessionDatamodel.PortalSession{})
	return res.RowsAffected, res.Error
}

// Opener stores snapshots in portal_sessions keyed by the id in the cookie.
type Opener struct {
	repo    session.RepositoryAPI
	carrier *cookie.IDCarrier
	now     func() time.Time
}

func NewOpener(repo session.RepositoryAPI, carrier *cookie.IDCarrier) *Opener {
	return &Opener{repo: repo, carrier: carrier, now: time.Now}
}

func (o *Opener) Open(w http.ResponseWriter, r *http.Request) session.Store {
	id, _ := o.carrier.ReadID(r)
	return &Store{opener: o, w: w, id: id}
}

type Store struct {
	opener *Opener
	w      http.ResponseWriter

	mu sync.Mutex
	id string
}

func (s *Store) Load(ctx context.Context) (*session.Snapshot, error) {
	s.mu.Lock()
	id := s.id
	s.mu.Unlock()

	if id == "" {
		return nil, session.ErrNoSnapshot
	}

	row, err := s.opener.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if row == nil || !s.opener.now().Before(row.ExpiresAt) {
		return nil, session.ErrNoSnapshot
	}

	var user identity.User
	if err := json.Unmarshal([]byte(row.UserData), &user); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	user.Token = row.Token

	return &session.Snapshot{Token: row.Token, User: &user, ExpiresAt: row.ExpiresAt}, nil
}

func (s *Store) Save(ctx context.Context, snap session.Snapshot) error {
	if snap.User == nil {
		return errors.New("session snapshot has no user")
	}
	user := snap.User.Clone()
	user.Token = ""
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode session user: %w", err)
	}

	// the id rotates on every save; the previous row is removed
	id := uuid.NewString()
	s.mu.Lock()
	prev := s.id
	s.mu.Unlock()

	row := &sessionDatamodel.PortalSession{
		ID:        id,
		UserID:    user.ID,
		Token:     snap.Token,
		UserData:  string(data),
		ExpiresAt: snap.ExpiresAt,
	}
	if err := s.opener.repo.Upsert(ctx, row); err != nil {
		return fmt.Errorf("failed to save session %s: %w", id, err)
	}
	if prev != "" {
		if err := s.opener.repo.Delete(ctx, prev); err != nil {
			return fmt.Errorf("failed to delete rotated session %s: %w", prev, err)
		}
	}

	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
	return s.opener.carrier.WriteID(s.w, id, snap.ExpiresAt)
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	id := s.id
	s.id = ""
	s.mu.Unlock()

	s.opener.carrier.Expire(s.w)
	if id == "" {
		return nil
	}
	if err := s.opener.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}
