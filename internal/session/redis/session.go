// Package redis keeps session snapshots in Redis with a TTL matching the
// snapshot expiry.
package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/frahmantamala/fleet-portal/internal"
	"github.com/frahmantamala/fleet-portal/internal/session"
	"github.com/frahmantamala/fleet-portal/internal/session/cookie"
)

const keyPrefix = "portal_session:"

// NewClient connects to Redis and pings it once.
func NewClient(ctx context.Context, cfg internal.RedisConfig) (*goredis.Client, error) {
	options := &goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLS {
		options.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := goredis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

type record struct {
	Token     string          `json:"token"`
	User      json.RawMessage `json:"user"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type Opener struct {
	client  goredis.Cmdable
	carrier *cookie.IDCarrier
	now     func() time.Time
}

func NewOpener(client goredis.Cmdable, carrier *cookie.IDCarrier) *Opener {
	return &Opener{client: client, carrier: carrier, now: time.Now}
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

func key(id string) string {
	return keyPrefix + id
}

func (s *Store) Load(ctx context.Context) (*session.Snapshot, error) {
	s.mu.Lock()
	id := s.id
	s.mu.Unlock()

	if id == "" {
		return nil, session.ErrNoSnapshot
	}

	data, err := s.opener.client.Get(ctx, key(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, session.ErrNoSnapshot
		}
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	snap := &session.Snapshot{Token: rec.Token, ExpiresAt: rec.ExpiresAt}
	if err := json.Unmarshal(rec.User, &snap.User); err != nil {
		return nil, fmt.Errorf("failed to decode session user %s: %w", id, err)
	}
	if snap.User != nil {
		snap.User.Token = rec.Token
	}
	return snap, nil
}

func (s *Store) Save(ctx context.Context, snap session.Snapshot) error {
	ttl := snap.ExpiresAt.Sub(s.opener.now())
	if ttl <= 0 {
		return s.Clear(ctx)
	}

	user := snap.User.Clone()
	if user != nil {
		user.Token = ""
	}
	userData, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode session user: %w", err)
	}
	data, err := json.Marshal(record{Token: snap.Token, User: userData, ExpiresAt: snap.ExpiresAt})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	id := uuid.NewString()
	s.mu.Lock()
	prev := s.id
	s.mu.Unlock()

	pipe := s.opener.client.TxPipeline()
	pipe.Set(ctx, key(id), data, ttl)
	if prev != "" {
		pipe.Del(ctx, key(prev))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session %s: %w", id, err)
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
	if err := s.opener.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}
