package cookie

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/frahmantamala/fleet-portal/internal/session"
)

// Opener keeps the whole snapshot in the signed cookie.
type Opener struct {
	codec *Codec
	jar   *Jar
}

func NewOpener(codec *Codec, jar *Jar) *Opener {
	return &Opener{codec: codec, jar: jar}
}

func (o *Opener) Open(w http.ResponseWriter, r *http.Request) session.Store {
	return &Store{codec: o.codec, jar: o.jar, w: w, r: r}
}

// Store is bound to one request. After Save or Clear, Load reflects the
// cookie about to be sent rather than the one received.
type Store struct {
	codec *Codec
	jar   *Jar
	w     http.ResponseWriter
	r     *http.Request

	mu      sync.Mutex
	written bool
	current *session.Snapshot
}

func (s *Store) Load(_ context.Context) (*session.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.written {
		if s.current == nil {
			return nil, session.ErrNoSnapshot
		}
		snap := *s.current
		snap.User = snap.User.Clone()
		return &snap, nil
	}

	value, ok := s.jar.Read(s.r)
	if !ok {
		return nil, session.ErrNoSnapshot
	}
	claims, err := s.codec.Decode(value)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrInvalidToken) {
			return nil, session.ErrNoSnapshot
		}
		return nil, err
	}
	if claims.User == nil || claims.Token == "" {
		return nil, session.ErrNoSnapshot
	}

	return &session.Snapshot{
		Token:     claims.Token,
		User:      claims.User,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Store) Save(_ context.Context, snap session.Snapshot) error {
	user := snap.User.Clone()
	if user != nil {
		// the bearer token is carried once, at the top level
		user.Token = ""
	}

	value, err := s.codec.Encode(Claims{Token: snap.Token, User: user}, snap.ExpiresAt)
	if err != nil {
		return err
	}
	s.jar.Write(s.w, value, snap.ExpiresAt)

	s.mu.Lock()
	s.written = true
	s.current = &snap
	s.mu.Unlock()
	return nil
}

func (s *Store) Clear(_ context.Context) error {
	s.jar.Expire(s.w)

	s.mu.Lock()
	s.written = true
	s.current = nil
	s.mu.Unlock()
	return nil
}
