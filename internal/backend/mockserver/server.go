// Package mockserver is an in-memory fleet backend for local development and
// tests. It serves the same four endpoints the gateway consumes.
package mockserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/frahmantamala/fleet-portal/internal/access"
	backendtypes "github.com/frahmantamala/fleet-portal/internal/core/datamodel/backend"
	"github.com/frahmantamala/fleet-portal/internal/identity"
)

// Account is a seeded backend user with a plain-text password.
type Account struct {
	User     identity.User
	Password string
}

type account struct {
	user         identity.User
	passwordHash []byte
}

type Server struct {
	logger *slog.Logger

	mu       sync.RWMutex
	accounts map[string]*account // by user id
	tokens   map[string]string   // token -> user id
	records  []access.PermissionRecord
	failures map[string]int // path prefix -> forced status
	latency  time.Duration
}

func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:   logger,
		accounts: make(map[string]*account),
		tokens:   make(map[string]string),
		failures: make(map[string]int),
	}
}

// AddAccount seeds a user. bcrypt.MinCost keeps test setup fast.
func (s *Server) AddAccount(a Account) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(a.Password), bcrypt.MinCost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u := a.User
	u.Token = ""
	s.accounts[u.ID] = &account{user: u, passwordHash: hash}
	return nil
}

func (s *Server) SetRecords(records []access.PermissionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
}

// FailWith forces every request whose path starts with prefix to answer
// status. A zero status clears the override.
func (s *Server) FailWith(prefix string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, prefix)
		return
	}
	s.failures[prefix] = status
}

// SetLatency delays every response by d.
func (s *Server) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// Revoke invalidates every token issued for userID.
func (s *Server) Revoke(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, id := range s.tokens {
		if id == userID {
			delete(s.tokens, token)
		}
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.forcedFailures)

	r.Post("/login", s.login)

	r.Group(func(r chi.Router) {
		r.Use(s.bearer)
		r.Get("/user/id/{id}", s.getUser)
		r.Put("/user/updatepass", s.updatePassword)
		r.Get("/roles/{userId}", s.roles)
	})

	return r
}

func (s *Server) forcedFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		var status int
		for prefix, code := range s.failures {
			if strings.HasPrefix(r.URL.Path, prefix) {
				status = code
				break
			}
		}
		latency := s.latency
		s.mu.RUnlock()

		if latency > 0 {
			select {
			case <-time.After(latency):
			case <-r.Context().Done():
				return
			}
		}

		if status != 0 {
			writeJSON(w, status, backendtypes.MessageResponse{Message: http.StatusText(status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) bearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		s.mu.RLock()
		userID, ok := s.tokens[token]
		s.mu.RUnlock()

		if token == "" || !ok {
			writeJSON(w, http.StatusUnauthorized, backendtypes.MessageResponse{Message: "invalid token"})
			return
		}
		r.Header.Set("X-Mock-User", userID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req backendtypes.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, backendtypes.MessageResponse{Message: "invalid body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var found *account
	for _, a := range s.accounts {
		if a.user.Username == req.Username || a.user.Email == req.Username {
			found = a
			break
		}
	}
	if found == nil || bcrypt.CompareHashAndPassword(found.passwordHash, []byte(req.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, backendtypes.MessageResponse{Message: "invalid credentials"})
		return
	}
	if !found.user.IsActive {
		writeJSON(w, http.StatusConflict, backendtypes.MessageResponse{Message: "account inactive"})
		return
	}

	token := uuid.NewString()
	s.tokens[token] = found.user.ID

	u := found.user.Clone()
	u.Token = token
	s.logger.Debug("mock backend login", "user_id", u.ID)
	writeJSON(w, http.StatusOK, backendtypes.UserResponse{Data: *u})
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.RLock()
	a, ok := s.accounts[id]
	s.mu.RUnlock()

	if !ok || r.Header.Get("X-Mock-User") != id {
		writeJSON(w, http.StatusNotFound, backendtypes.MessageResponse{Message: "user not found"})
		return
	}
	u := a.user.Clone()
	u.Token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	writeJSON(w, http.StatusOK, backendtypes.UserResponse{Data: *u})
}

func (s *Server) updatePassword(w http.ResponseWriter, r *http.Request) {
	var req backendtypes.UpdatePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Validate() != nil {
		writeJSON(w, http.StatusBadRequest, backendtypes.MessageResponse{Message: "invalid body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[req.ID]
	if !ok {
		writeJSON(w, http.StatusNotFound, backendtypes.MessageResponse{Message: "user not found"})
		return
	}
	if bcrypt.CompareHashAndPassword(a.passwordHash, []byte(req.OldPassword)) != nil {
		writeJSON(w, http.StatusBadRequest, backendtypes.MessageResponse{Message: "wrong old password"})
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.MinCost)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, backendtypes.MessageResponse{Message: "hash failed"})
		return
	}
	a.passwordHash = hash
	writeJSON(w, http.StatusOK, backendtypes.MessageResponse{Message: "password updated"})
}

func (s *Server) roles(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	records := append([]access.PermissionRecord(nil), s.records...)
	s.mu.RUnlock()

	if records == nil {
		records = []access.PermissionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
