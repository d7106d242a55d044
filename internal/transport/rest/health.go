package rest

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"

	"github.com/frahmantamala/fleet-portal/internal"
	"github.com/frahmantamala/fleet-portal/internal/transport"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type HealthResponse struct {
	Status     HealthStatus          `json:"status"`
	CheckedAt  time.Time             `json:"checked_at"`
	Components map[string]CheckEntry `json:"components"`
}

type CheckEntry struct {
	Status     HealthStatus `json:"status"`
	Message    string       `json:"message,omitempty"`
	CheckedAt  time.Time    `json:"checked_at"`
	DurationMs int64        `json:"duration_ms"`
}

// Check probes one dependency.
type Check func(ctx context.Context) error

type HealthHandler struct {
	*transport.BaseHandler
	checks  map[string]Check
	timeout time.Duration
}

func NewHealthHandler(base *transport.BaseHandler) *HealthHandler {
	return &HealthHandler{
		BaseHandler: base,
		checks:      map[string]Check{},
		timeout:     2 * time.Second,
	}
}

// With registers a named dependency check.
func (h *HealthHandler) With(name string, check Check) *HealthHandler {
	h.checks[name] = check
	return h
}

// WithDB checks the database handle when one is configured.
func (h *HealthHandler) WithDB(db *sqlx.DB) *HealthHandler {
	if db == nil {
		return h
	}
	return h.With("postgres", db.PingContext)
}

// WithRedis checks the session Redis when one is configured.
func (h *HealthHandler) WithRedis(client goredis.UniversalClient) *HealthHandler {
	if client == nil {
		return h
	}
	return h.With("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// Ping says the process is up.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// Health runs every registered check.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := internal.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := HealthResponse{
		Status:     HealthHealthy,
		Components: make(map[string]CheckEntry, len(names)),
	}
	for _, name := range names {
		start := time.Now()
		err := h.checks[name](ctx)

		entry := CheckEntry{
			Status:     HealthHealthy,
			CheckedAt:  time.Now(),
			DurationMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			entry.Status = HealthUnhealthy
			entry.Message = err.Error()
			resp.Status = HealthUnhealthy
			h.Logger.Warn("health check failed", "component", name, "error", err)
		}
		resp.Components[name] = entry
	}
	resp.CheckedAt = time.Now()

	statusCode := http.StatusOK
	if resp.Status == HealthUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	h.WriteJSON(w, statusCode, resp)
}
