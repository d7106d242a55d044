// Package audit records session lifecycle events to the auth_events table.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/fleet-portal/internal/core/events"
)

type Event struct {
	ID         string    `db:"id" json:"id"`
	Type       string    `db:"event_type" json:"type"`
	UserID     string    `db:"user_id" json:"user_id"`
	Username   string    `db:"username" json:"username"`
	Reason     string    `db:"reason" json:"reason,omitempty"`
	Path       string    `db:"path" json:"path,omitempty"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
}

type RepositoryAPI interface {
	Insert(ctx context.Context, e *Event) error
	ListRecent(ctx context.Context, userID string, limit int) ([]*Event, error)
}

// Recorder turns bus events into audit rows.
type Recorder struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewRecorder(repo RepositoryAPI, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, logger: logger}
}

// Subscribe registers the recorder for every session event type.
func (r *Recorder) Subscribe(bus *events.EventBus) {
	bus.SubscribeAll(events.SessionEventTypes, r.HandleSessionEvent)
}

func (r *Recorder) HandleSessionEvent(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.SessionEvent)
	if !ok {
		return fmt.Errorf("audit: unexpected event %T", event)
	}

	row := &Event{
		ID:         e.EventID(),
		Type:       e.EventType(),
		UserID:     e.UserID,
		Username:   e.Username,
		Reason:     e.Reason,
		Path:       e.Path,
		OccurredAt: e.OccurredAt().UTC(),
	}
	if err := r.repo.Insert(ctx, row); err != nil {
		r.logger.Error("failed to record auth event", "event_type", row.Type, "event_id", row.ID, "error", err)
		return err
	}
	return nil
}
