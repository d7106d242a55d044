package session

import (
	"context"
	"time"

	sessionDatamodel "github.com/frahmantamala/fleet-portal/internal/core/datamodel/session"
)

// RepositoryAPI persists server-side snapshots. Get returns nil, nil for a
// missing row.
type RepositoryAPI interface {
	Get(ctx context.Context, id string) (*sessionDatamodel.PortalSession, error)
	Upsert(ctx context.Context, row *sessionDatamodel.PortalSession) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
