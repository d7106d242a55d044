package internal

import (
	"context"
	"time"
)

// DefaultCallTimeout bounds a backend call when no timeout is configured.
const DefaultCallTimeout = 10 * time.Second

// WithTimeout bounds ctx by d, or by DefaultCallTimeout when d is not positive.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultCallTimeout
	}
	return context.WithTimeout(ctx, d)
}
