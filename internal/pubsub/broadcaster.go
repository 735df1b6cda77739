package pubsub

import (
	"context"

	"pulseoracle/internal/domain"
)

// Broadcaster republishes oracle events beyond the in-process bus, e.g. to a
// message broker for other cluster members. Best effort: callers log publish
// failures and move on.
type Broadcaster interface {
	Publish(ctx context.Context, ev domain.OracleEvent) error
	Health(ctx context.Context) error
}
