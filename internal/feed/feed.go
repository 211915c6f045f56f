// Package feed delivers full remote cart snapshots for a session as they change.
package feed

import (
	"context"
	"errors"

	"github.com/fjod/scancart/internal/domain"
)

var ErrSnapshotNotFound = errors.New("cart snapshot not found")

// Handler receives every delivery. Calls for one subscription never overlap.
type Handler func(domain.RemoteCartSnapshot)

// Feed is a key-scoped push subscription. The returned cancel func releases the
// subscription and is safe to call more than once.
type Feed interface {
	Subscribe(ctx context.Context, sessionID string, handler Handler) (func(), error)
}
