// Package bus carries ChangeEvents between processes. Publishers never talk
// to subscribers directly: every event goes through the bus and comes back
// out of StartForwarder, which feeds the local hub.
package bus

import (
	"context"
	"errors"

	"github.com/yungbote/workspace-core/internal/realtime"
)

// ErrClosed is returned by every operation on a closed bus.
var ErrClosed = errors.New("realtime bus closed")

type Bus interface {
	Publish(ctx context.Context, ev realtime.ChangeEvent) error
	// StartForwarder delivers every published event to onMsg until ctx is
	// done. It returns once the subscription is live.
	StartForwarder(ctx context.Context, onMsg func(ev realtime.ChangeEvent)) error
	// Ping reports whether the bus can still deliver; health checks use it.
	Ping(ctx context.Context) error
	Close() error
}
