// Package bus relays realtime events between instances. A deployment with
// one instance runs without a bus; the hub alone reaches every client.
package bus

import (
	"context"

	"github.com/yungbote/vidscribe-backend/internal/realtime"
)

type Bus interface {
	Publish(ctx context.Context, ev realtime.Event) error

	// StartForwarder subscribes to the relay channel and invokes onEvent
	// for every event published by any instance, this one included.
	StartForwarder(ctx context.Context, onEvent func(ev realtime.Event)) error

	Close() error
}
