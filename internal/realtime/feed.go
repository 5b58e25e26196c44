// Package realtime adapts push notifications of row changes into scoped
// subscriptions the client attaches and releases as conversations change.
package realtime

import (
	"context"

	"github.com/fathima-sithara/chat-client/internal/domain"
)

// Feed delivers row-change events for a topic. Delivery is at-least-once
// with no ordering guarantee. The returned release func closes the channel.
type Feed interface {
	Subscribe(ctx context.Context, topic string) (<-chan domain.Event, func(), error)
}
