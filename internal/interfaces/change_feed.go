package interfaces

import (
	"context"

	"github.com/dcastillo/maquila-ledger/internal/models/events"
)

// Subscription is a live attachment to the push feed. Unsubscribe stops
// delivery; events already handed to the handler still complete.
type Subscription interface {
	Unsubscribe() error
}

// ChangeFeed delivers row-level change events scoped to one maquila. The
// handler is invoked from the feed's own goroutine and must not block
// indefinitely.
type ChangeFeed interface {
	Subscribe(ctx context.Context, maquilaID string, handler func(events.RowChange)) (Subscription, error)
}
