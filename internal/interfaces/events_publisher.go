package interfaces

import (
	"context"

	"github.com/dcastillo/maquila-ledger/internal/models/events"
)

// EventPublisher pushes a row change onto the feed after a successful write.
type EventPublisher interface {
	Publish(ctx context.Context, event events.RowChange) error
}
