package events

import (
	"time"

	"github.com/dcastillo/maquila-ledger/internal/models"
)

// Kind tags a row-level change pushed by the store.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// RowChange is one change to a closure row, as delivered on the push feed.
// For deletes the row carries at least its id and maquila id.
type RowChange struct {
	Kind       Kind              `json:"kind"`
	Row        models.ClosureRow `json:"row"`
	OccurredAt time.Time         `json:"occurred_at"`
}
