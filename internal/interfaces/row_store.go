package interfaces

import (
	"context"
	"errors"

	"github.com/dcastillo/maquila-ledger/internal/models"
)

// ErrRowNotFound is returned by writes and deletes whose row id and maquila id
// do not jointly match an existing row. A zero-row update is an error, never a
// silent no-op.
var ErrRowNotFound = errors.New("closure row not found for maquila")

// RowStore is the remote store adapter for closure rows. The durable copy of
// a ledger lives behind this interface; the session keeps only a cache.
type RowStore interface {
	// SelectRows returns all rows owned by the maquila, ordered by creation
	// time ascending.
	SelectRows(ctx context.Context, maquilaID string) ([]models.ClosureRow, error)
	// InsertRows creates the given rows in one batch and returns them with
	// store-assigned ids.
	InsertRows(ctx context.Context, inputs []models.RowInput) ([]models.ClosureRow, error)
	// UpdateRow applies a partial patch to the row matching both ids.
	UpdateRow(ctx context.Context, rowID, maquilaID string, patch models.RowPatch) error
	// DeleteRow removes the row matching both ids.
	DeleteRow(ctx context.Context, rowID, maquilaID string) error
	// RowExists reports whether a row with this id still belongs to the maquila.
	RowExists(ctx context.Context, rowID, maquilaID string) (bool, error)
}

// MaquilaStore reads work-order records.
type MaquilaStore interface {
	GetMaquila(ctx context.Context, maquilaID string) (models.Maquila, error)
}

// Store is the full adapter surface a viewing session needs.
type Store interface {
	RowStore
	MaquilaStore
}
