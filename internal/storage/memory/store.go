package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dcastillo/maquila-ledger/internal/interfaces"
	"github.com/dcastillo/maquila-ledger/internal/models"
	"github.com/dcastillo/maquila-ledger/internal/models/events"
)

// MemoryStore is an in-memory implementation of the store adapter that also
// acts as its own change feed: every successful write is fanned out to the
// subscribers of the owning maquila. It stands in for the postgres store plus
// kafka feed in tests and local development.
type MemoryStore struct {
	mu       sync.Mutex
	rows     []models.ClosureRow // creation order
	maquilas map[string]models.Maquila
	subs     map[string]map[int]func(events.RowChange)
	nextSub  int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:     make([]models.ClosureRow, 0),
		maquilas: make(map[string]models.Maquila),
		subs:     make(map[string]map[int]func(events.RowChange)),
	}
}

// PutMaquila stores or replaces a work-order record.
func (m *MemoryStore) PutMaquila(maquila models.Maquila) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maquilas[maquila.ID] = maquila
}

func (m *MemoryStore) GetMaquila(ctx context.Context, maquilaID string) (models.Maquila, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	maquila, ok := m.maquilas[maquilaID]
	if !ok {
		return models.Maquila{}, fmt.Errorf("maquila %s not found", maquilaID)
	}
	return maquila, nil
}

func (m *MemoryStore) SelectRows(ctx context.Context, maquilaID string) ([]models.ClosureRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.ClosureRow
	for _, r := range m.rows {
		if r.MaquilaID == maquilaID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *MemoryStore) InsertRows(ctx context.Context, inputs []models.RowInput) ([]models.ClosureRow, error) {
	m.mu.Lock()

	inserted := make([]models.ClosureRow, 0, len(inputs))
	for _, in := range inputs {
		row := models.ClosureRow{
			ID:        uuid.NewString(),
			MaquilaID: in.MaquilaID,
			Category:  in.Category,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
			CreatedAt: time.Now(),
		}
		row.RecomputeTotal()
		m.rows = append(m.rows, row)
		inserted = append(inserted, row)
	}
	m.mu.Unlock()

	for _, row := range inserted {
		m.publish(events.RowChange{Kind: events.KindInsert, Row: row, OccurredAt: row.CreatedAt})
	}
	return inserted, nil
}

func (m *MemoryStore) UpdateRow(ctx context.Context, rowID, maquilaID string, patch models.RowPatch) error {
	m.mu.Lock()

	idx := m.indexOf(rowID, maquilaID)
	if idx < 0 {
		m.mu.Unlock()
		return interfaces.ErrRowNotFound
	}
	patch.ApplyTo(&m.rows[idx])
	updated := m.rows[idx]
	m.mu.Unlock()

	m.publish(events.RowChange{Kind: events.KindUpdate, Row: updated, OccurredAt: time.Now()})
	return nil
}

func (m *MemoryStore) DeleteRow(ctx context.Context, rowID, maquilaID string) error {
	m.mu.Lock()

	idx := m.indexOf(rowID, maquilaID)
	if idx < 0 {
		m.mu.Unlock()
		return interfaces.ErrRowNotFound
	}
	deleted := m.rows[idx]
	m.rows = append(m.rows[:idx], m.rows[idx+1:]...)
	m.mu.Unlock()

	m.publish(events.RowChange{Kind: events.KindDelete, Row: deleted, OccurredAt: time.Now()})
	return nil
}

func (m *MemoryStore) RowExists(ctx context.Context, rowID, maquilaID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexOf(rowID, maquilaID) >= 0, nil
}

// Subscribe registers a handler for changes to one maquila's rows. Delivery
// happens synchronously in the goroutine performing the write.
func (m *MemoryStore) Subscribe(ctx context.Context, maquilaID string, handler func(events.RowChange)) (interfaces.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subs[maquilaID] == nil {
		m.subs[maquilaID] = make(map[int]func(events.RowChange))
	}
	id := m.nextSub
	m.nextSub++
	m.subs[maquilaID][id] = handler

	return &subscription{store: m, maquilaID: maquilaID, id: id}, nil
}

// indexOf requires m.mu held.
func (m *MemoryStore) indexOf(rowID, maquilaID string) int {
	for i, r := range m.rows {
		if r.ID == rowID && r.MaquilaID == maquilaID {
			return i
		}
	}
	return -1
}

func (m *MemoryStore) publish(ev events.RowChange) {
	m.mu.Lock()
	handlers := make([]func(events.RowChange), 0, len(m.subs[ev.Row.MaquilaID]))
	for _, h := range m.subs[ev.Row.MaquilaID] {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

type subscription struct {
	store     *MemoryStore
	maquilaID string
	id        int
}

func (s *subscription) Unsubscribe() error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	delete(s.store.subs[s.maquilaID], s.id)
	return nil
}

// Compile-time checks: MemoryStore serves as both the store and the feed.
var _ interfaces.Store = (*MemoryStore)(nil)
var _ interfaces.ChangeFeed = (*MemoryStore)(nil)
