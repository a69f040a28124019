package ledger

import (
	"context"
	"sync"

	"github.com/dcastillo/maquila-ledger/internal/interfaces"
)

// Manager hands out one live session per maquila id. Releasing a maquila, or
// closing the manager, unsubscribes its feed and stops its timers so no stale
// session keeps receiving events.
type Manager struct {
	store interfaces.Store
	feed  interfaces.ChangeFeed
	opts  Options

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(store interfaces.Store, feed interfaces.ChangeFeed, opts Options) *Manager {
	return &Manager{
		store:    store,
		feed:     feed,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Session returns the live session for a maquila, opening one if needed.
func (m *Manager) Session(ctx context.Context, maquilaID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[maquilaID]; ok {
		return s, nil
	}
	s, err := Open(ctx, m.store, m.feed, maquilaID, m.opts)
	if err != nil {
		return nil, err
	}
	m.sessions[maquilaID] = s
	return s, nil
}

// Release closes the session for a maquila, if one is open.
func (m *Manager) Release(maquilaID string) error {
	m.mu.Lock()
	s, ok := m.sessions[maquilaID]
	delete(m.sessions, maquilaID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Close()
}

// Close releases every open session.
func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, s := range sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
