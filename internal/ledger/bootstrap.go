package ledger

import (
	"context"
	"fmt"

	"github.com/dcastillo/maquila-ledger/internal/models"
)

// EnsureMinimumRows makes sure the ledger has rows to show on first view: if
// the maquila has none, it inserts MinimumRows blank rows in one batch and
// returns them. Once it has seen rows (or created them) it becomes a no-op
// for the rest of the session, so re-renders never re-insert. On failure the
// flag stays unset and the next session retries.
func (s *Session) EnsureMinimumRows(ctx context.Context) ([]models.ClosureRow, error) {
	s.mu.Lock()
	if s.bootstrapped {
		s.mu.Unlock()
		return nil, nil
	}
	s.mu.Unlock()

	existing, err := s.store.SelectRows(ctx, s.maquilaID)
	if err != nil {
		return nil, fmt.Errorf("checking existing closure rows: %w", err)
	}
	if len(existing) > 0 {
		s.markBootstrapped()
		return nil, nil
	}

	inputs := make([]models.RowInput, MinimumRows)
	for i := range inputs {
		inputs[i] = models.BlankRow(s.maquilaID)
	}
	inserted, err := s.store.InsertRows(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("inserting blank closure rows: %w", err)
	}

	s.markBootstrapped()
	return inserted, nil
}

func (s *Session) markBootstrapped() {
	s.mu.Lock()
	s.bootstrapped = true
	s.mu.Unlock()
}
