package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dcastillo/maquila-ledger/internal/interfaces"
	"github.com/dcastillo/maquila-ledger/internal/models"
	"github.com/dcastillo/maquila-ledger/internal/models/events"
)

// Options tunes a session. Zero values fall back to defaults.
type Options struct {
	QuietWindow time.Duration // debounce window for row writes
	RetryDelay  time.Duration // initial backoff of the initial-load retry
	Log         *logrus.Logger
}

// pendingEdit accumulates unconfirmed field deltas for one row. rev increases
// with every edit so a completing write can tell whether a newer edit arrived
// while it was in flight.
type pendingEdit struct {
	patch models.RowPatch
	rev   uint64
}

// Session is the local ledger state for one maquila viewed by one client.
// Edits land in it immediately and are persisted in the background by the
// debounced scheduler; changes made by other clients arrive through the
// change feed and are merged in, with pending local edits taking precedence
// field by field until their own write confirms.
type Session struct {
	store      interfaces.Store
	feed       interfaces.ChangeFeed
	maquilaID  string
	log        *logrus.Logger
	retryDelay time.Duration

	mu           sync.Mutex
	rows         []models.ClosureRow // creation order
	pending      map[string]*pendingEdit
	advance      decimal.Decimal
	bootstrapped bool

	sched     *scheduler
	sub       interfaces.Subscription
	incoming  chan events.RowChange
	done      chan struct{}
	closeOnce sync.Once
}

// Open loads the closure ledger of one maquila and starts listening for
// remote changes. Bootstrap failures are logged and leave the viewer with
// whatever the fetch returns; a fetch failure after retries is returned to
// the caller, who may open again.
func Open(ctx context.Context, store interfaces.Store, feed interfaces.ChangeFeed, maquilaID string, opts Options) (*Session, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Session{
		store:      store,
		feed:       feed,
		maquilaID:  maquilaID,
		log:        log,
		retryDelay: opts.RetryDelay,
		pending:    make(map[string]*pendingEdit),
		advance:    decimal.Zero,
		incoming:   make(chan events.RowChange, 64),
		done:       make(chan struct{}),
	}
	s.sched = newScheduler(opts.QuietWindow, s.flushRow)

	if maquila, err := store.GetMaquila(ctx, maquilaID); err != nil {
		log.WithField("maquila_id", maquilaID).Warnf("loading advance amount failed: %v", err)
	} else {
		s.advance = maquila.AdvanceAmount
	}

	// Subscribe before the fetch so a change committed by another client
	// while the fetch is in flight is still delivered; the idempotent merge
	// absorbs any overlap between the two. The subscription lives until
	// Close, not until the opening request's context ends.
	sub, err := feed.Subscribe(context.Background(), maquilaID, s.enqueue)
	if err != nil {
		return nil, fmt.Errorf("subscribing to row changes: %w", err)
	}
	s.sub = sub

	if _, err := s.EnsureMinimumRows(ctx); err != nil {
		log.WithField("maquila_id", maquilaID).Errorf("bootstrapping closure rows failed: %v", err)
	}

	var rows []models.ClosureRow
	err = withRetry(ctx, s.retryDelay, func() error {
		var err error
		rows, err = store.SelectRows(ctx, maquilaID)
		return err
	})
	if err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("loading closure rows: %w", err)
	}
	for i := range rows {
		rows[i].RecomputeTotal()
	}
	s.rows = rows

	go s.consume()
	return s, nil
}

// MaquilaID returns the work order this session is scoped to.
func (s *Session) MaquilaID() string {
	return s.maquilaID
}

// Rows returns a snapshot of the current local rows.
func (s *Session) Rows() []models.ClosureRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ClosureRow, len(s.rows))
	copy(out, s.rows)
	return out
}

// Totals recomputes the ledger aggregates from the current rows.
func (s *Session) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CalculateTotals(s.rows, s.advance)
}

// HasPending reports whether a row carries edits not yet confirmed written.
func (s *Session) HasPending(rowID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[rowID]
	return ok
}

// EditField applies one keystroke-level change to the local state and
// schedules its persistence. It never fails from the caller's side: invalid
// numeric input is ignored and the previous value kept, and write errors are
// handled by the persistence layer.
func (s *Session) EditField(rowID string, field models.Field, raw string) {
	var patch models.RowPatch
	switch field {
	case models.FieldCategory:
		v := raw
		patch.Category = &v
	case models.FieldQuantity:
		d, ok := models.ParseAmount(raw)
		if !ok {
			return
		}
		patch.Quantity = &d
	case models.FieldUnitPrice:
		d, ok := models.ParseAmount(raw)
		if !ok {
			return
		}
		patch.UnitPrice = &d
	default:
		return
	}

	s.mu.Lock()
	idx := s.indexOf(rowID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	patch.ApplyTo(&s.rows[idx])
	pe, ok := s.pending[rowID]
	if !ok {
		pe = &pendingEdit{}
		s.pending[rowID] = pe
	}
	pe.patch.Merge(patch)
	pe.rev++
	s.mu.Unlock()

	s.sched.Schedule(rowID)
}

// AddRow inserts one blank row remotely and appends it locally on success.
func (s *Session) AddRow(ctx context.Context) (models.ClosureRow, error) {
	inserted, err := s.store.InsertRows(ctx, []models.RowInput{models.BlankRow(s.maquilaID)})
	if err != nil {
		s.log.WithField("maquila_id", s.maquilaID).Errorf("adding closure row failed: %v", err)
		return models.ClosureRow{}, fmt.Errorf("adding closure row: %w", err)
	}
	row := inserted[0]

	s.mu.Lock()
	// The feed may have echoed the insert back already.
	if s.indexOf(row.ID) < 0 {
		s.rows = append(s.rows, row)
	}
	s.mu.Unlock()
	return row, nil
}

// DeleteRow removes a row after checking the minimum-row invariant and that
// the row still belongs to this maquila.
func (s *Session) DeleteRow(ctx context.Context, rowID string) error {
	s.mu.Lock()
	if len(s.rows) <= MinimumRows {
		s.mu.Unlock()
		return ErrMinimumRows
	}
	known := s.indexOf(rowID) >= 0
	s.mu.Unlock()
	if !known {
		return interfaces.ErrRowNotFound
	}

	exists, err := s.store.RowExists(ctx, rowID, s.maquilaID)
	if err != nil {
		return fmt.Errorf("verifying row before delete: %w", err)
	}
	if !exists {
		return interfaces.ErrRowNotFound
	}

	if err := s.store.DeleteRow(ctx, rowID, s.maquilaID); err != nil {
		s.log.WithFields(logrus.Fields{
			"maquila_id": s.maquilaID,
			"row_id":     rowID,
		}).Errorf("deleting closure row failed: %v", err)
		return fmt.Errorf("deleting closure row: %w", err)
	}

	s.sched.Cancel(rowID)
	s.mu.Lock()
	if idx := s.indexOf(rowID); idx >= 0 {
		s.rows = append(s.rows[:idx], s.rows[idx+1:]...)
	}
	delete(s.pending, rowID)
	s.mu.Unlock()
	return nil
}

// Close unsubscribes from the change feed and stops the debounce timers.
// Writes already in flight finish in the background rather than being
// aborted.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.sched.Close()
		if s.sub != nil {
			err = s.sub.Unsubscribe()
		}
	})
	return err
}

// enqueue hands a feed event to the reconciliation goroutine.
func (s *Session) enqueue(ev events.RowChange) {
	select {
	case s.incoming <- ev:
	case <-s.done:
	}
}

func (s *Session) consume() {
	for {
		select {
		case ev := <-s.incoming:
			s.applyRemoteEvent(ev)
		case <-s.done:
			return
		}
	}
}

// applyRemoteEvent merges one pushed change into local state. It is
// idempotent: the feed may deliver this client's own writes back to it, and
// ordering against in-flight local writes is not guaranteed.
func (s *Session) applyRemoteEvent(ev events.RowChange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case events.KindInsert:
		if s.indexOf(ev.Row.ID) >= 0 {
			return
		}
		row := ev.Row
		row.RecomputeTotal()
		s.rows = append(s.rows, row)

	case events.KindUpdate:
		idx := s.indexOf(ev.Row.ID)
		if idx < 0 {
			return
		}
		s.mergeRemoteUpdate(idx, ev.Row)

	case events.KindDelete:
		idx := s.indexOf(ev.Row.ID)
		if idx < 0 {
			return
		}
		s.rows = append(s.rows[:idx], s.rows[idx+1:]...)
		delete(s.pending, ev.Row.ID)
		s.sched.Cancel(ev.Row.ID)
	}
}

// mergeRemoteUpdate applies fields from a pushed row, skipping any field this
// client has edited but not yet confirmed written: the local edit owns the
// field until its own write round-trips. Requires s.mu held.
func (s *Session) mergeRemoteUpdate(idx int, remote models.ClosureRow) {
	pe := s.pending[remote.ID]
	row := &s.rows[idx]
	if pe == nil || !pe.patch.Has(models.FieldCategory) {
		row.Category = remote.Category
	}
	if pe == nil || !pe.patch.Has(models.FieldQuantity) {
		row.Quantity = remote.Quantity
	}
	if pe == nil || !pe.patch.Has(models.FieldUnitPrice) {
		row.UnitPrice = remote.UnitPrice
	}
	row.RecomputeTotal()
}

// flushRow is invoked by the scheduler once a row's quiet window elapses. It
// writes the accumulated delta, re-verifying ownership first, and clears the
// pending entry only when no newer edit arrived during the write.
func (s *Session) flushRow(rowID string) {
	s.mu.Lock()
	pe, ok := s.pending[rowID]
	if !ok || pe.patch.IsEmpty() {
		delete(s.pending, rowID)
		s.mu.Unlock()
		return
	}
	patch := pe.patch
	rev := pe.rev
	s.mu.Unlock()

	// Deliberately not the viewer's context: a write scheduled before the
	// viewer closed still completes.
	ctx := context.Background()

	exists, err := s.store.RowExists(ctx, rowID, s.maquilaID)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"maquila_id": s.maquilaID,
			"row_id":     rowID,
		}).Errorf("verifying row before write failed: %v", err)
		return
	}
	if !exists {
		// Another client deleted the row while the edit sat in the window.
		s.log.WithFields(logrus.Fields{
			"maquila_id": s.maquilaID,
			"row_id":     rowID,
		}).Warn("dropping edit for a row no longer in this ledger")
		s.clearPending(rowID, rev)
		return
	}

	if err := s.store.UpdateRow(ctx, rowID, s.maquilaID, patch); err != nil {
		if errors.Is(err, interfaces.ErrRowNotFound) {
			// The row vanished between the existence check and the write;
			// same outcome as the !exists branch above.
			s.log.WithFields(logrus.Fields{
				"maquila_id": s.maquilaID,
				"row_id":     rowID,
			}).Warn("dropping edit for a row no longer in this ledger")
			s.clearPending(rowID, rev)
			return
		}
		// A transient failure: the value stays pending so the UI keeps
		// showing it, and the next edit decides whether another attempt is
		// made.
		s.log.WithFields(logrus.Fields{
			"maquila_id": s.maquilaID,
			"row_id":     rowID,
		}).Errorf("writing closure row failed: %v", err)
		return
	}

	s.clearPending(rowID, rev)
}

// clearPending removes the pending entry unless a newer edit superseded it.
func (s *Session) clearPending(rowID string, rev uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.pending[rowID]; ok && cur.rev == rev {
		delete(s.pending, rowID)
	}
}

// indexOf requires s.mu held.
func (s *Session) indexOf(rowID string) int {
	for i, r := range s.rows {
		if r.ID == rowID {
			return i
		}
	}
	return -1
}
