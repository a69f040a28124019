package ledger

import (
	"sync"
	"time"
)

// DefaultQuietWindow is how long a row must go untouched before its
// accumulated edits are written out.
const DefaultQuietWindow = 500 * time.Millisecond

// scheduler coalesces rapid edits to the same row into one outgoing write per
// quiet window. Each row id owns a timer, a busy flag for the in-flight write
// and a rearm flag for edits that land while that write is still running.
// Rows are independent: writes for different rows proceed concurrently, but a
// single row never has two writes in flight.
type scheduler struct {
	mu      sync.Mutex
	quiet   time.Duration
	flush   func(rowID string)
	entries map[string]*schedulerEntry
	closed  bool
}

type schedulerEntry struct {
	timer *time.Timer
	busy  bool
	rearm bool
}

func newScheduler(quiet time.Duration, flush func(rowID string)) *scheduler {
	if quiet <= 0 {
		quiet = DefaultQuietWindow
	}
	return &scheduler{
		quiet:   quiet,
		flush:   flush,
		entries: make(map[string]*schedulerEntry),
	}
}

// Schedule arms, or re-arms, the write timer for a row. While a write for the
// row is in flight the timer is left alone and the row is marked for re-arm
// once that write finishes, so writes to one row never overlap.
func (s *scheduler) Schedule(rowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	e, ok := s.entries[rowID]
	if !ok {
		e = &schedulerEntry{}
		e.timer = time.AfterFunc(s.quiet, func() { s.fire(rowID) })
		s.entries[rowID] = e
		return
	}
	if e.busy {
		e.rearm = true
		return
	}
	e.timer.Reset(s.quiet)
}

func (s *scheduler) fire(rowID string) {
	s.mu.Lock()
	e, ok := s.entries[rowID]
	if !ok || s.closed || e.busy {
		s.mu.Unlock()
		return
	}
	e.busy = true
	s.mu.Unlock()

	s.flush(rowID)

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok = s.entries[rowID]
	if !ok {
		return // cancelled mid-write
	}
	e.busy = false
	if e.rearm {
		e.rearm = false
		e.timer.Reset(s.quiet)
		return
	}
	delete(s.entries, rowID)
}

// Cancel drops any scheduled write for a row, e.g. after the row was removed.
// A write already in flight is left to finish.
func (s *scheduler) Cancel(rowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[rowID]; ok {
		e.timer.Stop()
		delete(s.entries, rowID)
	}
}

// Close stops every timer. In-flight writes complete in the background.
func (s *scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for rowID, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, rowID)
	}
}
