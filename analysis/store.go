package analysis

import (
	"sync"
	"time"

	"github.com/onnwee/chess-companion/position"
	"github.com/onnwee/chess-companion/telemetry"
)

// Store holds the single current Entry plus at most one active update
// ticket. It is the only shared mutable state in the pipeline; all access
// goes through BeginUpdate/Commit/Abort/Current.
//
// The slot semantics follow the live-broadcast model: only the position on
// screen right now matters, so a newer update ticket supersedes an older
// in-flight one, and a superseded computation's late commit is discarded
// (commit-order wins, not start order). Reads never block on an in-flight
// computation; a stale-but-present entry is served until the new one swaps
// in atomically.
type Store struct {
	mu        sync.Mutex
	current   *Entry
	inflight  *Ticket
	version   uint64
	ticketSeq uint64
}

// Ticket represents one granted right to compute and commit an update for a
// position. Tickets are compared by identity sequence, not position, so two
// updates for the same recurring position cannot clobber each other.
type Ticket struct {
	Position position.Position
	seq      uint64
	started  time.Time
}

// NewStore returns an empty store with no current entry.
func NewStore() *Store {
	return &Store{}
}

// Current returns the current entry, or nil if nothing has been committed
// yet. The returned entry is immutable; callers may hold it across a
// concurrent commit and simply observe the older snapshot.
func (s *Store) Current() *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// InFlight reports the position an active ticket is computing for, if any.
func (s *Store) InFlight() (position.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight == nil {
		return "", false
	}
	return s.inflight.Position, true
}

// BeginUpdate requests an update ticket for pos. It returns nil when the
// request is redundant: pos is already current, or an update for pos is
// already in flight. This is the at-most-one-in-flight guarantee that stops
// duplicate change notifications from spawning duplicate computations.
//
// A ticket for a *different* position supersedes any older in-flight ticket:
// the older computation is allowed to finish but its commit will be refused.
func (s *Store) BeginUpdate(pos position.Position) *Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.Position == pos {
		return nil
	}
	if s.inflight != nil && s.inflight.Position == pos {
		telemetry.DuplicateUpdatesSuppressed.Inc()
		return nil
	}
	s.ticketSeq++
	t := &Ticket{Position: pos, seq: s.ticketSeq, started: time.Now().UTC()}
	s.inflight = t
	telemetry.SetAnalysisInFlight(true)
	return t
}

// Commit atomically swaps in a new entry built from the two perspective
// bundles. If the ticket has been superseded (a newer BeginUpdate for a
// different position) or already resolved, the result is discarded and
// ErrStaleCommit is returned; the caller drops the bundles and moves on.
func (s *Store) Commit(t *Ticket, white, black *Bundle) (*Entry, error) {
	if t == nil {
		return nil, ErrStaleCommit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight == nil || s.inflight.seq != t.seq {
		telemetry.StaleCommitsDiscarded.Inc()
		return nil, ErrStaleCommit
	}
	s.version++
	e := &Entry{
		Position:    t.Position,
		Version:     s.version,
		CommittedAt: time.Now().UTC(),
		white:       white,
		black:       black,
	}
	s.current = e
	s.inflight = nil
	telemetry.SetAnalysisInFlight(false)
	return e, nil
}

// Abort releases a ticket without committing, so a later detection of the
// same position can try again. Aborting a superseded ticket is a no-op.
func (s *Store) Abort(t *Ticket) {
	if t == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight != nil && s.inflight.seq == t.seq {
		s.inflight = nil
		telemetry.SetAnalysisInFlight(false)
	}
}
