package client

import (
	"sync"

	"github.com/joshua-takyi/gatherly/internal/identity"
)

// Command is one state transition of the local event store. Commands
// carry everything the transition needs so Apply stays a pure function
// of (State, Command).
type Command interface {
	isCommand()
}

// PutEvent stores a fetched event. Seq is the sequence number issued
// when the fetch was started; a fetch that resolves after a newer
// change to the same event is dropped instead of clobbering it.
type PutEvent struct {
	Event Event
	Seq   uint64
}

// OptimisticJoin adds the user to the event's slots locally before the
// server has answered. The pre-change snapshot is kept so a Rollback
// with the same Seq can restore it.
type OptimisticJoin struct {
	EventID string
	UserID  string
	Seq     uint64
}

// OptimisticLeave is the counterpart for cancelling an RSVP.
type OptimisticLeave struct {
	EventID string
	UserID  string
	Seq     uint64
}

// Reconcile replaces the optimistic state with the server's
// authoritative event. Seq ties it back to the mutation it answers.
type Reconcile struct {
	Event Event
	Seq   uint64
}

// Rollback restores the snapshot taken by the optimistic command with
// the same Seq. It is a no-op when a newer change has landed since,
// because reverting would then wipe out state the rollback was never
// about.
type Rollback struct {
	EventID string
	Seq     uint64
}

func (PutEvent) isCommand()        {}
func (OptimisticJoin) isCommand()  {}
func (OptimisticLeave) isCommand() {}
func (Reconcile) isCommand()       {}
func (Rollback) isCommand()        {}

// Entry is one cached event plus its bookkeeping.
type Entry struct {
	Event Event
	// Seq of the last change applied to this entry.
	Seq uint64
	// Snapshots taken before optimistic changes, keyed by the Seq of
	// the change, kept until that change reconciles or rolls back.
	Pending map[uint64]Event
}

// State is the whole local store. Values are treated as immutable;
// Apply copies what it changes.
type State struct {
	Events map[string]Entry
	// Number of events that arrived without a usable identifier and
	// were cached under a generated one.
	Malformed int
}

func NewState() State {
	return State{Events: map[string]Entry{}}
}

// Event looks up a cached event by server id, canonicalized.
func (s State) Event(id string) (Event, bool) {
	e, ok := s.Events[identity.Canonicalize(id)]
	if !ok {
		return Event{}, false
	}
	return e.Event, true
}

// Apply returns the state after the command. The input state is never
// mutated.
func Apply(s State, cmd Command) State {
	switch c := cmd.(type) {
	case PutEvent:
		return applyPut(s, c)
	case OptimisticJoin:
		return applyOptimistic(s, c.EventID, c.Seq, func(e Event) Event {
			if IsMember(e, c.UserID) || IsFull(e) {
				return e
			}
			e.Rsvps = append(append([]identity.Ref{}, e.Rsvps...), identity.NewRef(c.UserID))
			e.AttendingCount = len(e.Rsvps)
			return e
		})
	case OptimisticLeave:
		return applyOptimistic(s, c.EventID, c.Seq, func(e Event) Event {
			if !IsMember(e, c.UserID) {
				return e
			}
			kept := make([]identity.Ref, 0, len(e.Rsvps))
			for _, r := range e.Rsvps {
				if r.Canonical() != identity.Canonicalize(c.UserID) {
					kept = append(kept, r)
				}
			}
			e.Rsvps = kept
			e.AttendingCount = len(e.Rsvps)
			return e
		})
	case Reconcile:
		return applyReconcile(s, c)
	case Rollback:
		return applyRollback(s, c)
	default:
		return s
	}
}

func applyPut(s State, c PutEvent) State {
	event, ok := Normalize(c.Event)
	next := cloneState(s)
	if !ok {
		next.Malformed++
	}
	entry, exists := next.Events[event.ID]
	if exists && c.Seq < entry.Seq {
		// The fetch raced a newer optimistic change; drop it.
		if !ok {
			return next
		}
		return s
	}
	entry.Event = event
	if c.Seq > entry.Seq {
		entry.Seq = c.Seq
	}
	next.Events[event.ID] = entry
	return next
}

func applyOptimistic(s State, eventID string, seq uint64, patch func(Event) Event) State {
	id := identity.Canonicalize(eventID)
	entry, ok := s.Events[id]
	if !ok {
		return s
	}
	next := cloneState(s)
	entry.Pending = clonePending(entry.Pending)
	entry.Pending[seq] = entry.Event
	entry.Event = patch(entry.Event)
	entry.Seq = seq
	next.Events[id] = entry
	return next
}

func applyReconcile(s State, c Reconcile) State {
	event, ok := Normalize(c.Event)
	if !ok {
		// A reconcile response without an id cannot be matched to a
		// cached entry; there is nothing safe to update.
		next := cloneState(s)
		next.Malformed++
		return next
	}
	entry, exists := s.Events[event.ID]
	if exists && c.Seq < entry.Seq {
		// A newer optimistic change is already in flight; applying this
		// older answer would double back on it.
		return s
	}

	next := cloneState(s)
	if exists {
		entry.Event = mergeAuthoritative(entry.Event, event)
		entry.Pending = clonePending(entry.Pending)
		for seq := range entry.Pending {
			if seq <= c.Seq {
				delete(entry.Pending, seq)
			}
		}
	} else {
		entry = Entry{Event: event}
	}
	if c.Seq > entry.Seq {
		entry.Seq = c.Seq
	}
	next.Events[event.ID] = entry
	return next
}

func applyRollback(s State, c Rollback) State {
	id := identity.Canonicalize(c.EventID)
	entry, ok := s.Events[id]
	if !ok {
		return s
	}
	snapshot, ok := entry.Pending[c.Seq]
	if !ok {
		return s
	}
	next := cloneState(s)
	entry.Pending = clonePending(entry.Pending)
	delete(entry.Pending, c.Seq)
	if entry.Seq == c.Seq {
		// Nothing landed after the failed change, so the snapshot is
		// still the truth.
		entry.Event = snapshot
	}
	next.Events[id] = entry
	return next
}

// mergeAuthoritative folds the server's answer over the cached event.
// The server always wins for membership and the counters derived from
// it, but scalar fields it omitted keep their cached values so a
// partial response does not blank out the entry.
func mergeAuthoritative(cached, server Event) Event {
	merged := server
	if merged.Title == "" {
		merged.Title = cached.Title
	}
	if merged.Description == "" {
		merged.Description = cached.Description
	}
	if merged.Category == "" {
		merged.Category = cached.Category
	}
	if merged.EventType == "" {
		merged.EventType = cached.EventType
	}
	if merged.Location == "" {
		merged.Location = cached.Location
	}
	if merged.ImageURL == "" {
		merged.ImageURL = cached.ImageURL
	}
	if len(merged.Tags) == 0 {
		merged.Tags = cached.Tags
	}
	if merged.Owner.IsZero() {
		merged.Owner = cached.Owner
	}
	if merged.Date.IsZero() {
		merged.Date = cached.Date
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = cached.CreatedAt
	}
	return merged
}

func cloneState(s State) State {
	events := make(map[string]Entry, len(s.Events))
	for k, v := range s.Events {
		events[k] = v
	}
	return State{Events: events, Malformed: s.Malformed}
}

func clonePending(p map[uint64]Event) map[uint64]Event {
	out := make(map[uint64]Event, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Store wraps the reducer with a mutex and a sequence counter so
// concurrent goroutines (fetches resolving, mutations reconciling) can
// share one state.
type Store struct {
	mu    sync.RWMutex
	state State
	seq   uint64
}

func NewStore() *Store {
	return &Store{state: NewState()}
}

// NextSeq issues the sequence number for a new fetch or mutation.
func (s *Store) NextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *Store) Dispatch(cmd Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Apply(s.state, cmd)
}

func (s *Store) Event(id string) (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Event(id)
}

// Snapshot returns the current state value.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}
