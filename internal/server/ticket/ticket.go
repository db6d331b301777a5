package ticket

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/mdbmanager/mdbsync/internal/server/diff"
)

var (
	// ErrNotFound is returned when no pending ticket exists for a session.
	// It means "nothing to download", not a failure.
	ErrNotFound = errors.New("ticket: not found")
)

type State int32

const (
	StatePending State = iota
	StateConsumed
	StateExpired
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConsumed:
		return "consumed"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Ticket is a diff result held for a single download by one session.
// Diff, SessionKey and the timestamps are immutable once the ticket is created.
type Ticket struct {
	SessionKey string
	Diff       diff.Result
	CreatedAt  time.Time
	ExpiresAt  time.Time

	state atomic.Int32
}

func newTicket(sessionKey string, result diff.Result, now time.Time, ttl time.Duration) *Ticket {
	t := &Ticket{
		SessionKey: sessionKey,
		Diff:       result.Clone(),
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	t.state.Store(int32(StatePending))
	return t
}

// State returns the current state of the ticket
func (t *Ticket) State() State {
	return State(t.state.Load())
}

// transition moves a pending ticket to a terminal state.
// It returns false if the ticket already left the pending state.
func (t *Ticket) transition(to State) bool {
	return t.state.CompareAndSwap(int32(StatePending), int32(to))
}

func (t *Ticket) expiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Info is a read-only view of a pending ticket
type Info struct {
	SessionKey string
	Files      int
	CreatedAt  time.Time
	ExpiresAt  time.Time
}
