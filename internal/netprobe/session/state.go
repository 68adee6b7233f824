package session

import (
	"time"

	"netprobe/internal/netprobe/domain"
)

// State is a duplex session lifecycle state.
type State int

const (
	Connected State = iota
	ReceivingChunk
	Acknowledging
	Closed
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case ReceivingChunk:
		return "receiving"
	case Acknowledging:
		return "acknowledging"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// validTransitions lists the allowed next states for each state.
var validTransitions = map[State][]State{
	Connected:      {ReceivingChunk, Closed},
	ReceivingChunk: {Acknowledging, Closed},
	Acknowledging:  {ReceivingChunk, Closed},
	Closed:         {},
}

// CanTransition reports whether from -> to is a legal step
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session is the per-connection state, owned by a single goroutine.
type Session struct {
	state   State
	upload  *domain.UploadSession
	history []State
}

func newSession(id string, openedAt time.Time) *Session {
	return &Session{
		state:   Connected,
		upload:  domain.NewUploadSession(id, openedAt),
		history: []State{Connected},
	}
}

// transition moves to the next state; illegal steps are ignored and reported.
func (s *Session) transition(to State) bool {
	if s.state == to {
		return true
	}
	if !CanTransition(s.state, to) {
		return false
	}
	s.state = to
	s.history = append(s.history, to)
	return true
}

// State returns the current state
func (s *Session) State() State {
	return s.state
}
