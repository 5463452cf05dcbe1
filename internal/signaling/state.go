package signaling

import "fmt"

// State is the manager's lifecycle. Disconnected is not terminal: the
// transport reconnects on its own and flips the manager back to
// Joined through a status event.
type State int

const (
	StateUninitialized State = iota
	StateLoggingIn
	StateJoined
	StateDisconnected
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateLoggingIn:
		return "LOGGING_IN"
	case StateJoined:
		return "JOINED"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateLoggedOut:
		return "LOGGED_OUT"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StateUninitialized: {StateLoggingIn, StateLoggedOut},
	StateLoggingIn:     {StateJoined, StateUninitialized, StateLoggedOut},
	StateJoined:        {StateDisconnected, StateLoggedOut},
	StateDisconnected:  {StateJoined, StateLoggedOut},
	StateLoggedOut:     {},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
