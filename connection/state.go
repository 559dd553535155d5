package connection

// State is the lifecycle state of a connection.
type State int

const (
	// StateInitializing means the first transport open is in progress.
	StateInitializing State = iota
	// StateActive means normal send/receive.
	StateActive
	// StateDegraded means one fault was observed but the connection is not
	// yet confirmed dead; confirmation probes are running.
	StateDegraded
	// StateReconnecting means the transport has been closed and re-opens are
	// being attempted under the backoff schedule.
	StateReconnecting
	// StateClosed means explicit shutdown was requested. Terminal.
	StateClosed
	// StateFailed means reconnection attempts were exhausted. Terminal;
	// recovery requires the owner to build a new connection.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can occur.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// legalTransitions encodes the state machine edges. Closed is reachable from
// every non-terminal state because shutdown may be requested at any time.
var legalTransitions = map[State][]State{
	StateInitializing: {StateActive, StateReconnecting, StateFailed, StateClosed},
	StateActive:       {StateDegraded, StateReconnecting, StateClosed},
	StateDegraded:     {StateActive, StateReconnecting, StateClosed},
	StateReconnecting: {StateActive, StateFailed, StateClosed},
	StateClosed:       {},
	StateFailed:       {},
}

func canTransition(from, to State) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
