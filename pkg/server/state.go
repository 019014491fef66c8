package server

// State is the lifecycle state of a connection.
//
// Connections move Connecting -> Authenticated -> Closed. Closed is terminal;
// there is no re-authentication mid-session.
type State int32

const (
	// StateConnecting is the initial state: transport open, no owner bound.
	StateConnecting State = iota

	// StateAuthenticated means the handshake completed and an owner identity
	// is bound to the connection.
	StateAuthenticated

	// StateClosed is terminal. The registry entry is gone and the heartbeat
	// timer is stopped.
	StateClosed
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
