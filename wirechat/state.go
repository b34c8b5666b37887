package wirechat

// ConnectionState represents the current state of the realtime connection.
type ConnectionState int

const (
	// StateDisconnected means the client is not connected and no session exists.
	StateDisconnected ConnectionState = iota

	// StateConnecting means the first handshake of a session is in flight.
	StateConnecting

	// StateConnected means the transport is up and sends are accepted.
	StateConnected

	// StateReconnecting means the transport was lost and the client is retrying.
	StateReconnecting

	// StateFailed means reconnection attempts were exhausted.
	// Only an explicit Connect leaves this state.
	StateFailed
)

var stateNames = [...]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateReconnecting: "reconnecting",
	StateFailed:       "failed",
}

func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// acceptsConnect reports whether a fresh Connect may start from s.
func (s ConnectionState) acceptsConnect() bool {
	return s == StateDisconnected || s == StateFailed
}

// StateEvent is published on every state transition.
type StateEvent struct {
	OldState ConnectionState
	NewState ConnectionState
	Error    error // cause, if any
}

// SessionContext describes the session owned by a Client.
// A zero SessionContext means no session.
type SessionContext struct {
	UserID           string
	Token            string
	Epoch            uint64
	ReconnectAttempt int
	State            ConnectionState
}

// ConnectionStatus is a read-only view for UI consumption.
type ConnectionStatus struct {
	State            ConnectionState
	Connected        bool
	UserID           string
	Epoch            uint64
	ReconnectAttempt int
}
