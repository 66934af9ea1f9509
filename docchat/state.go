package docchat

// ConnectionState represents the current state of the chat channel.
type ConnectionState int

const (
	// StateUninstantiated means Connect has not been called yet.
	StateUninstantiated ConnectionState = iota

	// StateConnecting means the driver is dialing the endpoint.
	StateConnecting

	// StateOpen means the channel is established and frames may be sent.
	StateOpen

	// StateClosing means a deliberate close is in progress.
	StateClosing

	// StateClosed means there is no live connection.
	StateClosed
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateUninstantiated:
		return "uninstantiated"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Label is the human-readable status shown next to the chat.
func (s ConnectionState) Label() string {
	switch s {
	case StateUninstantiated:
		return "Uninstantiated"
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Connected"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// StateEvent represents a state change event.
type StateEvent struct {
	OldState ConnectionState
	NewState ConnectionState
	Error    error // Optional error that caused the state change

	// Attempt is the number of consecutive failed connection attempts so far.
	Attempt int

	// GaveUp is set on the final event once reconnection has been abandoned.
	GaveUp bool
}

// Failed reports whether the transition was caused by a connection failure.
func (ev StateEvent) Failed() bool {
	return ev.Error != nil
}
