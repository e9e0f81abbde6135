package server

// connState is a Connection's lifecycle state. Transitions are
// forward-only: connecting -> connected -> disconnecting -> disconnected.
type connState int32

const (
	stateConnecting connState = iota
	stateConnected
	stateDisconnecting
	stateDisconnected
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateDisconnecting:
		return "disconnecting"
	case stateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
