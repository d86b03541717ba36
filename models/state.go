package models

// ConnectionState is the connector lifecycle state machine position.
// Transitions are sequential:
//
//	Disconnected -> Connecting -> Connected -> Subscribing -> Active
//
// with any transport error moving to Reconnecting, and Failed terminal
// until an explicit reset.
type ConnectionState uint8

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateSubscribing
	StateActive
	StateReconnecting
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribing:
		return "subscribing"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Live reports whether the connector currently has a usable transport.
func (s ConnectionState) Live() bool {
	switch s {
	case StateConnected, StateSubscribing, StateActive:
		return true
	default:
		return false
	}
}
