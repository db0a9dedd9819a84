package socket

// ConnectionState is the lifecycle of a Session or Server.
//
// Sessions move Closed → Connecting → (HandshakingTLS) → Connected →
// Closing → Closed. Servers move Closed → Listening → Closing → Closed.
type ConnectionState int32

const (
	StateClosed ConnectionState = iota
	StateListening
	StateConnecting
	StateHandshakingTLS
	StateConnected
	StateClosing
)

func (s ConnectionState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListening:
		return "LISTENING"
	case StateConnecting:
		return "CONNECTING"
	case StateHandshakingTLS:
		return "HANDSHAKING_TLS"
	case StateConnected:
		return "CONNECTED"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}
