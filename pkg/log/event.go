package log

import "time"

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the session (UUID). Empty for listener events.
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates data flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalRole indicates whether the local side dialed or accepted.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// LocalAddr is the local address (IP:port).
	LocalAddr string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Data        *DataEvent        `cbor:"10,keyasint,omitempty"` // Transport and framing layers
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"` // Connection/channel/listener state
	Handshake   *HandshakeEvent   `cbor:"12,keyasint,omitempty"` // TLS negotiation
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of data flow.
type Direction uint8

const (
	// DirectionIn indicates incoming data.
	DirectionIn Direction = 0
	// DirectionOut indicates outgoing data.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which socket layer captured the event.
type Layer uint8

const (
	// LayerTransport is the raw byte stream (plain bytes or TLS plaintext).
	LayerTransport Layer = 0
	// LayerTLS is the security channel.
	LayerTLS Layer = 1
	// LayerFraming is the length-prefixed packet layer.
	LayerFraming Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerTLS:
		return "TLS"
	case LayerFraming:
		return "FRAMING"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryData indicates bytes or packets moving over the session.
	CategoryData Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryHandshake indicates TLS handshake progress.
	CategoryHandshake Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryData:
		return "DATA"
	case CategoryState:
		return "STATE"
	case CategoryHandshake:
		return "HANDSHAKE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates whether the local endpoint initiated the connection.
type Role uint8

const (
	// RoleClient indicates the session was dialed locally.
	RoleClient Role = 0
	// RoleServer indicates the session was accepted by a listener.
	RoleServer Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleClient:
		return "CLIENT"
	case RoleServer:
		return "SERVER"
	default:
		return "UNKNOWN"
	}
}

// DataEvent captures bytes moving across the transport or framing layer.
type DataEvent struct {
	// Size is the number of bytes (including the length prefix for framing events).
	Size int `cbor:"1,keyasint"`

	// Data is the payload (may be truncated for large transfers).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent captures connection, channel and listener lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a session state change.
	StateEntityConnection StateEntity = 0
	// StateEntityChannel indicates a TLS channel state change.
	StateEntityChannel StateEntity = 1
	// StateEntityListener indicates a server socket state change.
	StateEntityListener StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityChannel:
		return "CHANNEL"
	case StateEntityListener:
		return "LISTENER"
	default:
		return "UNKNOWN"
	}
}

// HandshakeOutcome is the stage a handshake event reports.
type HandshakeOutcome uint8

const (
	// HandshakeStarted is emitted when the first handshake step runs.
	HandshakeStarted HandshakeOutcome = 0
	// HandshakeCompleted is emitted once the channel is established.
	HandshakeCompleted HandshakeOutcome = 1
	// HandshakeFailed is emitted when negotiation fails permanently.
	HandshakeFailed HandshakeOutcome = 2
)

// String returns the outcome name.
func (o HandshakeOutcome) String() string {
	switch o {
	case HandshakeStarted:
		return "STARTED"
	case HandshakeCompleted:
		return "COMPLETED"
	case HandshakeFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// HandshakeEvent captures TLS negotiation details.
type HandshakeEvent struct {
	// Outcome of this handshake step.
	Outcome HandshakeOutcome `cbor:"1,keyasint"`

	// Version is the negotiated protocol version (e.g. "TLS 1.3").
	Version string `cbor:"2,keyasint,omitempty"`

	// CipherSuite is the negotiated cipher suite name.
	CipherSuite string `cbor:"3,keyasint,omitempty"`

	// ServerName is the SNI value sent or received.
	ServerName string `cbor:"4,keyasint,omitempty"`

	// PeerSubject is the CommonName of the peer's leaf certificate, if any.
	PeerSubject string `cbor:"5,keyasint,omitempty"`

	// Duration from the first handshake step to completion or failure.
	Duration time.Duration `cbor:"6,keyasint,omitempty"`

	// Reason describes a failure.
	Reason string `cbor:"7,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the error kind (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
