package socket

import (
	"errors"
	"fmt"
	"sync"
)

// Kind classifies a socket failure.
type Kind int

const (
	KindNone Kind = iota
	KindResolution
	KindConnect
	KindHandshake
	KindTimeout
	KindPeerClosed
	KindIO
	KindFraming
	KindState

	// KindWouldBlock is only returned by Transport; sessions retry it.
	KindWouldBlock
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindResolution:
		return "resolution"
	case KindConnect:
		return "connect"
	case KindHandshake:
		return "handshake"
	case KindTimeout:
		return "timeout"
	case KindPeerClosed:
		return "peer closed"
	case KindIO:
		return "io"
	case KindFraming:
		return "framing"
	case KindState:
		return "state"
	case KindWouldBlock:
		return "would block"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the error type returned by every socket operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches kind-only sentinels such as ErrTimeout.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Timeout reports whether the failure is retryable by waiting longer.
func (e *Error) Timeout() bool { return e.Kind == KindTimeout }

// Kind sentinels, matched with errors.Is.
var (
	ErrResolution = &Error{Kind: KindResolution}
	ErrConnect    = &Error{Kind: KindConnect}
	ErrHandshake  = &Error{Kind: KindHandshake}
	ErrTimeout    = &Error{Kind: KindTimeout}
	ErrPeerClosed = &Error{Kind: KindPeerClosed}
	ErrIO         = &Error{Kind: KindIO}
	ErrFraming    = &Error{Kind: KindFraming}
	ErrState      = &Error{Kind: KindState}
	ErrWouldBlock = &Error{Kind: KindWouldBlock}
)

// Causes carried in Error.Err.
var (
	ErrPacketTooLarge     = errors.New("packet exceeds limit")
	ErrNotConnected       = errors.New("not connected")
	ErrNotListening       = errors.New("not listening")
	ErrClosed             = errors.New("use of closed socket")
	ErrBroken             = errors.New("session unusable after earlier failure")
	ErrInvalidPort        = errors.New("invalid port")
	ErrFamilyMismatch     = errors.New("address family mismatch")
	ErrNoAddress          = errors.New("no address for host")
	ErrNoCredential       = errors.New("no credential installed")
	ErrUnsupported        = errors.New("raw sockets not supported on this platform")
	ErrNotInitialized     = errors.New("socket layer not initialized")
	ErrAlreadyInitialized = errors.New("socket layer already initialized")
	ErrTornDown           = errors.New("socket layer already torn down")
	ErrObjectsAlive       = errors.New("socket objects still open at teardown")
)

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err: KindNone for nil, KindIO for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindIO
}

// Status is the tagged result of a socket call.
type Status int

const (
	StatusOK Status = iota
	StatusTimeout
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusTimeout:
		return "TIMEOUT"
	default:
		return "ERROR"
	}
}

// StatusOf maps an error to OK, Timeout or Error.
func StatusOf(err error) Status {
	switch KindOf(err) {
	case KindNone:
		return StatusOK
	case KindTimeout:
		return StatusTimeout
	default:
		return StatusError
	}
}

// LastError is the most recent failure recorded on a socket object.
type LastError struct {
	Code    Kind
	Message string
}

func (e LastError) String() string {
	if e.Code == KindNone {
		return ""
	}
	return e.Message
}

// errorSlot holds an object's LastError. Successful calls leave it alone.
type errorSlot struct {
	mu   sync.Mutex
	last LastError
}

// record stores err (if non-nil) and returns it unchanged.
func (s *errorSlot) record(err error) error {
	if err == nil {
		return nil
	}
	s.mu.Lock()
	s.last = LastError{Code: KindOf(err), Message: err.Error()}
	s.mu.Unlock()
	return err
}

func (s *errorSlot) get() LastError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
