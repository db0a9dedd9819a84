package log

// Logger receives protocol events from sessions and servers.
//
// Log is called on the goroutine doing the socket I/O, often with a
// session lock held, so it must not block and must not call back into the
// socket that produced the event. Implementations must be safe for
// concurrent use. A nil Logger disables capture.
type Logger interface {
	Log(event Event)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(Event)

func (f LoggerFunc) Log(event Event) { f(event) }

// NoopLogger drops every event. The zero value is ready to use.
type NoopLogger struct{}

func (NoopLogger) Log(Event) {}

var (
	_ Logger = NoopLogger{}
	_ Logger = LoggerFunc(nil)
)
