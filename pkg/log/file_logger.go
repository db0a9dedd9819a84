package log

import (
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// DefaultMaxCapture is the default number of payload bytes kept per DataEvent.
const DefaultMaxCapture = 256

// FileLogger appends events to a .hlog file as a CBOR sequence.
// It is safe for concurrent use.
type FileLogger struct {
	mu      sync.Mutex
	file    *os.File
	encoder *cbor.Encoder
	closed  bool
	dropped uint64

	// MaxCapture bounds the bytes stored in DataEvent.Data. Zero keeps
	// sizes only; negative keeps everything.
	MaxCapture int
}

// NewFileLogger opens (or creates) path for appending.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &FileLogger{
		file:       f,
		encoder:    NewEncoder(f),
		MaxCapture: DefaultMaxCapture,
	}, nil
}

// Log writes event to the file. Encoding failures are counted, not returned.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	if event.Data != nil {
		d := TruncateData(*event.Data, l.MaxCapture)
		event.Data = &d
	}
	if err := l.encoder.Encode(event); err != nil {
		l.dropped++
	}
}

// Dropped reports how many events failed to encode.
func (l *FileLogger) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Close closes the file. Later Log calls are ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

// TruncateData returns a copy of d with Data cut to at most limit bytes.
// A negative limit keeps the full payload.
func TruncateData(d DataEvent, limit int) DataEvent {
	if limit < 0 || len(d.Data) <= limit {
		return d
	}
	d.Data = append([]byte(nil), d.Data[:limit]...)
	d.Truncated = true
	return d
}

var _ Logger = (*FileLogger)(nil)
