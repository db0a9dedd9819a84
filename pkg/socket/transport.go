package socket

import (
	"strings"
	"time"
)

// DefaultPollTimeout is used by Transport.Poll when the caller passes a
// negative timeout. Transport never waits without bound.
const DefaultPollTimeout = 5 * time.Second

// listenBacklog is the accept queue length requested by Listen.
const listenBacklog = 128

// Events is a set of readiness conditions.
type Events uint8

const (
	EventReadable Events = 1 << iota
	EventWritable
	EventError
	EventHangup
)

// Has reports whether all of x are set in e.
func (e Events) Has(x Events) bool { return e&x == x }

func (e Events) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	if e.Has(EventReadable) {
		parts = append(parts, "readable")
	}
	if e.Has(EventWritable) {
		parts = append(parts, "writable")
	}
	if e.Has(EventError) {
		parts = append(parts, "error")
	}
	if e.Has(EventHangup) {
		parts = append(parts, "hangup")
	}
	return strings.Join(parts, "|")
}

// pollMillis rounds d up to whole milliseconds for poll(2).
func pollMillis(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > 1<<30 {
		ms = 1 << 30
	}
	return int(ms)
}
