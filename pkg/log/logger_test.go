package log

import (
	"testing"
	"time"
)

func TestNoopLoggerAcceptsEveryPayload(t *testing.T) {
	logger := NoopLogger{}
	event := Event{
		Timestamp:    time.Now(),
		ConnectionID: "test-conn",
		Layer:        LayerTransport,
		Category:     CategoryData,
	}

	logger.Log(event)

	event.Data = &DataEvent{Size: 3, Data: []byte{1, 2, 3}}
	logger.Log(event)

	event.Data = nil
	event.StateChange = &StateChangeEvent{Entity: StateEntityConnection, NewState: "CONNECTED"}
	logger.Log(event)

	event.StateChange = nil
	event.Handshake = &HandshakeEvent{Outcome: HandshakeCompleted}
	logger.Log(event)

	event.Handshake = nil
	event.Error = &ErrorEventData{Message: "boom"}
	logger.Log(event)
}

func TestLoggerFunc(t *testing.T) {
	var got []Event
	var logger Logger = LoggerFunc(func(e Event) { got = append(got, e) })

	logger.Log(Event{ConnectionID: "a"})
	logger.Log(Event{ConnectionID: "b", Category: CategoryError})

	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[1].ConnectionID != "b" || got[1].Category != CategoryError {
		t.Errorf("unexpected event: %+v", got[1])
	}
}

func TestLoggerFuncInMultiLogger(t *testing.T) {
	count := 0
	m := NewMultiLogger(NoopLogger{}, LoggerFunc(func(Event) { count++ }))
	m.Log(Event{})
	m.Log(Event{})
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}
