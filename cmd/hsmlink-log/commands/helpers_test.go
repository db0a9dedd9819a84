package commands

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hsmlink/hsmlink-go/pkg/log"
)

var testTime = time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)

// createTestLogFile writes events to a fresh .hlog file.
func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.hlog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	logger.MaxCapture = -1
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}
	return path
}

// sessionEvents is a short TLS session as the socket layer logs it.
func sessionEvents() []log.Event {
	const conn = "abc12345-6789-0123-4567-890abcdef012"
	code := 5
	return []log.Event{
		{
			Timestamp:    testTime,
			ConnectionID: conn,
			Layer:        log.LayerTransport,
			Category:     log.CategoryState,
			LocalRole:    log.RoleClient,
			RemoteAddr:   "127.0.0.1:9443",
			StateChange:  &log.StateChangeEvent{Entity: log.StateEntityConnection, OldState: "DISCONNECTED", NewState: "CONNECTED"},
		},
		{
			Timestamp:    testTime.Add(time.Millisecond),
			ConnectionID: conn,
			Layer:        log.LayerTLS,
			Category:     log.CategoryHandshake,
			LocalRole:    log.RoleClient,
			RemoteAddr:   "127.0.0.1:9443",
			Handshake: &log.HandshakeEvent{
				Outcome:     log.HandshakeCompleted,
				Version:     "TLS 1.3",
				CipherSuite: "TLS_AES_128_GCM_SHA256",
				ServerName:  "localhost",
				Duration:    3 * time.Millisecond,
			},
		},
		{
			Timestamp:    testTime.Add(2 * time.Millisecond),
			ConnectionID: conn,
			Direction:    log.DirectionOut,
			Layer:        log.LayerFraming,
			Category:     log.CategoryData,
			LocalRole:    log.RoleClient,
			RemoteAddr:   "127.0.0.1:9443",
			Data:         &log.DataEvent{Size: 7, Data: []byte{0x00, 0x05, 'h', 'e', 'l', 'l', 'o'}},
		},
		{
			Timestamp:    testTime.Add(3 * time.Millisecond),
			ConnectionID: conn,
			Direction:    log.DirectionIn,
			Layer:        log.LayerFraming,
			Category:     log.CategoryData,
			LocalRole:    log.RoleClient,
			RemoteAddr:   "127.0.0.1:9443",
			Data:         &log.DataEvent{Size: 7, Data: []byte{0x00, 0x05, 'h', 'e', 'l', 'l', 'o'}},
		},
		{
			Timestamp:    testTime.Add(4 * time.Millisecond),
			ConnectionID: conn,
			Direction:    log.DirectionIn,
			Layer:        log.LayerTransport,
			Category:     log.CategoryData,
			LocalRole:    log.RoleClient,
			RemoteAddr:   "127.0.0.1:9443",
			Data:         &log.DataEvent{Size: 29},
		},
		{
			Timestamp:    testTime.Add(5 * time.Second),
			ConnectionID: conn,
			Layer:        log.LayerTransport,
			Category:     log.CategoryError,
			LocalRole:    log.RoleClient,
			RemoteAddr:   "127.0.0.1:9443",
			Error:        &log.ErrorEventData{Layer: log.LayerTransport, Message: "peer closed the connection", Code: &code, Context: "read"},
		},
		{
			Timestamp:   testTime.Add(6 * time.Second),
			Layer:       log.LayerTransport,
			Category:    log.CategoryState,
			LocalRole:   log.RoleServer,
			StateChange: &log.StateChangeEvent{Entity: log.StateEntityListener, OldState: "LISTENING", NewState: "CLOSED"},
		},
	}
}
