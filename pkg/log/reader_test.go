package log

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestLog(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.hlog")
	fl, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	for _, e := range events {
		fl.Log(e)
	}
	fl.Close()
	return path
}

func sampleEvents(base time.Time) []Event {
	return []Event{
		{Timestamp: base, ConnectionID: "aaaa-1", Layer: LayerTransport, Category: CategoryData, Direction: DirectionOut, RemoteAddr: "127.0.0.1:1"},
		{Timestamp: base.Add(time.Second), ConnectionID: "aaaa-1", Layer: LayerTLS, Category: CategoryHandshake, Handshake: &HandshakeEvent{Outcome: HandshakeFailed}},
		{Timestamp: base.Add(2 * time.Second), ConnectionID: "bbbb-2", Layer: LayerFraming, Category: CategoryData, LocalRole: RoleServer, Direction: DirectionIn},
		{Timestamp: base.Add(3 * time.Second), ConnectionID: "bbbb-2", Layer: LayerTransport, Category: CategoryError, Error: &ErrorEventData{Message: "x"}},
	}
}

func TestReaderIteratesInOrder(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	path := writeTestLog(t, sampleEvents(base))

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	var got []string
	for {
		e, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, e.Layer.String())
	}
	want := []string{"TRANSPORT", "TLS", "FRAMING", "TRANSPORT"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d layer = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestReaderEmptyFile(t *testing.T) {
	path := writeTestLog(t, nil)
	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next = %v, want io.EOF", err)
	}
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "nope.hlog")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReaderTruncatedRecord(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	path := writeTestLog(t, sampleEvents(base)[:1])
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	r := NewStreamReader(bytes.NewReader(data[:len(data)-3]), Filter{})
	if _, err := r.Next(); err == nil || err == io.EOF {
		t.Errorf("Next = %v, want a decode error", err)
	}
}

func TestFilterMatch(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := sampleEvents(base)

	tls := LayerTLS
	data := CategoryData
	server := RoleServer
	out := DirectionOut
	start := base.Add(time.Second)
	end := base.Add(3 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"empty", Filter{}, 4},
		{"conn prefix", Filter{ConnectionID: "bbbb"}, 2},
		{"layer", Filter{Layer: &tls}, 1},
		{"category", Filter{Category: &data}, 2},
		{"role", Filter{Role: &server}, 1},
		{"direction", Filter{Direction: &out}, 1},
		{"remote", Filter{RemoteAddr: "127.0.0.1:1"}, 1},
		{"time window", Filter{TimeStart: &start, TimeEnd: &end}, 2},
		{"errors only", Filter{ErrorsOnly: true}, 2},
		{"combined", Filter{ConnectionID: "aaaa", Category: &data}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := 0
			for _, e := range events {
				if tt.filter.Match(e) {
					n++
				}
			}
			if n != tt.want {
				t.Errorf("matched %d, want %d", n, tt.want)
			}
		})
	}
}

func TestFilteredReader(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	path := writeTestLog(t, sampleEvents(base))

	r, err := NewFilteredReader(path, Filter{ErrorsOnly: true})
	if err != nil {
		t.Fatalf("NewFilteredReader: %v", err)
	}
	defer r.Close()
	events, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Handshake == nil || events[1].Error == nil {
		t.Errorf("unexpected events %+v", events)
	}
}

func TestStreamReaderCloseIsNoop(t *testing.T) {
	r := NewStreamReader(bytes.NewReader(nil), Filter{})
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
