package log

import (
	"bytes"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestFileLoggerWritesAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "link.hlog")

	fl, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	fl.Log(Event{Timestamp: time.Now(), ConnectionID: "a"})
	if err := fl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fl, err = NewFileLogger(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	fl.Log(Event{Timestamp: time.Now(), ConnectionID: "b"})
	fl.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	events, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(events) != 2 || events[0].ConnectionID != "a" || events[1].ConnectionID != "b" {
		t.Fatalf("got %+v, want events a then b", events)
	}
}

func TestFileLoggerTruncatesPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trunc.hlog")
	fl, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	fl.MaxCapture = 4
	payload := bytes.Repeat([]byte{0xAB}, 100)
	fl.Log(Event{Data: &DataEvent{Size: len(payload), Data: payload}})
	fl.Close()

	if len(payload) != 100 {
		t.Fatal("caller's payload must not be modified")
	}

	r, _ := NewReader(path)
	defer r.Close()
	e, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if e.Data.Size != 100 || len(e.Data.Data) != 4 || !e.Data.Truncated {
		t.Errorf("got size=%d len=%d truncated=%v", e.Data.Size, len(e.Data.Data), e.Data.Truncated)
	}
}

func TestFileLoggerIgnoresLogAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.hlog")
	fl, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	fl.Close()
	fl.Log(Event{ConnectionID: "late"})
	if err := fl.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	r, _ := NewReader(path)
	defer r.Close()
	events, _ := r.ReadAll()
	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
}

func TestFileLoggerConcurrentLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concurrent.hlog")
	fl, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				fl.Log(Event{Data: &DataEvent{Size: i}})
			}
		}()
	}
	wg.Wait()
	fl.Close()

	r, _ := NewReader(path)
	defer r.Close()
	events, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(events) != 400 {
		t.Errorf("got %d events, want 400", len(events))
	}
	if fl.Dropped() != 0 {
		t.Errorf("Dropped = %d", fl.Dropped())
	}
}

func TestTruncateDataNegativeLimitKeepsAll(t *testing.T) {
	d := TruncateData(DataEvent{Size: 3, Data: []byte{1, 2, 3}}, -1)
	if len(d.Data) != 3 || d.Truncated {
		t.Errorf("got %+v", d)
	}
	d = TruncateData(DataEvent{Size: 3, Data: []byte{1, 2, 3}}, 0)
	if len(d.Data) != 0 || !d.Truncated {
		t.Errorf("got %+v", d)
	}
}
