package commands

import (
	"path/filepath"
	"testing"

	"github.com/hsmlink/hsmlink-go/pkg/log"
)

func readAll(t *testing.T, path string) []log.Event {
	t.Helper()
	r, err := log.NewReader(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer r.Close()
	events, err := r.ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return events
}

func TestRunFilter(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())

	tests := []struct {
		name string
		opts FilterOptions
		want int
	}{
		{"connection prefix", FilterOptions{ConnID: "abc12345"}, 6},
		{"framing out", FilterOptions{Layer: "framing", Direction: "out"}, 1},
		{"errors only", FilterOptions{ErrorsOnly: true}, 1},
		{"server role", FilterOptions{Role: "server"}, 1},
		{"remote", FilterOptions{Remote: "127.0.0.1:9443"}, 6},
		{"time window", FilterOptions{TimeStart: "2026-01-28T10:15:33Z"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Output = filepath.Join(t.TempDir(), "out.hlog")
			count, err := RunFilter(path, tt.opts)
			if err != nil {
				t.Fatalf("RunFilter failed: %v", err)
			}
			if count != tt.want {
				t.Errorf("count = %d, want %d", count, tt.want)
			}
			if got := len(readAll(t, tt.opts.Output)); got != tt.want {
				t.Errorf("output has %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestRunFilterKeepsPayload(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	out := filepath.Join(t.TempDir(), "packets.hlog")

	if _, err := RunFilter(path, FilterOptions{Layer: "framing", Output: out}); err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	events := readAll(t, out)
	if len(events) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(events))
	}
	if string(events[0].Data.Data[2:]) != "hello" {
		t.Errorf("payload not preserved: %x", events[0].Data.Data)
	}
}

func TestRunFilterInvalidOption(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	_, err := RunFilter(path, FilterOptions{Layer: "wire", Output: filepath.Join(t.TempDir(), "x.hlog")})
	if err == nil {
		t.Error("expected error for invalid layer")
	}
}
