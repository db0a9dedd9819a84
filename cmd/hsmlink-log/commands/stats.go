package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/hsmlink/hsmlink-go/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	BytesByDirection  map[log.Direction]int
	PacketsByDir      map[log.Direction]int
	Handshakes        map[log.HandshakeOutcome]int
	CipherSuites      map[string]int
	Connections       map[string]*ConnectionStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for a single session.
type ConnectionStats struct {
	FirstSeen  time.Time
	LastSeen   time.Time
	Events     int
	Role       log.Role
	RemoteAddr string
	Packets    int
	LastState  string
}

func newStats() *Stats {
	return &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		BytesByDirection:  make(map[log.Direction]int),
		PacketsByDir:      make(map[log.Direction]int),
		Handshakes:        make(map[log.HandshakeOutcome]int),
		CipherSuites:      make(map[string]int),
		Connections:       make(map[string]*ConnectionStats),
	}
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	conn := s.connection(event)
	switch {
	case event.Data != nil:
		s.EventsByDirection[event.Direction]++
		if event.Layer == log.LayerFraming {
			s.PacketsByDir[event.Direction]++
			if conn != nil {
				conn.Packets++
			}
		} else {
			s.BytesByDirection[event.Direction] += event.Data.Size
		}
	case event.Handshake != nil:
		s.Handshakes[event.Handshake.Outcome]++
		if event.Handshake.Outcome == log.HandshakeCompleted && event.Handshake.CipherSuite != "" {
			s.CipherSuites[event.Handshake.CipherSuite]++
		}
		if event.Handshake.Outcome == log.HandshakeFailed {
			s.Errors++
		}
	case event.StateChange != nil:
		if conn != nil && event.StateChange.Entity == log.StateEntityConnection {
			conn.LastState = event.StateChange.NewState
		}
	case event.Error != nil:
		s.Errors++
	}
}

// connection returns the per-session entry, or nil for listener events.
func (s *Stats) connection(event log.Event) *ConnectionStats {
	if event.ConnectionID == "" {
		return nil
	}
	conn, ok := s.Connections[event.ConnectionID]
	if !ok {
		conn = &ConnectionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp, Role: event.LocalRole}
		s.Connections[event.ConnectionID] = conn
	}
	conn.Events++
	if event.Timestamp.After(conn.LastSeen) {
		conn.LastSeen = event.Timestamp
	}
	if conn.RemoteAddr == "" {
		conn.RemoteAddr = event.RemoteAddr
	}
	return conn
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := newStats()
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}

	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== hsmlink Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerTLS, log.LayerFraming} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryData, log.CategoryState, log.CategoryHandshake, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Traffic:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		fmt.Fprintf(w, "  %-12s %d packets, %d bytes\n", dir.String()+":", stats.PacketsByDir[dir], stats.BytesByDirection[dir])
	}
	fmt.Fprintln(w)

	if len(stats.Handshakes) > 0 {
		fmt.Fprintln(w, "TLS Handshakes:")
		for _, o := range []log.HandshakeOutcome{log.HandshakeStarted, log.HandshakeCompleted, log.HandshakeFailed} {
			if count := stats.Handshakes[o]; count > 0 {
				fmt.Fprintf(w, "  %-12s %d\n", o.String()+":", count)
			}
		}
		suites := make([]string, 0, len(stats.CipherSuites))
		for s := range stats.CipherSuites {
			suites = append(suites, s)
		}
		sort.Strings(suites)
		for _, s := range suites {
			fmt.Fprintf(w, "  %s: %d\n", s, stats.CipherSuites[s])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	if len(stats.Connections) > 0 {
		type connInfo struct {
			id    string
			stats *ConnectionStats
		}
		conns := make([]connInfo, 0, len(stats.Connections))
		for id, cs := range stats.Connections {
			conns = append(conns, connInfo{id, cs})
		}
		sort.Slice(conns, func(i, j int) bool {
			return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, c := range conns {
			duration := c.stats.LastSeen.Sub(c.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %s %d events, %d packets, duration %s\n",
				shortenConnID(c.id), c.stats.Role.String(), c.stats.Events, c.stats.Packets, duration)
			if c.stats.RemoteAddr != "" {
				fmt.Fprintf(w, "           Peer: %s\n", c.stats.RemoteAddr)
			}
			if c.stats.LastState != "" {
				fmt.Fprintf(w, "           State: %s\n", c.stats.LastState)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
