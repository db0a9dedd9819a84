// Package log provides structured protocol event capture for hsmlink sockets.
//
// This package defines the Logger interface and Event types for capturing
// socket-level events at multiple layers (transport, TLS, framing).
// It is separate from operational logging (slog): the socket layer never
// formats or prints anything itself, it only hands Events to a Logger.
//
// # Basic Usage
//
// Applications enable capture by installing a Logger on a socket:
//
//	// For development: log to console via slog
//	srv.SetLogger(log.NewSlogAdapter(slog.Default()))
//
//	// For production: write to binary file
//	fl, _ := log.NewFileLogger("/var/log/hsmlink/link.hlog")
//	session.SetLogger(fl)
//
//	// Both: use MultiLogger
//	session.SetLogger(log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fl,
//	))
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: raw bytes sent and received (DataEvent)
//   - TLS: handshake progress and negotiated parameters (HandshakeEvent)
//   - Framing: length-prefixed packets (DataEvent)
//
// State transitions and errors have dedicated event types.
//
// # File Format
//
// Log files use CBOR encoding with .hlog extension. The hsmlink-log CLI tool
// provides viewing, filtering, and export capabilities.
package log
