// Package socket implements plain and TLS byte-stream sessions over
// non-blocking TCP sockets, with explicit timeouts on every blocking call.
//
// The layers, bottom up:
//
//   - Resolver turns a host and port into an Endpoint.
//   - Transport owns one non-blocking OS socket and offers Send, Recv and
//     Poll. It never blocks longer than asked.
//   - Channel is the TLS state machine (Idle, Handshaking, Established,
//     Failed, Closed) driven over a Transport.
//   - Session is a connected stream. It offers three read primitives:
//     ReadAvailable (best effort), ReadExact (all or nothing) and
//     ReadPacket (2-byte big-endian length prefix).
//   - Server listens and accepts Sessions, running the TLS server
//     handshake inline when credentials are installed.
//
// # Results
//
// Every operation returns nil, a KindTimeout error, or another *Error.
// StatusOf maps an error to StatusOK, StatusTimeout or StatusError.
// Timeouts are always retryable. Hard failures leave a Session broken, and
// the only useful next call is Close. Each object also keeps its most
// recent failure, available from LastError and LastErrString.
//
// # Timeouts
//
// A zero timeout makes one non-blocking attempt. Infinite is accepted by
// Session.WaitEvent, Session.PollConnect, Server.WaitEvent and
// Server.Accept; elsewhere a negative timeout means the session IO timeout.
//
// # Connecting
//
//	if err := socket.Startup(); err != nil {
//		return err
//	}
//	defer socket.Cleanup()
//
//	ep, err := socket.Resolve("localhost", 4433)
//	if err != nil {
//		return err
//	}
//	s, err := socket.ConnectAsync(ep, true)
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	for {
//		err := s.PollConnect(100 * time.Millisecond)
//		if err == nil {
//			break
//		}
//		if socket.StatusOf(err) != socket.StatusTimeout {
//			return err
//		}
//	}
//	err = s.SendPacket([]byte("HELLO"))
//
// # Concurrency
//
// A Session serializes readers and writers separately, so one goroutine
// may read while another writes. Close may be called from any goroutine
// and makes blocked calls on that object return promptly. A client's
// PollConnect and a server's Accept for the same connection only meet
// through the bytes on the wire, so they can run on independent
// goroutines without shared state.
package socket
