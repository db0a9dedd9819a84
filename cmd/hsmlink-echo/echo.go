package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hsmlink/hsmlink-go/pkg/socket"
)

// EchoServer accepts sessions on a socket.Server and writes every packet
// it receives back to the sender.
type EchoServer struct {
	srv    *socket.Server
	logger *slog.Logger

	// AcceptTimeout bounds each Accept so Run notices cancellation.
	AcceptTimeout time.Duration

	// PollSlice bounds each ReadPacket for the same reason.
	PollSlice time.Duration

	mu       sync.Mutex
	sessions map[string]*socket.Session
	wg       sync.WaitGroup
}

// NewEchoServer wraps an open server.
func NewEchoServer(srv *socket.Server, logger *slog.Logger) *EchoServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EchoServer{
		srv:           srv,
		logger:        logger,
		AcceptTimeout: time.Second,
		PollSlice:     250 * time.Millisecond,
		sessions:      make(map[string]*socket.Session),
	}
}

// Run accepts sessions until ctx is cancelled or the server is closed,
// then closes every live session and waits for their handlers.
func (e *EchoServer) Run(ctx context.Context) error {
	defer e.shutdown()

	for {
		if ctx.Err() != nil {
			return nil
		}
		sess, err := e.srv.Accept(e.AcceptTimeout)
		switch socket.StatusOf(err) {
		case socket.StatusTimeout:
			continue
		case socket.StatusError:
			if errors.Is(err, socket.ErrClosed) {
				return nil
			}
			if socket.KindOf(err) == socket.KindHandshake {
				e.logger.Warn("handshake failed", "error", err)
				continue
			}
			return err
		}

		e.track(sess)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer e.untrack(sess)
			e.serve(ctx, sess)
		}()
	}
}

// Sessions returns the number of live sessions.
func (e *EchoServer) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

func (e *EchoServer) serve(ctx context.Context, sess *socket.Session) {
	logger := e.logger.With("session", sess.ID(), "peer", sess.RemoteAddr())
	attrs := []any{"tls", sess.IsTLS()}
	if sess.IsTLS() {
		attrs = append(attrs, "cipher", sess.CipherSuite())
		if peers := sess.PeerCertificates(); len(peers) > 0 {
			attrs = append(attrs, "client", peers[0].Subject.CommonName)
		}
	}
	logger.Info("session accepted", attrs...)

	buf := make([]byte, sess.MaxPacketSize())
	packets := 0
	for ctx.Err() == nil {
		n, err := sess.ReadPacket(buf, e.PollSlice)
		switch {
		case err == nil:
		case errors.Is(err, socket.ErrTimeout):
			continue
		case errors.Is(err, socket.ErrPacketTooLarge):
			logger.Warn("dropped oversize packet", "error", err)
			continue
		case errors.Is(err, socket.ErrPeerClosed):
			logger.Info("session closed by peer", "packets", packets)
			return
		case errors.Is(err, socket.ErrClosed):
			return
		default:
			logger.Error("read failed", "error", err)
			return
		}

		if err := sess.SendPacket(buf[:n]); err != nil {
			logger.Error("echo failed", "error", err)
			return
		}
		packets++
		logger.Debug("echoed packet", "size", n)
	}
}

func (e *EchoServer) track(sess *socket.Session) {
	e.mu.Lock()
	e.sessions[sess.ID()] = sess
	e.mu.Unlock()
}

func (e *EchoServer) untrack(sess *socket.Session) {
	e.mu.Lock()
	delete(e.sessions, sess.ID())
	e.mu.Unlock()
	sess.Close()
}

func (e *EchoServer) shutdown() {
	e.mu.Lock()
	for _, s := range e.sessions {
		s.Close()
	}
	e.mu.Unlock()
	e.wg.Wait()
}
