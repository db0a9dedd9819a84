package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hsmlink/hsmlink-go/pkg/connection"
	"github.com/hsmlink/hsmlink-go/pkg/socket"
)

// ErrNotConnected is returned by Exchange while the link is down.
var ErrNotConnected = errors.New("not connected")

// Client sends packets over a managed session and reads the replies.
// A hard session failure hands the link to the manager's reconnect loop.
type Client struct {
	dialer  *connection.SessionDialer
	manager *connection.Manager
	logger  *slog.Logger

	// ReplyTimeout bounds the wait for each reply.
	ReplyTimeout time.Duration

	mu   sync.Mutex
	sent int
	recv int
	buf  []byte
}

// NewClient builds a client for dialer. opts configure the manager.
func NewClient(dialer *connection.SessionDialer, logger *slog.Logger, opts ...connection.Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]connection.Option{connection.WithLogger(logger)}, opts...)
	c := &Client{
		dialer:       dialer,
		logger:       logger,
		ReplyTimeout: 5 * time.Second,
		buf:          make([]byte, socket.MaxPacketSize),
	}
	c.manager = connection.NewManager(dialer.Connect, opts...)
	c.manager.OnDisconnected(func() { dialer.Close() })
	return c
}

// Manager exposes the connection manager for state hooks.
func (c *Client) Manager() *connection.Manager { return c.manager }

// Connect makes the first connection and starts the reconnect loop.
func (c *Client) Connect(ctx context.Context) error {
	c.manager.StartReconnectLoop()
	return c.manager.Connect(ctx)
}

// Exchange sends payload as one packet and returns the next packet
// received. Exchanges are serialized.
func (c *Client) Exchange(payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.dialer.Session()
	if sess == nil || !c.manager.IsConnected() {
		return nil, ErrNotConnected
	}
	if err := sess.SendPacket(payload); err != nil {
		return nil, c.fail(sess, err)
	}
	c.sent++

	n, err := sess.ReadPacket(c.buf, c.ReplyTimeout)
	switch socket.StatusOf(err) {
	case socket.StatusTimeout:
		return nil, fmt.Errorf("no reply within %s: %w", c.ReplyTimeout, err)
	case socket.StatusError:
		if errors.Is(err, socket.ErrPacketTooLarge) {
			return nil, err
		}
		return nil, c.fail(sess, err)
	}
	c.recv++
	return append([]byte(nil), c.buf[:n]...), nil
}

// fail reports a broken session to the manager.
func (c *Client) fail(sess *socket.Session, err error) error {
	c.logger.Warn("session failed", "session", sess.ID(), "error", err, "last_error", sess.LastErrString())
	c.manager.NotifyConnectionLost()
	return err
}

// Status summarizes the link for the status command.
type Status struct {
	State       connection.State
	Session     string
	Remote      string
	TLS         bool
	CipherSuite string
	Sent        int
	Received    int
	Reconnects  int
}

func (c *Client) Status() Status {
	c.mu.Lock()
	st := Status{State: c.manager.State(), Sent: c.sent, Received: c.recv, Reconnects: c.manager.BackoffAttempts()}
	c.mu.Unlock()
	if sess := c.dialer.Session(); sess != nil {
		st.Session = sess.ID()
		st.Remote = sess.RemoteAddr().String()
		st.TLS = sess.IsTLS()
		st.CipherSuite = sess.CipherSuite()
	}
	return st
}

// Reconnect drops the current session. With auto-reconnect on the
// manager dials again in the background; otherwise Reconnect dials in the
// foreground.
func (c *Client) Reconnect(ctx context.Context) error {
	c.manager.Disconnect()
	if c.manager.State() != connection.StateDisconnected {
		return nil
	}
	return c.manager.Connect(ctx)
}

// Close stops reconnecting and closes the session.
func (c *Client) Close() {
	c.manager.Close()
	c.dialer.Close()
}
