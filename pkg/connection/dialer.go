package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hsmlink/hsmlink-go/pkg/socket"
)

// DefaultPollSlice is how long SessionDialer waits in each PollConnect.
const DefaultPollSlice = 100 * time.Millisecond

// SessionDialer connects socket sessions for a Manager. The latest
// connected session is available from Session.
type SessionDialer struct {
	Host    string
	Port    int
	Options socket.ConnectOptions

	// Resolver defaults to socket.DefaultResolver.
	Resolver *socket.Resolver

	// PollSlice bounds each PollConnect call. Zero uses DefaultPollSlice.
	PollSlice time.Duration

	mu      sync.Mutex
	session *socket.Session
}

// Connect resolves the server and drives a new session to Connected. It
// replaces and closes any previous session. ctx cancellation aborts the
// attempt.
func (d *SessionDialer) Connect(ctx context.Context) error {
	r := d.Resolver
	if r == nil {
		r = socket.DefaultResolver
	}
	ep, err := r.Resolve(d.Host, d.Port)
	if err != nil {
		return err
	}
	s, err := socket.ConnectAsyncWith(ep, d.Options)
	if err != nil {
		return err
	}

	slice := d.PollSlice
	if slice <= 0 {
		slice = DefaultPollSlice
	}
	for {
		err := s.PollConnect(slice)
		if err == nil {
			break
		}
		if !errors.Is(err, socket.ErrTimeout) {
			s.Close()
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.Close()
			return ctxErr
		}
	}

	d.mu.Lock()
	old := d.session
	d.session = s
	d.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// Session returns the most recently connected session, or nil.
func (d *SessionDialer) Session() *socket.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

// Close closes the current session.
func (d *SessionDialer) Close() error {
	d.mu.Lock()
	s := d.session
	d.session = nil
	d.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

var _ ConnectFunc = (&SessionDialer{}).Connect
