package socket

import (
	"fmt"
	"sync"
)

type lifecycleState int

const (
	stateIdle lifecycleState = iota
	stateRunning
	stateTornDown
)

// lifecycle guards process-wide startup and counts live handles.
type lifecycle struct {
	mu    sync.Mutex
	state lifecycleState
	live  int
}

var process lifecycle

// Startup initializes the socket layer. It must be called once before any
// Transport, Session or Server is created.
func Startup() error { return process.startup() }

// Cleanup tears the socket layer down. It reports ErrObjectsAlive if
// handles are still open, but tears down regardless.
func Cleanup() error { return process.cleanup() }

func (l *lifecycle) startup() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case stateRunning:
		return ErrAlreadyInitialized
	case stateTornDown:
		return ErrTornDown
	}
	l.state = stateRunning
	return nil
}

func (l *lifecycle) cleanup() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != stateRunning {
		return ErrNotInitialized
	}
	l.state = stateTornDown
	if l.live > 0 {
		return fmt.Errorf("%w: %d", ErrObjectsAlive, l.live)
	}
	return nil
}

func (l *lifecycle) check() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkLocked()
}

func (l *lifecycle) checkLocked() error {
	switch l.state {
	case stateIdle:
		return ErrNotInitialized
	case stateTornDown:
		return ErrTornDown
	}
	return nil
}

// acquire registers a new OS handle.
func (l *lifecycle) acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLocked(); err != nil {
		return err
	}
	l.live++
	return nil
}

func (l *lifecycle) release() {
	l.mu.Lock()
	if l.live > 0 {
		l.live--
	}
	l.mu.Unlock()
}

// Live returns the number of open OS socket handles.
func Live() int {
	process.mu.Lock()
	defer process.mu.Unlock()
	return process.live
}
