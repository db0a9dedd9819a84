package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{
		Initial: 10 * time.Millisecond,
		Max:     40 * time.Millisecond,
	})
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", m.State(), want)
}

func TestManager(t *testing.T) {
	t.Run("InitialState", func(t *testing.T) {
		m := NewManager(func(context.Context) error { return nil })
		defer m.Close()
		if m.State() != StateDisconnected || m.IsConnected() {
			t.Errorf("initial state = %v", m.State())
		}
	})

	t.Run("SuccessfulConnect", func(t *testing.T) {
		var called atomic.Bool
		m := NewManager(func(context.Context) error {
			called.Store(true)
			return nil
		})
		defer m.Close()

		var connected atomic.Bool
		m.OnConnected(func() { connected.Store(true) })

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		if !called.Load() || !connected.Load() {
			t.Errorf("connectFn called=%v, OnConnected called=%v", called.Load(), connected.Load())
		}
		if err := m.Connect(context.Background()); err != ErrAlreadyConnected {
			t.Errorf("second Connect() error = %v, want ErrAlreadyConnected", err)
		}
	})

	t.Run("FailedConnect", func(t *testing.T) {
		want := errors.New("connection refused")
		m := NewManager(func(context.Context) error { return want })
		defer m.Close()

		if err := m.Connect(context.Background()); err != want {
			t.Errorf("Connect() error = %v, want %v", err, want)
		}
		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want DISCONNECTED", m.State())
		}
	})

	t.Run("ConnectAfterClose", func(t *testing.T) {
		m := NewManager(func(context.Context) error { return nil })
		m.Close()
		m.Close()
		if err := m.Connect(context.Background()); err != ErrManagerClosed {
			t.Errorf("Connect() error = %v, want ErrManagerClosed", err)
		}
	})

	t.Run("StateChanges", func(t *testing.T) {
		m := NewManager(func(context.Context) error { return nil }, WithAutoReconnect(false))
		defer m.Close()

		type change struct{ old, new State }
		var mu sync.Mutex
		var got []change
		m.OnStateChange(func(old, new State) {
			mu.Lock()
			got = append(got, change{old, new})
			mu.Unlock()
		})
		var disconnected atomic.Bool
		m.OnDisconnected(func() { disconnected.Store(true) })

		m.Connect(context.Background())
		m.Disconnect()

		want := []change{
			{StateDisconnected, StateConnecting},
			{StateConnecting, StateConnected},
			{StateConnected, StateDisconnected},
		}
		mu.Lock()
		defer mu.Unlock()
		if len(got) != len(want) {
			t.Fatalf("got %d transitions %v, want %d", len(got), got, len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("transition %d: got %v→%v, want %v→%v", i, got[i].old, got[i].new, want[i].old, want[i].new)
			}
		}
		if !disconnected.Load() {
			t.Error("OnDisconnected was not called")
		}
	})
}

func TestManagerReconnect(t *testing.T) {
	t.Run("AfterConnectionLost", func(t *testing.T) {
		var count atomic.Int32
		m := NewManager(func(context.Context) error {
			count.Add(1)
			return nil
		}, WithBackoff(fastBackoff()))
		m.StartReconnectLoop()
		m.StartReconnectLoop()
		defer m.Close()

		if err := m.Connect(context.Background()); err != nil {
			t.Fatal(err)
		}
		m.NotifyConnectionLost()
		waitForState(t, m, StateConnected)
		if count.Load() != 2 {
			t.Errorf("connectFn called %d times, want 2", count.Load())
		}
	})

	t.Run("BacksOffOnFailure", func(t *testing.T) {
		var failures atomic.Int32
		m := NewManager(func(context.Context) error {
			if failures.Add(-1) >= 0 {
				return errors.New("not yet")
			}
			return nil
		}, WithBackoff(fastBackoff()))

		var mu sync.Mutex
		var delays []time.Duration
		m.OnReconnecting(func(_ int, d time.Duration) {
			mu.Lock()
			delays = append(delays, d)
			mu.Unlock()
		})
		m.StartReconnectLoop()
		defer m.Close()

		require.NoError(t, m.Connect(context.Background()))
		failures.Store(3)
		m.NotifyConnectionLost()
		waitForState(t, m, StateConnected)

		mu.Lock()
		defer mu.Unlock()
		want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 40 * time.Millisecond}
		assert.Equal(t, want, delays)
		if m.BackoffAttempts() != 0 {
			t.Errorf("BackoffAttempts() = %d after success, want 0", m.BackoffAttempts())
		}
	})

	t.Run("AttemptTimeout", func(t *testing.T) {
		var count atomic.Int32
		m := NewManager(func(ctx context.Context) error {
			if count.Add(1) == 2 {
				<-ctx.Done()
				return ctx.Err()
			}
			return nil
		}, WithBackoff(fastBackoff()), WithAttemptTimeout(20*time.Millisecond))
		m.StartReconnectLoop()
		defer m.Close()

		m.Connect(context.Background())
		m.NotifyConnectionLost()
		waitForState(t, m, StateConnected)
		if count.Load() != 3 {
			t.Errorf("connectFn called %d times, want 3", count.Load())
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		var count atomic.Int32
		m := NewManager(func(context.Context) error {
			count.Add(1)
			return nil
		}, WithBackoff(fastBackoff()))
		m.SetAutoReconnect(false)
		m.StartReconnectLoop()
		defer m.Close()

		m.Connect(context.Background())
		m.NotifyConnectionLost()
		time.Sleep(50 * time.Millisecond)

		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want DISCONNECTED", m.State())
		}
		if count.Load() != 1 {
			t.Errorf("connectFn called %d times, want 1", count.Load())
		}
	})

	t.Run("CloseStopsLoop", func(t *testing.T) {
		m := NewManager(func(context.Context) error { return errors.New("down") }, WithBackoff(fastBackoff()))
		m.StartReconnectLoop()
		m.mu.Lock()
		m.state = StateConnected
		m.mu.Unlock()
		m.NotifyConnectionLost()
		time.Sleep(30 * time.Millisecond)

		done := make(chan struct{})
		go func() {
			m.Close()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Close did not stop the reconnect loop")
		}
		if m.State() != StateClosed {
			t.Errorf("State() = %v, want CLOSED", m.State())
		}
	})
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateReconnecting, "RECONNECTING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
