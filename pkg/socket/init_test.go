package socket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycle(t *testing.T) {
	var l lifecycle

	assert.ErrorIs(t, l.acquire(), ErrNotInitialized, "acquire before startup")
	assert.ErrorIs(t, l.cleanup(), ErrNotInitialized, "cleanup before startup")

	require.NoError(t, l.startup())
	assert.ErrorIs(t, l.startup(), ErrAlreadyInitialized)
	require.NoError(t, l.check())

	require.NoError(t, l.acquire())
	require.NoError(t, l.acquire())
	l.release()
	assert.Equal(t, 1, l.live)

	err := l.cleanup()
	assert.ErrorIs(t, err, ErrObjectsAlive, "cleanup reports live handles")
	assert.ErrorIs(t, l.check(), ErrTornDown, "cleanup tears down regardless")

	assert.ErrorIs(t, l.startup(), ErrTornDown)
	assert.ErrorIs(t, l.acquire(), ErrTornDown)

	l.release()
	l.release()
	assert.Equal(t, 0, l.live, "release never goes negative")
}

func TestLifecycleCleanCleanup(t *testing.T) {
	var l lifecycle
	require.NoError(t, l.startup())
	require.NoError(t, l.acquire())
	l.release()
	assert.NoError(t, l.cleanup())
}
