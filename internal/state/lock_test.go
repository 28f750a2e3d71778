package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_Exclusive(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "state")

	unlock, err := Lock(dir)
	require.NoError(t, err)
	assert.DirExists(t, dir)

	_, err = Lock(dir)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, unlock())

	unlock, err = Lock(dir)
	require.NoError(t, err)
	require.NoError(t, unlock())
}

func TestDatabasePath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filepath.Join("/var/kleen", "kleen.db"), DatabasePath("/var/kleen"))
}
