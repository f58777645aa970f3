package oslock

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempFd(t *testing.T) (int, func()) {
	f, err := os.CreateTemp("", "oslock-test-*")
	require.NoError(t, err)
	require.NoError(t, f.Truncate(64))
	return int(f.Fd()), func() { f.Close(); os.Remove(f.Name()) }
}

func TestSharedLocksCoexist(t *testing.T) {
	fd, cleanup := tempFd(t)
	defer cleanup()

	assert.NoError(t, Lock(fd, 0, Shared, false))
	assert.NoError(t, Lock(fd, 0, Shared, false))
}

func TestExclusiveAgainstSelfSucceeds(t *testing.T) {
	// fcntl locks are per-process (not per-fd); re-requesting a different
	// mode on the same fd from the same process always succeeds, it never
	// conflicts with itself. Conflict tests require a second process,
	// which is exercised in the server package's cross-process tests
	// (server/integration_test.go) via helper subprocesses.
	fd, cleanup := tempFd(t)
	defer cleanup()

	assert.NoError(t, Lock(fd, 1, Exclusive, false))
	assert.NoError(t, Lock(fd, 1, Shared, false))
	assert.NoError(t, Lock(fd, 1, None, false))
}

// A process's own locks never conflict, so this only checks that an
// exclusive lock is accepted at each of word indices 0, 1 and 2; it
// cannot observe whether their anchor bytes overlap.
func TestWordIndexAnchorsDistinctBytes(t *testing.T) {
	fd, cleanup := tempFd(t)
	defer cleanup()

	assert.NoError(t, Lock(fd, 0, Exclusive, false))
	assert.NoError(t, Lock(fd, 1, Exclusive, false))
	assert.NoError(t, Lock(fd, 2, Exclusive, false))
}
