package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "funds.lock")

	l, err := AcquireLock(context.Background(), path, fastLock())
	require.NoError(t, err)
	pid, err := LockOwner(path)
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)

	require.NoError(t, l.Release())
	require.NoFileExists(t, path)
	require.NoError(t, l.Release())
}

func TestAcquireContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "funds.lock")
	held, err := AcquireLock(context.Background(), path, fastLock())
	require.NoError(t, err)

	_, err = AcquireLock(context.Background(), path, fastLock())
	require.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, held.Release())
	l, err := AcquireLock(context.Background(), path, fastLock())
	require.NoError(t, err)
	require.NoError(t, l.Release())
}

func TestAcquireWaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "funds.lock")
	held, err := AcquireLock(context.Background(), path, fastLock())
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		held.Release()
	}()
	l, err := AcquireLock(context.Background(), path, LockOptions{Retries: 50, InitialInterval: 5 * time.Millisecond, MaxInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, l.Release())
}

func TestAcquireCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "funds.lock")
	held, err := AcquireLock(context.Background(), path, fastLock())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = AcquireLock(ctx, path, DefaultLockOptions())
	require.ErrorIs(t, err, context.Canceled)
}

func TestAcquireReclaimsDeadOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "funds.lock")
	// Above the Linux pid limit, so never a running process.
	require.NoError(t, os.WriteFile(path, []byte("99999999\n"), 0o644))

	l, err := AcquireLock(context.Background(), path, fastLock())
	require.NoError(t, err)
	pid, err := LockOwner(path)
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)
	require.NoError(t, l.Release())

	leftovers, err := filepath.Glob(path + ".stale-*")
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

func TestAcquireKeepsLiveOrUnknownOwner(t *testing.T) {
	for name, owner := range map[string]string{
		"init":    "1",
		"garbage": "not a pid",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "funds.lock")
			require.NoError(t, os.WriteFile(path, []byte(owner), 0o644))

			_, err := AcquireLock(context.Background(), path, fastLock())
			require.ErrorIs(t, err, ErrLockHeld)
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			require.Equal(t, owner, string(data))
		})
	}
}
