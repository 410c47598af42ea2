package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/process"
)

// ErrLockHeld is returned when the lock file stayed taken after every retry.
var ErrLockHeld = errors.New("store lock held by another writer")

// LockOptions controls the acquisition retry schedule.
type LockOptions struct {
	Retries         uint64        `yaml:"retries"`
	InitialInterval time.Duration `yaml:"-"`
	MaxInterval     time.Duration `yaml:"-"`
}

// DefaultLockOptions: 10 retries, 200ms doubling up to 2s.
func DefaultLockOptions() LockOptions {
	return LockOptions{Retries: 10, InitialInterval: 200 * time.Millisecond, MaxInterval: 2 * time.Second}
}

func (o LockOptions) withDefaults() LockOptions {
	d := DefaultLockOptions()
	if o.InitialInterval <= 0 {
		o.InitialInterval = d.InitialInterval
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = d.MaxInterval
	}
	return o
}

// LockFile is an advisory cross-process lock: a file created exclusively and
// holding the owner's pid.
type LockFile struct {
	path string
	held bool
}

// AcquireLock creates path exclusively, retrying with exponential backoff.
// A lock whose owner pid is no longer running is reclaimed. It returns
// ErrLockHeld when retries run out, or ctx's error if cancelled.
func AcquireLock(ctx context.Context, path string, opts LockOptions) (*LockFile, error) {
	opts = opts.withDefaults()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = opts.InitialInterval
	eb.MaxInterval = opts.MaxInterval
	eb.MaxElapsedTime = 0
	var b backoff.BackOff = backoff.WithContext(backoff.WithMaxRetries(eb, opts.Retries), ctx)

	err := backoff.Retry(func() error {
		err := createLock(path)
		if errors.Is(err, ErrLockHeld) && reclaimStale(ctx, path) {
			err = createLock(path)
		}
		if err != nil && !errors.Is(err, ErrLockHeld) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, ErrLockHeld) {
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, path)
		}
		return nil, fmt.Errorf("create lock %s: %w", path, err)
	}
	return &LockFile{path: path, held: true}, nil
}

func createLock(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrLockHeld
		}
		return err
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(path)
		return errors.Join(werr, cerr)
	}
	return nil
}

// reclaimStale removes the lock at path when the pid it names is not running.
// The file is moved aside before the check so a lock taken meanwhile by a
// live writer is put back instead of deleted. Locks with an unreadable owner
// or owned by this process are left alone.
func reclaimStale(ctx context.Context, path string) bool {
	if !ownerGone(ctx, path) {
		return false
	}
	aside := path + ".stale-" + uuid.NewString()
	if err := os.Rename(path, aside); err != nil {
		return false
	}
	defer os.Remove(aside)
	if !ownerGone(ctx, aside) {
		os.Link(aside, path)
		return false
	}
	return true
}

func ownerGone(ctx context.Context, path string) bool {
	pid, err := LockOwner(path)
	if err != nil || pid <= 0 || pid > math.MaxInt32 || pid == os.Getpid() {
		return false
	}
	alive, err := process.PidExistsWithContext(ctx, int32(pid))
	return err == nil && !alive
}

// Path returns the lock file location.
func (l *LockFile) Path() string { return l.path }

// Release removes the lock file. Safe to call more than once.
func (l *LockFile) Release() error {
	if l == nil || !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// LockOwner returns the pid written in an existing lock file.
func LockOwner(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
