// Package filelock implements pkg/lock.Locker on top of PID lock files on a
// shared filesystem: a third backend alongside pkg/lock's in-process
// KeyedMutex and pkg/lock/redislock's Redis-backed lock, for deployments
// that run more than one server process against a shared disk (e.g. an NFS
// mount) but have no Redis available.
//
// If somebody tries to acquire a lock that is already held, the holder is
// asked to release it by creating a ".stop" sentinel file next to the lock
// file, which the holder polls for. Locks are automatically freed if the
// holding process dies, since the underlying lock file records the PID
// that acquired it.
package filelock

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/tus/lockfile"

	"github.com/kallebysantos/meteoritus/pkg/lock"
)

// Locker creates Locks backed by lock files under Dir.
type Locker struct {
	// Dir is the directory lock and sentinel files are created in. Must
	// already exist.
	Dir string

	// HolderPollInterval is how often a lock holder checks whether a
	// release has been requested. Defaults to 5s if zero.
	HolderPollInterval time.Duration

	// AcquirerPollInterval is how often an acquirer retries a contended
	// lock. Defaults to 2s if zero.
	AcquirerPollInterval time.Duration
}

// New returns a Locker creating lock files under dir.
func New(dir string) *Locker {
	return &Locker{Dir: dir, HolderPollInterval: 5 * time.Second, AcquirerPollInterval: 2 * time.Second}
}

var _ lock.Locker = (*Locker)(nil)

// NewLock returns a Lock scoped to id.
func (l *Locker) NewLock(id string) (lock.Lock, error) {
	path, err := filepath.Abs(filepath.Join(l.Dir, id+".lock"))
	if err != nil {
		return nil, err
	}

	holderPoll := l.HolderPollInterval
	if holderPoll == 0 {
		holderPoll = 5 * time.Second
	}
	acquirerPoll := l.AcquirerPollInterval
	if acquirerPoll == 0 {
		acquirerPoll = 2 * time.Second
	}

	return &fileLock{
		file:                 lockfile.Lockfile(path),
		requestReleaseFile:   filepath.Join(l.Dir, id+".stop"),
		holderPollInterval:   holderPoll,
		acquirerPollInterval: acquirerPoll,
		stopHolderPoll:       make(chan struct{}),
	}, nil
}

type fileLock struct {
	file lockfile.Lockfile

	requestReleaseFile   string
	holderPollInterval   time.Duration
	acquirerPollInterval time.Duration
	stopHolderPoll       chan struct{}
}

// Lock blocks until the lock file is acquired, asking any current holder to
// release via requestRelease.
func (l *fileLock) Lock(ctx context.Context, requestRelease func()) error {
	for {
		err := l.file.TryLock()
		if err == nil {
			break
		}
		if err == lockfile.ErrNotExist {
			// The lock directory isn't visible on disk yet, possibly due to
			// disk load. Wait briefly and retry.
			select {
			case <-ctx.Done():
				return lock.ErrLockTimeout
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}
		if errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err != lockfile.ErrBusy {
			return err
		}

		// Somebody else holds the lock; signal them to release it.
		file, err := os.Create(l.requestReleaseFile)
		if err != nil {
			return err
		}
		file.Close()

		select {
		case <-ctx.Done():
			return lock.ErrLockTimeout
		case <-time.After(l.acquirerPollInterval):
			continue
		}
	}

	go func() {
		for {
			select {
			case <-l.stopHolderPoll:
				return
			case <-time.After(l.holderPollInterval):
				if _, err := os.Stat(l.requestReleaseFile); err == nil {
					requestRelease()
					return
				}
			}
		}
	}()

	return nil
}

// Unlock releases the lock file and removes any pending release request.
func (l *fileLock) Unlock() error {
	close(l.stopHolderPoll)

	err := l.file.Unlock()
	if os.IsNotExist(err) {
		err = nil
	}

	_ = os.Remove(l.requestReleaseFile)

	return err
}
