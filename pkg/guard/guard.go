// Package guard provides cross-process mutual exclusion for the live
// scheduler instance.
//
// Multi-worker deployments start several identical OS processes; each tries
// to initialize scheduling at boot. The guard is an advisory exclusive file
// lock: exactly one process wins, the others keep serving requests without a
// scheduler. The OS releases the lock when the holder exits or crashes, so a
// restarted process can always reacquire without manual cleanup.
package guard

import (
	"github.com/gofrs/flock"
)

// FileLock is a non-blocking single-instance guard over a well-known
// filesystem path.
type FileLock struct {
	lock *flock.Flock
}

// New creates a guard for the given lock file path. The file is created on
// first acquisition and intentionally left in place afterwards.
func New(path string) *FileLock {
	return &FileLock{lock: flock.New(path)}
}

// TryAcquire attempts to take the exclusive lock without blocking.
// It returns (false, nil) when another process already holds it; that is an
// expected, non-error condition. Callers must not retry in a loop.
func (g *FileLock) TryAcquire() (bool, error) {
	return g.lock.TryLock()
}

// Release drops the lock on graceful shutdown. Safe to call when the lock
// was never acquired.
func (g *FileLock) Release() error {
	return g.lock.Unlock()
}

// Path returns the lock file path.
func (g *FileLock) Path() string {
	return g.lock.Path()
}
