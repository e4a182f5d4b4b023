// Package lockfile wraps the OS advisory file-locking primitives the
// shard manager builds on: shared locks for readers, exclusive locks
// for writers, non-blocking so callers own their retry policy. On
// platforms with no file locking (wasm) every call is a no-op — those
// environments are single-process by construction.
package lockfile

import "errors"

// ErrLockBusy is returned when a non-blocking lock cannot be acquired
// because another process holds a conflicting lock.
var ErrLockBusy = errors.New("lock busy: held by another process")

// IsBusy reports whether err means the lock is held elsewhere (retry
// may succeed) as opposed to a real I/O failure.
func IsBusy(err error) bool {
	return errors.Is(err, ErrLockBusy)
}
