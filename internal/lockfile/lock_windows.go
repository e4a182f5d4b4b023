//go:build windows

package lockfile

import (
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

func lockFileEx(f *os.File, flags uint32) error {
	var overlapped windows.Overlapped
	err := windows.LockFileEx(windows.Handle(f.Fd()), flags, 0, 1, 0, &overlapped)
	if err == syscall.ERROR_LOCK_VIOLATION {
		return ErrLockBusy
	}
	return err
}

// FlockSharedNonBlock acquires a shared non-blocking lock on the file.
// Multiple processes can hold shared locks concurrently. Returns
// ErrLockBusy if an exclusive lock is already held.
func FlockSharedNonBlock(f *os.File) error {
	return lockFileEx(f, windows.LOCKFILE_FAIL_IMMEDIATELY)
}

// FlockExclusiveNonBlock acquires an exclusive non-blocking lock on
// the file. Returns ErrLockBusy if any lock (shared or exclusive) is
// already held.
func FlockExclusiveNonBlock(f *os.File) error {
	return lockFileEx(f, windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY)
}

// FlockUnlock releases whatever lock the file holds.
func FlockUnlock(f *os.File) error {
	var overlapped windows.Overlapped
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, &overlapped)
}
