//go:build unix

package cache

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Open mmaps path read-only and decodes its header and column table.
// The returned Reader must be closed to release the mapping.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cache: opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("cache: stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("cache: %s is empty", path)
	}

	raw, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("cache: mmap %s: %w", path, err)
	}

	return newReader(raw, func() error { return unix.Munmap(raw) })
}
