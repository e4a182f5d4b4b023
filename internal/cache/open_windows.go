//go:build windows

package cache

import (
	"fmt"
	"os"
)

// Open reads path into memory and decodes its header and column table.
// Windows gets a plain read rather than a mapping; the Reader's public
// surface (EventCount/ReadAll/ReadRange) is identical either way.
func Open(path string) (*Reader, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cache: reading %s: %w", path, err)
	}
	return newReader(raw, nil)
}
