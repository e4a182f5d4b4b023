package cache

import (
	"fmt"

	"github.com/bones-project/bones/internal/event"
)

// Reader serves random-access reads over a decoded cache file. Today it
// decodes eagerly on Open; the read-only mapping it holds onto (see
// open_unix.go/open_windows.go) is what makes the file genuinely
// memory-mappable on disk rather than just columnar in layout.
type Reader struct {
	raw    []byte
	closer func() error
	events []event.Event
}

func newReader(raw []byte, closer func() error) (*Reader, error) {
	events, err := Decode(raw)
	if err != nil {
		if closer != nil {
			_ = closer()
		}
		return nil, err
	}
	return &Reader{raw: raw, closer: closer, events: events}, nil
}

// Close releases the underlying memory mapping, if one was used.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer()
	r.closer = nil
	return err
}

// EventCount returns the number of rows in the cache.
func (r *Reader) EventCount() int { return len(r.events) }

// ReadAll returns every event in the cache, in original row order.
// The returned slice aliases the Reader's internal storage and must
// not be mutated by the caller.
func (r *Reader) ReadAll() []event.Event { return r.events }

// ReadRange returns the [start, start+count) slice of rows. It errors
// if the range falls outside [0, EventCount()).
func (r *Reader) ReadRange(start, count int) ([]event.Event, error) {
	if start < 0 || count < 0 || start+count > len(r.events) {
		return nil, fmt.Errorf("cache: range [%d, %d) out of bounds (%d rows)", start, start+count, len(r.events))
	}
	return r.events[start : start+count], nil
}
