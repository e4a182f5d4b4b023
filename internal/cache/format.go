// Package cache implements the memory-mappable binary columnar
// snapshot of the event log: a bulk-read optimization path for
// analytics and tiered benchmarks, never consulted for correctness.
// Columns get per-type codecs — delta varints for timestamps,
// dictionary interning (xxhash-keyed) for the string columns, and
// zstd (dolthub/gozstd) for the JSON blob columns — behind a fixed
// header and offset table validated before any column is touched.
package cache

import "fmt"

// magic identifies a bones binary cache file ("BNC1" as big-endian
// uint32).
const magic uint32 = 0x424e4331

// CurrentVersion is the binary cache format version this package
// produces and expects.
const CurrentVersion uint32 = 1

// headerSize is the fixed 32-byte leading record: magic(4) +
// version(4) + column_count(4) + row_count(4) + created_at_us(8) +
// data_crc64(8).
const headerSize = 32

// header is the binary cache's fixed-size leading record.
type header struct {
	Magic       uint32
	Version     uint32
	ColumnCount uint32
	RowCount    uint32
	CreatedAtUs int64
	DataCRC64   uint64
}

// column identifies one of the eight fixed event columns, stored in
// the same order as an event's TSJSON fields (internal/event/codec.go)
// so the two formats read as obviously related.
type column int

const (
	columnWallTS column = iota
	columnAgent
	columnITC
	columnParents
	columnEventType
	columnItemID
	columnData
	columnHash
	columnCount
)

// codec identifies how one column's bytes are encoded.
type codec byte

const (
	codecDeltaVarint codec = iota + 1
	codecDictionary
	codecZstdBlob
)

// columnEntry is one row of the per-column offset table following the
// header: which codec encoded it, and where its bytes live in the file.
type columnEntry struct {
	Codec  codec
	Offset uint64
	Length uint64
}

const columnEntrySize = 1 + 8 + 8 // codec + offset + length

// BadMagicError is returned by Decode when the leading bytes don't
// match the expected magic number.
type BadMagicError struct{ Got uint32 }

func (e *BadMagicError) Error() string {
	return fmt.Sprintf("cache: bad magic number %#08x", e.Got)
}

// UnsupportedVersionError is returned by Decode for a cache file
// encoded by a newer format version than this build understands.
type UnsupportedVersionError struct{ Version uint32 }

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("cache: unsupported format version %d", e.Version)
}

// CRCMismatchError is returned by Decode when the recomputed CRC-64 of
// the column payloads doesn't match the header's stored value; a
// mismatch aborts the load before any column is decoded.
type CRCMismatchError struct {
	Stored   uint64
	Computed uint64
}

func (e *CRCMismatchError) Error() string {
	return fmt.Sprintf("cache: CRC-64 mismatch: stored %#016x, computed %#016x", e.Stored, e.Computed)
}
