package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dolthub/gozstd"
)

// encodeDeltaVarint encodes a column of monotonic-ish int64s (wall_ts_us)
// as a zigzag-varint-encoded first value followed by zigzag-varint
// deltas, so a column of closely-spaced timestamps compresses to a few
// bytes per row.
func encodeDeltaVarint(values []int64) []byte {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte
	var prev int64
	for i, v := range values {
		delta := v
		if i > 0 {
			delta = v - prev
		}
		n := binary.PutVarint(tmp[:], delta)
		buf.Write(tmp[:n])
		prev = v
	}
	return buf.Bytes()
}

func decodeDeltaVarint(data []byte, rowCount int) ([]int64, error) {
	out := make([]int64, 0, rowCount)
	var prev int64
	for len(data) > 0 && len(out) < rowCount {
		delta, n := binary.Varint(data)
		if n <= 0 {
			return nil, fmt.Errorf("cache: invalid delta-varint column")
		}
		data = data[n:]
		v := delta
		if len(out) > 0 {
			v = prev + delta
		}
		out = append(out, v)
		prev = v
	}
	if len(out) != rowCount {
		return nil, fmt.Errorf("cache: delta-varint column has %d rows, want %d", len(out), rowCount)
	}
	return out, nil
}

// encodeDictionary encodes a column of strings as dictionary plus
// offsets: the set of distinct values (in first-occurrence order,
// looked up via an xxhash-keyed map so interning stays O(1) per row)
// followed by one varint index per row.
func encodeDictionary(values []string) []byte {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	index := make(map[uint64]int, len(values))
	var dict []string
	indices := make([]int, len(values))
	for i, v := range values {
		h := xxhash.Sum64String(v)
		idx, ok := index[h]
		if !ok || dict[idx] != v {
			idx = len(dict)
			dict = append(dict, v)
			index[h] = idx
		}
		indices[i] = idx
	}

	n := binary.PutUvarint(tmp[:], uint64(len(dict)))
	buf.Write(tmp[:n])
	for _, s := range dict {
		n := binary.PutUvarint(tmp[:], uint64(len(s)))
		buf.Write(tmp[:n])
		buf.WriteString(s)
	}
	for _, idx := range indices {
		n := binary.PutUvarint(tmp[:], uint64(idx))
		buf.Write(tmp[:n])
	}
	return buf.Bytes()
}

func decodeDictionary(data []byte, rowCount int) ([]string, error) {
	dictLen, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, fmt.Errorf("cache: invalid dictionary column header")
	}
	data = data[n:]

	dict := make([]string, 0, dictLen)
	for i := uint64(0); i < dictLen; i++ {
		strLen, n := binary.Uvarint(data)
		if n <= 0 || uint64(len(data)-n) < strLen {
			return nil, fmt.Errorf("cache: truncated dictionary entry")
		}
		data = data[n:]
		dict = append(dict, string(data[:strLen]))
		data = data[strLen:]
	}

	out := make([]string, 0, rowCount)
	for len(out) < rowCount {
		idx, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, fmt.Errorf("cache: truncated dictionary index")
		}
		data = data[n:]
		if idx >= uint64(len(dict)) {
			return nil, fmt.Errorf("cache: dictionary index %d out of range", idx)
		}
		out = append(out, dict[idx])
	}
	return out, nil
}

// encodeZstdBlob frames each row's raw bytes with a varint length, then
// zstd-compresses the whole framed buffer as a single stream (better
// ratio than compressing each row independently). The uncompressed
// length is written first so the decoder can size its buffer.
func encodeZstdBlob(rows [][]byte) []byte {
	var framed bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte
	for _, row := range rows {
		n := binary.PutUvarint(tmp[:], uint64(len(row)))
		framed.Write(tmp[:n])
		framed.Write(row)
	}
	compressed := gozstd.Compress(nil, framed.Bytes())

	var out bytes.Buffer
	n := binary.PutUvarint(tmp[:], uint64(framed.Len()))
	out.Write(tmp[:n])
	out.Write(compressed)
	return out.Bytes()
}

func decodeZstdBlob(data []byte, rowCount int) ([][]byte, error) {
	uncompressedLen, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, fmt.Errorf("cache: invalid zstd-blob column header")
	}
	data = data[n:]

	framed, err := gozstd.Decompress(make([]byte, 0, uncompressedLen), data)
	if err != nil {
		return nil, fmt.Errorf("cache: decompressing column: %w", err)
	}

	out := make([][]byte, 0, rowCount)
	for len(out) < rowCount {
		rowLen, n := binary.Uvarint(framed)
		if n <= 0 || uint64(len(framed)-n) < rowLen {
			return nil, fmt.Errorf("cache: truncated zstd-blob row")
		}
		framed = framed[n:]
		row := make([]byte, rowLen)
		copy(row, framed[:rowLen])
		out = append(out, row)
		framed = framed[rowLen:]
	}
	return out, nil
}
