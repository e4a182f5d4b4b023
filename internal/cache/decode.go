package cache

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc64"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/event"
)

// Decode validates and parses a binary cache file's bytes back into
// its events, in their original row order. Decode validates magic,
// version, and CRC-64 before returning anything.
func Decode(data []byte) ([]event.Event, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("cache: truncated header (%d bytes)", len(data))
	}
	var h header
	if err := binary.Read(sliceReader(data[:headerSize]), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("cache: reading header: %w", err)
	}
	if h.Magic != magic {
		return nil, &BadMagicError{Got: h.Magic}
	}
	if h.Version > CurrentVersion {
		return nil, &UnsupportedVersionError{Version: h.Version}
	}

	rest := data[headerSize:]
	entries := make([]columnEntry, h.ColumnCount)
	tableSize := int(h.ColumnCount) * columnEntrySize
	if len(rest) < tableSize {
		return nil, fmt.Errorf("cache: truncated column offset table")
	}
	for i := range entries {
		off := i * columnEntrySize
		entries[i] = columnEntry{
			Codec:  codec(rest[off]),
			Offset: binary.LittleEndian.Uint64(rest[off+1 : off+9]),
			Length: binary.LittleEndian.Uint64(rest[off+9 : off+17]),
		}
	}
	payload := rest[tableSize:]

	computed := crc64.Checksum(payload, crcTable)
	if computed != h.DataCRC64 {
		return nil, &CRCMismatchError{Stored: h.DataCRC64, Computed: computed}
	}

	rowCount := int(h.RowCount)
	columnBytes := func(c column) ([]byte, error) {
		if int(c) >= len(entries) {
			return nil, fmt.Errorf("cache: missing column %d", c)
		}
		e := entries[c]
		if e.Offset+e.Length > uint64(len(payload)) {
			return nil, fmt.Errorf("cache: column %d out of range", c)
		}
		return payload[e.Offset : e.Offset+e.Length], nil
	}

	wallTSBytes, err := columnBytes(columnWallTS)
	if err != nil {
		return nil, err
	}
	wallTS, err := decodeDeltaVarint(wallTSBytes, rowCount)
	if err != nil {
		return nil, err
	}
	agentBytes, err := columnBytes(columnAgent)
	if err != nil {
		return nil, err
	}
	agents, err := decodeDictionary(agentBytes, rowCount)
	if err != nil {
		return nil, err
	}
	itcBytes, err := columnBytes(columnITC)
	if err != nil {
		return nil, err
	}
	itcs, err := decodeDictionary(itcBytes, rowCount)
	if err != nil {
		return nil, err
	}
	parentsBytes, err := columnBytes(columnParents)
	if err != nil {
		return nil, err
	}
	parentsRaw, err := decodeZstdBlob(parentsBytes, rowCount)
	if err != nil {
		return nil, err
	}
	typeBytes, err := columnBytes(columnEventType)
	if err != nil {
		return nil, err
	}
	types, err := decodeDictionary(typeBytes, rowCount)
	if err != nil {
		return nil, err
	}
	itemIDBytes, err := columnBytes(columnItemID)
	if err != nil {
		return nil, err
	}
	itemIDs, err := decodeDictionary(itemIDBytes, rowCount)
	if err != nil {
		return nil, err
	}
	dataBytes, err := columnBytes(columnData)
	if err != nil {
		return nil, err
	}
	datas, err := decodeZstdBlob(dataBytes, rowCount)
	if err != nil {
		return nil, err
	}
	hashBytes, err := columnBytes(columnHash)
	if err != nil {
		return nil, err
	}
	hashes, err := decodeDictionary(hashBytes, rowCount)
	if err != nil {
		return nil, err
	}

	events := make([]event.Event, rowCount)
	for i := 0; i < rowCount; i++ {
		var parents []bn.EventHash
		if err := json.Unmarshal(parentsRaw[i], &parents); err != nil {
			return nil, fmt.Errorf("cache: decoding parents for row %d: %w", i, err)
		}
		if len(parents) == 0 {
			parents = nil
		}
		events[i] = event.Event{
			WallTSUs: wallTS[i],
			Agent:    bn.AgentID(agents[i]),
			ITC:      itcs[i],
			Parents:  parents,
			Type:     event.Type(types[i]),
			ItemID:   bn.ItemID(itemIDs[i]),
			Data:     json.RawMessage(datas[i]),
			Hash:     bn.EventHash(hashes[i]),
		}
	}
	return events, nil
}

// sliceReader adapts a byte slice to io.Reader without an extra copy,
// for binary.Read's fixed-size header decode.
type sliceReaderType struct {
	data []byte
	pos  int
}

func sliceReader(data []byte) *sliceReaderType { return &sliceReaderType{data: data} }

func (r *sliceReaderType) Read(p []byte) (int, error) {
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
