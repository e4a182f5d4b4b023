package cache

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc64"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/event"
)

// crcTable uses the ECMA-182 polynomial, i.e. CRC-64/XZ.
var crcTable = crc64.MakeTable(crc64.ECMA)

// Encode builds a binary cache file from events, in the order given.
func Encode(events []event.Event, createdAtUs int64) ([]byte, error) {
	rowCount := len(events)

	wallTS := make([]int64, rowCount)
	agents := make([]string, rowCount)
	itcs := make([]string, rowCount)
	parents := make([][]byte, rowCount)
	types := make([]string, rowCount)
	itemIDs := make([]string, rowCount)
	datas := make([][]byte, rowCount)
	hashes := make([]string, rowCount)

	for i, e := range events {
		wallTS[i] = e.WallTSUs
		agents[i] = string(e.Agent)
		itcs[i] = e.ITC
		p := e.Parents
		if p == nil {
			p = []bn.EventHash{}
		}
		encodedParents, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("cache: encoding parents for row %d: %w", i, err)
		}
		parents[i] = encodedParents
		types[i] = string(e.Type)
		itemIDs[i] = string(e.ItemID)
		datas[i] = e.Data
		hashes[i] = string(e.Hash)
	}

	columns := [columnCount][]byte{
		columnWallTS:    encodeDeltaVarint(wallTS),
		columnAgent:     encodeDictionary(agents),
		columnITC:       encodeDictionary(itcs),
		columnParents:   encodeZstdBlob(parents),
		columnEventType: encodeDictionary(types),
		columnItemID:    encodeDictionary(itemIDs),
		columnData:      encodeZstdBlob(datas),
		columnHash:      encodeDictionary(hashes),
	}
	codecs := [columnCount]codec{
		columnWallTS: codecDeltaVarint, columnAgent: codecDictionary, columnITC: codecDictionary,
		columnParents: codecZstdBlob, columnEventType: codecDictionary, columnItemID: codecDictionary,
		columnData: codecZstdBlob, columnHash: codecDictionary,
	}

	var payload bytes.Buffer
	entries := make([]columnEntry, columnCount)
	for i := 0; i < int(columnCount); i++ {
		entries[i] = columnEntry{Codec: codecs[i], Offset: uint64(payload.Len()), Length: uint64(len(columns[i]))}
		payload.Write(columns[i])
	}

	crc := crc64.Checksum(payload.Bytes(), crcTable)

	var out bytes.Buffer
	h := header{Magic: magic, Version: CurrentVersion, ColumnCount: uint32(columnCount), RowCount: uint32(rowCount), CreatedAtUs: createdAtUs, DataCRC64: crc}
	if err := binary.Write(&out, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("cache: writing header: %w", err)
	}
	for _, e := range entries {
		out.WriteByte(byte(e.Codec))
		var offLen [16]byte
		binary.LittleEndian.PutUint64(offLen[:8], e.Offset)
		binary.LittleEndian.PutUint64(offLen[8:], e.Length)
		out.Write(offLen[:])
	}
	out.Write(payload.Bytes())
	return out.Bytes(), nil
}
