package event

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bones-project/bones/internal/bn"
	"github.com/bones-project/bones/internal/codec"
)

// field indices in the 8-field shard line: wall_ts_us, agent, itc,
// parents, event_type, item_id, data, event_hash.
const (
	fieldWallTS = iota
	fieldAgent
	fieldITC
	fieldParents
	fieldType
	fieldItemID
	fieldData
	fieldHash
)

// EncodeLine renders e as the tab-separated shard line format. e must
// already be sealed (Hash populated); EncodeLine does not compute it.
func EncodeLine(e Event) (string, error) {
	parents := e.Parents
	if parents == nil {
		parents = []bn.EventHash{}
	}
	parentsJSON, err := json.Marshal(parents)
	if err != nil {
		return "", &codec.InvalidFieldError{Field: fieldParents, Err: err}
	}
	data, err := codec.Canonical(e.Data)
	if err != nil {
		return "", &codec.InvalidFieldError{Field: fieldData, Err: err}
	}
	fields := [codec.FieldCount]string{
		fieldWallTS:  strconv.FormatInt(e.WallTSUs, 10),
		fieldAgent:   string(e.Agent),
		fieldITC:     e.ITC,
		fieldParents: string(parentsJSON),
		fieldType:    string(e.Type),
		fieldItemID:  string(e.ItemID),
		fieldData:    string(data),
		fieldHash:    string(e.Hash),
	}
	return codec.EncodeLine(fields)
}

// DecodeLine parses a shard line back into an Event. It does not verify
// the hash or validate the payload; callers that need those guarantees
// call Verify/ValidatePayload explicitly. Parsing and verification are
// separate passes so recovery can quarantine a bad line without losing
// the ones around it.
func DecodeLine(line string) (Event, error) {
	fields, err := codec.ParseLine(line)
	if err != nil {
		return Event{}, err
	}
	wallTS, err := strconv.ParseInt(fields[fieldWallTS], 10, 64)
	if err != nil {
		return Event{}, &codec.InvalidFieldError{Field: fieldWallTS, Err: err}
	}
	var parents []bn.EventHash
	if err := json.Unmarshal([]byte(fields[fieldParents]), &parents); err != nil {
		return Event{}, &codec.InvalidFieldError{Field: fieldParents, Err: err}
	}
	itemID, err := bn.ParseItemID(fields[fieldItemID])
	if err != nil {
		return Event{}, &codec.InvalidFieldError{Field: fieldItemID, Err: err}
	}
	agent, err := bn.ParseAgentID(fields[fieldAgent])
	if err != nil {
		return Event{}, &codec.InvalidFieldError{Field: fieldAgent, Err: err}
	}
	typ := Type(fields[fieldType])
	if !typ.IsKnown() {
		return Event{}, &UnknownEventTypeError{Type: typ}
	}
	hash := bn.EventHash(fields[fieldHash])
	if !hash.Valid() {
		return Event{}, fmt.Errorf("event: malformed event_hash %q", fields[fieldHash])
	}
	return Event{
		WallTSUs: wallTS,
		Agent:    agent,
		ITC:      fields[fieldITC],
		Parents:  parents,
		Type:     typ,
		ItemID:   itemID,
		Data:     json.RawMessage(fields[fieldData]),
		Hash:     hash,
	}, nil
}
