package codec

import (
	"encoding/json"
	"strings"
)

// FieldCount is the number of tab-separated fields in a shard line:
// wall_ts_us, agent, itc, parents, event_type, item_id, data,
// event_hash.
const FieldCount = 8

// EncodeLine joins fields with tabs, JSON-string-escaping (and quoting)
// any field that contains a literal tab or newline so the line stays
// exactly one physical line.
func EncodeLine(fields [FieldCount]string) (string, error) {
	parts := make([]string, FieldCount)
	for i, f := range fields {
		if strings.ContainsAny(f, "\t\n\r") {
			enc, err := json.Marshal(f)
			if err != nil {
				return "", &InvalidFieldError{Field: i, Err: err}
			}
			parts[i] = string(enc)
		} else {
			parts[i] = f
		}
	}
	return strings.Join(parts, "\t"), nil
}

// ParseLine splits a shard line into its eight fields, undoing the
// JSON-string escaping EncodeLine applies to fields containing control
// characters. A field is treated as escaped if it is wrapped in a
// literal double quote, matching what EncodeLine produces.
func ParseLine(line string) ([FieldCount]string, error) {
	var out [FieldCount]string
	parts := strings.Split(line, "\t")
	if len(parts) != FieldCount {
		return out, &WrongFieldCountError{Expected: FieldCount, Got: len(parts)}
	}
	for i, p := range parts {
		if len(p) >= 2 && p[0] == '"' && p[len(p)-1] == '"' {
			var s string
			if err := json.Unmarshal([]byte(p), &s); err != nil {
				return out, &InvalidFieldError{Field: i, Err: err}
			}
			out[i] = s
		} else {
			out[i] = p
		}
	}
	return out, nil
}
