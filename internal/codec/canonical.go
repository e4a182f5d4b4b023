// Package codec implements the canonical JSON serialization that event
// hashing and shard lines are built on, plus the TSJSON line format
// shards are stored in.
//
// Canonical form: object keys sorted lexicographically at every nesting
// depth, no insignificant whitespace, minimal JSON string escaping (no
// HTML-safe rewriting of <, >, or &), array order preserved, numbers
// written in a minimal exact representation. Two
// calls to Canonical on semantically identical JSON values always produce
// byte-identical output, which is what event-hash reproducibility
// depends on.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Canonical re-serializes an already-valid JSON document (any shape
// encoding/json can parse) into canonical form.
func Canonical(data []byte) ([]byte, error) {
	if !utf8.Valid(data) {
		return nil, &Utf8Error{Offset: firstInvalidUTF8Offset(data)}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, &JsonParseError{Err: err}
	}
	// Reject trailing garbage after the first JSON value.
	if dec.More() {
		return nil, &JsonParseError{Err: fmt.Errorf("trailing data after JSON value")}
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CanonicalOf marshals v with encoding/json (so struct tags, omitempty,
// etc. are honored) and then canonicalizes the result. This is the usual
// entry point for hashing a Go struct.
func CanonicalOf(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, &JsonParseError{Err: err}
	}
	return Canonical(raw)
}

func firstInvalidUTF8Offset(data []byte) int {
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(data)
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		return writeCanonicalNumber(buf, val)
	case string:
		writeCanonicalString(buf, val)
		return nil
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalString(buf, k)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return fmt.Errorf("codec: unsupported value type %T", v)
	}
}

const hexDigits = "0123456789abcdef"

// writeCanonicalString writes s with the minimal JSON escape set: quote,
// backslash, the named control escapes (\b \f \n \r \t), and \u00xx for
// the remaining control characters. Everything else — including <, >, &,
// and non-ASCII text — passes through literally. encoding/json is
// deliberately not used here: its HTML-safe escaping of <, >, and &
// (plus U+2028/U+2029) would change the canonical bytes and with them
// every event hash.
func writeCanonicalString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if c < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[c>>4])
				buf.WriteByte(hexDigits[c&0xf])
			} else {
				buf.WriteByte(c)
			}
		}
	}
	buf.WriteByte('"')
}

// writeCanonicalNumber normalizes a decoded json.Number to a minimal exact
// representation: integers are written without a decimal point or
// exponent; everything else is normalized via big.Float to strip
// insignificant trailing zeros while preserving exactness for values that
// round-trip through decimal text (which is how they arrived).
func writeCanonicalNumber(buf *bytes.Buffer, n json.Number) error {
	s := string(n)

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		buf.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		buf.WriteString(strconv.FormatUint(u, 10))
		return nil
	}

	f, _, err := big.ParseFloat(s, 10, 200, big.ToNearestEven)
	if err != nil {
		return &JsonParseError{Err: fmt.Errorf("invalid number %q: %w", s, err)}
	}
	if f.IsInt() {
		bi, _ := f.Int(nil)
		buf.WriteString(bi.String())
		return nil
	}
	text := f.Text('g', -1)
	// big.Float uses "e+05" style exponents; JSON wants "e+05" too but
	// without a leading zero requirement on the mantissa's sign handling,
	// which Text already satisfies. Strip an explicit "+" after 'e' only
	// if Go's json encoder would; keep as-is otherwise since both forms
	// are valid JSON number syntax and we only need self-consistency.
	if !strings.ContainsAny(text, ".eE") {
		text += ".0"
	}
	buf.WriteString(text)
	return nil
}
