package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonical_SortsKeysAtEveryDepth(t *testing.T) {
	in := `{"b":1,"a":{"z":1,"y":2},"c":[3,2,1]}`
	out, err := Canonical([]byte(in))
	require.NoError(t, err)
	require.Equal(t, `{"a":{"y":2,"z":1},"b":1,"c":[3,2,1]}`, string(out))
}

func TestCanonical_NoWhitespace(t *testing.T) {
	out, err := Canonical([]byte("{ \"a\" : 1 , \"b\" : [ 1 , 2 ] }"))
	require.NoError(t, err)
	require.NotContains(t, string(out), " ")
}

func TestCanonical_Idempotent(t *testing.T) {
	in := `{"title":"Fix\tbug","n":1.50,"big":9007199254740993}`
	once, err := Canonical([]byte(in))
	require.NoError(t, err)
	twice, err := Canonical(once)
	require.NoError(t, err)
	require.Equal(t, string(once), string(twice))
}

func TestCanonical_IntegerPreservesPrecision(t *testing.T) {
	// 2^63 - 1 style large integer must not be mangled by float64 rounding.
	out, err := Canonical([]byte(`{"id":9223372036854775807}`))
	require.NoError(t, err)
	require.Equal(t, `{"id":9223372036854775807}`, string(out))
}

func TestCanonical_RejectsInvalidUTF8(t *testing.T) {
	_, err := Canonical([]byte{'{', '"', 0xff, '"', '}'})
	require.Error(t, err)
}

func TestCanonical_RejectsTrailingGarbage(t *testing.T) {
	_, err := Canonical([]byte(`{"a":1} garbage`))
	require.Error(t, err)
}

func TestCanonicalOf_StructFieldsSorted(t *testing.T) {
	type payload struct {
		Zeta  string `json:"zeta"`
		Alpha int    `json:"alpha"`
	}
	out, err := CanonicalOf(payload{Zeta: "z", Alpha: 1})
	require.NoError(t, err)
	require.Equal(t, `{"alpha":1,"zeta":"z"}`, string(out))
}

func TestEncodeParseLine_RoundTrip(t *testing.T) {
	fields := [FieldCount]string{
		"1000", "agent-a", "itc:v1:deadbeef", "[]", "item.create", "bn-abc", `{"title":"hi"}`, "blake3:abcd",
	}
	line, err := EncodeLine(fields)
	require.NoError(t, err)
	got, err := ParseLine(line)
	require.NoError(t, err)
	require.Equal(t, fields, got)
}

func TestEncodeParseLine_EscapesControlCharacters(t *testing.T) {
	fields := [FieldCount]string{
		"1000", "agent\twith\ttabs", "itc:v1:ab", "[]", "item.comment", "bn-abc", `{"body":"line1\nline2"}`, "blake3:ab",
	}
	line, err := EncodeLine(fields)
	require.NoError(t, err)
	got, err := ParseLine(line)
	require.NoError(t, err)
	require.Equal(t, fields, got)
}

func TestParseLine_WrongFieldCount(t *testing.T) {
	_, err := ParseLine("a\tb\tc")
	require.Error(t, err)
	var wfc *WrongFieldCountError
	require.ErrorAs(t, err, &wfc)
}

func TestCanonical_NoHTMLEscaping(t *testing.T) {
	// <, >, and & stay literal; HTML-safe \u003c-style forms would
	// change every hash computed over text containing them.
	got, err := Canonical([]byte(`{"title":"a <b> & c"}`))
	require.NoError(t, err)
	require.Equal(t, `{"title":"a <b> & c"}`, string(got))
	require.NotContains(t, string(got), `\u003c`)
	require.NotContains(t, string(got), `\u003e`)
	require.NotContains(t, string(got), `\u0026`)
}

func TestCanonical_NonASCIIStaysLiteral(t *testing.T) {
	got, err := Canonical([]byte(`{"cjk":"\u65e5\u672c\u8a9e","emoji":"\ud83c\udf89","sep":"x\u2028y\u2029z"}`))
	require.NoError(t, err)
	require.Contains(t, string(got), "\u65e5\u672c\u8a9e")
	require.Contains(t, string(got), "\U0001F389")
	// U+2028/U+2029 decode to their literal UTF-8 bytes and stay that way.
	require.Contains(t, string(got), "x\u2028y\u2029z")
	require.NotContains(t, string(got), `\u2028`)
}

func TestCanonical_ControlCharacterEscapes(t *testing.T) {
	got, err := Canonical([]byte(`"a\b\f\n\r\t\u0001b"`))
	require.NoError(t, err)
	// Named escapes for the five classic controls, \u00xx for the rest.
	require.Equal(t, `"a\b\f\n\r\t\u0001b"`, string(got))
}

func TestCanonicalOf_RoundTripsHTMLCharacters(t *testing.T) {
	// CanonicalOf goes through encoding/json first, whose intermediate
	// HTML escapes must not survive into the canonical bytes.
	got, err := CanonicalOf(struct {
		Body string `json:"body"`
	}{Body: "if a < b && b > c"})
	require.NoError(t, err)
	require.Equal(t, `{"body":"if a < b && b > c"}`, string(got))
}
