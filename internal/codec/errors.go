package codec

import "fmt"

// InvalidFieldError reports that the n-th (0-indexed) field of a TSJSON
// line failed to parse or validate.
type InvalidFieldError struct {
	Field int
	Err   error
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid field %d: %v", e.Field, e.Err)
}

func (e *InvalidFieldError) Unwrap() error { return e.Err }

// Utf8Error reports invalid UTF-8 in a line being parsed.
type Utf8Error struct {
	Offset int
}

func (e *Utf8Error) Error() string {
	return fmt.Sprintf("invalid utf-8 at byte offset %d", e.Offset)
}

// JsonParseError wraps a failure to decode a JSON value.
type JsonParseError struct {
	Err error
}

func (e *JsonParseError) Error() string { return fmt.Sprintf("json parse error: %v", e.Err) }
func (e *JsonParseError) Unwrap() error { return e.Err }

// WrongFieldCountError reports a TSJSON line that did not split into
// exactly the expected number of tab-separated fields.
type WrongFieldCountError struct {
	Expected int
	Got      int
}

func (e *WrongFieldCountError) Error() string {
	return fmt.Sprintf("wrong field count: expected %d, got %d", e.Expected, e.Got)
}
