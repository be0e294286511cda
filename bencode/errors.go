package bencode

import "fmt"

// DecodeError reports the byte offset of the first offending byte, per
// spec.md §4.1's error-surfacing requirement.
type DecodeError struct {
	Offset int
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bencode: %s (offset %d)", e.Msg, e.Offset)
}

func errAt(offset int, format string, args ...interface{}) error {
	return &DecodeError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}
