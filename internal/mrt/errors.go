package mrt

import (
	"errors"
	"fmt"
)

// ErrTruncated is returned when the stream ends inside a header or payload.
// Errors carrying it also match io.ErrUnexpectedEOF.
var ErrTruncated = errors.New("mrt: truncated stream")

// InvalidTagError reports an unknown record type, subtype, address family
// or other discriminator. Value is the offending wire value.
type InvalidTagError struct {
	Field string
	Value uint32
}

func (e *InvalidTagError) Error() string {
	return fmt.Sprintf("mrt: invalid %s %d", e.Field, e.Value)
}

// LengthError reports a declared length that cannot hold the fixed layout,
// exceeds the configured limit, or disagrees with the bytes the layout consumed.
type LengthError struct {
	What     string
	Declared uint32
	Need     int64
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("mrt: invalid length for %s (declared %d, expected %d)", e.What, e.Declared, e.Need)
}
