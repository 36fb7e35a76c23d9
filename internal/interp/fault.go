package interp

import (
	"errors"
	"fmt"
)

// FaultKind distinguishes the recoverable interpolation failure modes.
type FaultKind int

const (
	// MissingKey means the key resolved to nothing anywhere.
	MissingKey FaultKind = iota
	// Malformed means the text could not be interpolated at all
	// (unbalanced delimiters, empty key).
	Malformed
)

// Fault is the recoverable interpolation failure. goto_map and
// replace_map catch it and route to their NULL entry; everywhere else it
// is fatal.
type Fault struct {
	Kind FaultKind
	Key  string
	msg  string
}

func (f *Fault) Error() string {
	return f.msg
}

func missingf(key, format string, args ...any) *Fault {
	return &Fault{Kind: MissingKey, Key: key, msg: fmt.Sprintf(format, args...)}
}

func malformedf(format string, args ...any) *Fault {
	return &Fault{Kind: Malformed, msg: fmt.Sprintf(format, args...)}
}

// IsFault reports whether err is (or wraps) an interpolation fault.
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}
