// Package errdefs defines the error taxonomy shared by the schema compiler,
// the backing store and the storage access layer.
//
// Every error returned by this module wraps exactly one of the sentinels below,
// so callers classify failures with errors.Is:
//
//	if errors.Is(err, errdefs.ErrIndex) {
//		// past the end of the table
//	}
package errdefs

import (
	"errors"
	"fmt"
)

// Error kinds.
var (
	// ErrSchema reports a malformed or ambiguous schema document.
	ErrSchema = errors.New("schema error")
	// ErrState reports an operation invalid in the current state
	// (wrong open mode, dataset not allocated, ambiguous row).
	ErrState = errors.New("state error")
	// ErrIndex reports a row index outside [0, length).
	ErrIndex = errors.New("index out of range")
	// ErrCast reports a value that cannot be stored without loss.
	ErrCast = errors.New("unsafe cast")
	// ErrLookupMiss reports a key absent from a lookup table.
	ErrLookupMiss = errors.New("lookup miss")
	// ErrTransfer reports a failure to expose or download a backing file.
	ErrTransfer = errors.New("transfer error")
	// ErrBrokenInvariant reports stored data contradicting the schema.
	ErrBrokenInvariant = errors.New("broken invariant")
	// ErrBroadcastNotSupported reports a whole-column write to a column kind
	// that can only be written one record at a time. It also matches ErrState.
	ErrBroadcastNotSupported = fmt.Errorf("%w: broadcast not supported", ErrState)
)

// NoRow is the Row value of a FieldError not tied to a record.
const NoRow = -1

// FieldError attaches the fully-qualified field name and, where relevant, the
// row index to an error.
type FieldError struct {
	Field string
	Row   int
	Kind  error
	Msg   string
	Err   error
}

func (e *FieldError) Error() string {
	s := e.Field
	if e.Row != NoRow {
		s = fmt.Sprintf("%s[%d]", s, e.Row)
	}
	if e.Kind != nil {
		s += ": " + e.Kind.Error()
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap returns both the kind sentinel and the cause.
func (e *FieldError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Field returns a FieldError of the given kind not tied to a row.
func Field(kind error, field string, format string, args ...any) error {
	return &FieldError{Field: field, Row: NoRow, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// FieldRow returns a FieldError of the given kind at a row.
func FieldRow(kind error, field string, row int, format string, args ...any) error {
	return &FieldError{Field: field, Row: row, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns a FieldError of the given kind wrapping cause.
func Wrap(kind error, field string, row int, cause error) error {
	return &FieldError{Field: field, Row: row, Kind: kind, Err: cause}
}

// Schemaf formats a schema error.
func Schemaf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSchema, fmt.Sprintf(format, args...))
}

// Statef formats a state error.
func Statef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrState, fmt.Sprintf(format, args...))
}
