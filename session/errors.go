package session

import (
	"errors"
	"fmt"
)

// ErrBusy rejects an Execute that overlaps one already in flight. The
// rejected call leaves staged state and the running operation untouched.
var ErrBusy = errors.New("attach operation already in progress")

// PreconditionError reports a missing prerequisite detected before any I/O:
// no primary document loaded, or nothing staged.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string { return e.Reason }

// ValidationError reports a rejected scope/page-range combination or an
// admission-policy rejection, detected before any I/O.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ReadError reports a file that could not be read into memory. It aborts the
// whole operation; partial reads are discarded and nothing is dispatched.
type ReadError struct {
	Name string
	Err  error
}

func (e *ReadError) Error() string { return fmt.Sprintf("read %s: %v", e.Name, e.Err) }

func (e *ReadError) Unwrap() error { return e.Err }
