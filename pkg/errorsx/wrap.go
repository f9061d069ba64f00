package errorsx

import (
	"errors"
	"fmt"
)

// ReasonedError carries a machine-readable reason code alongside the
// underlying failure. The code survives fmt wrapping through Unwrap.
type ReasonedError struct {
	Reason ReasonCode
	Err    error
}

func (e *ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e *ReasonedError) Unwrap() error { return e.Err }

// Wrap tags err with a reason code. The innermost reason wins: wrapping an
// already-reasoned error keeps the original code. Nil passes through.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	if find(err) != nil {
		return err
	}
	return &ReasonedError{Reason: reason, Err: err}
}

// Wrapf builds a formatted error carrying a reason code. %w verbs work as in
// fmt.Errorf.
func Wrapf(reason ReasonCode, format string, args ...any) error {
	return Wrap(fmt.Errorf(format, args...), reason)
}

// Reason reports the code attached to err, ReasonUnknown when none is.
func Reason(err error) ReasonCode {
	if re := find(err); re != nil {
		return re.Reason
	}
	return ReasonUnknown
}

// HasReason reports whether err carries the given reason code.
func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}

func find(err error) *ReasonedError {
	var re *ReasonedError
	if errors.As(err, &re) {
		return re
	}
	return nil
}
