package errorsx

import (
	"errors"
	"fmt"
)

// Error carries a ReasonCode alongside the underlying failure. The reason is
// what logs, metrics and safe verdicts are keyed on; the message is for
// humans.
type Error struct {
	Reason ReasonCode
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match for another *Error with the same reason, so sentinels
// built with New can be compared through fmt wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason && (t.Err == nil || t.Err == e.Err)
}

// Wrap attaches reason to err. The innermost reason wins when err already
// carries one.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	return &Error{Reason: reason, Err: err}
}

func New(reason ReasonCode, msg string) error {
	return &Error{Reason: reason, Err: errors.New(msg)}
}

func Newf(reason ReasonCode, format string, args ...any) error {
	return &Error{Reason: reason, Err: fmt.Errorf(format, args...)}
}

// Reason returns the reason code carried by err, or ReasonUnknown.
func Reason(err error) ReasonCode {
	var re *Error
	if err != nil && errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}
