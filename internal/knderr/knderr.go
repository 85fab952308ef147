/*
NAME
  knderr.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package knderr provides the typed error kinds shared across knd's
// components, so callers (the server's command dispatcher in particular)
// can distinguish "bad input" from "not found" from "internal" failures
// without parsing error strings.
package knderr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a knd error, per the error handling
// design in the specification's error-kinds section.
type Kind int

const (
	// InputInvalid: bad command syntax, unknown attribute, out-of-range
	// numeric value.
	InputInvalid Kind = iota
	// NotFound: referenced zone does not exist.
	NotFound
	// Conflict: duplicate name, malformed box, zero/negative Z.
	Conflict
	// ResourceExhausted: allocation failure, buffer overflow.
	ResourceExhausted
	// IOError: sensor, persistence, or socket I/O failure.
	IOError
	// Timeout: watchdog overrun.
	Timeout
	// Fatal: a crash-set signal was received.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case InputInvalid:
		return "InputInvalid"
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case ResourceExhausted:
		return "ResourceExhausted"
	case IOError:
		return "IOError"
	case Timeout:
		return "Timeout"
	case Fatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Error is a knd error carrying a Kind alongside the usual message and
// optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind.
func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Msg: msg}
}

// Newf constructs an *Error of the given kind with a formatted message.
func Newf(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of the given kind wrapping an underlying
// cause.
func Wrap(k Kind, msg string, err error) *Error {
	return &Error{Kind: k, Msg: msg, Err: err}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if err == nil {
		return 0, false
	}
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
