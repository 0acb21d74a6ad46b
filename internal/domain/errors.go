package domain

import "errors"

// Kind classifies failures of the calendar core.
type Kind string

const (
	KindConfig           Kind = "config"
	KindRange            Kind = "range"
	KindResourceExceeded Kind = "resource_exceeded"
	KindNotFound         Kind = "not_found"
	KindPermissionDenied Kind = "permission_denied"
	KindInvalid          Kind = "invalid"
)

// Sentinels for errors.Is matching against an *Error of the same kind.
var (
	ErrConfig           = &Error{Kind: KindConfig}
	ErrRange            = &Error{Kind: KindRange}
	ErrResourceExceeded = &Error{Kind: KindResourceExceeded}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrInvalid          = &Error{Kind: KindInvalid}
)

// Error is a typed failure. Op names the operation, Msg describes what went
// wrong and Err optionally carries the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := string(e.Kind)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

func ConfigError(op, msg string) error {
	return &Error{Kind: KindConfig, Op: op, Msg: msg}
}

func RangeError(op, msg string) error {
	return &Error{Kind: KindRange, Op: op, Msg: msg}
}

func ResourceExceeded(op, msg string) error {
	return &Error{Kind: KindResourceExceeded, Op: op, Msg: msg}
}

func NotFound(op, msg string) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

func PermissionDenied(op, msg string) error {
	return &Error{Kind: KindPermissionDenied, Op: op, Msg: msg}
}

func Invalid(op, msg string) error {
	return &Error{Kind: KindInvalid, Op: op, Msg: msg}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
