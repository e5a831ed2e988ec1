package events

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error so the HTTP layer can pick a status
// code without string matching.
type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindState
	KindPermission
	KindExternal
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func ValidationError(code string, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFoundError(code string, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

func StateError(code string, format string, args ...any) *Error {
	return &Error{Kind: KindState, Code: code, Message: fmt.Sprintf(format, args...)}
}

func PermissionError(code string, format string, args ...any) *Error {
	return &Error{Kind: KindPermission, Code: code, Message: fmt.Sprintf(format, args...)}
}

func ExternalError(code string, err error) *Error {
	return &Error{Kind: KindExternal, Code: code, Message: "external service failed", Err: err}
}

// KindOf returns the kind of a domain error, or ok=false for any other
// error value.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
