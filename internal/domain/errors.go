package domain

import (
	"errors"
	"strings"
)

type ErrorKind string

const (
	KindDeviceNotFound         ErrorKind = "DEVICE_NOT_FOUND"
	KindUnsupportedReceiver    ErrorKind = "UNSUPPORTED_RECEIVER_KIND"
	KindNoCompatibleStream     ErrorKind = "NO_COMPATIBLE_STREAM"
	KindTranscodeFailed        ErrorKind = "TRANSCODE_FAILED"
	KindStreamStartFailed      ErrorKind = "STREAM_START_FAILED"
	KindTransportCommandFailed ErrorKind = "TRANSPORT_COMMAND_FAILED"
	KindInvalidArguments       ErrorKind = "INVALID_ARGUMENTS"
	KindInternal               ErrorKind = "INTERNAL_ERROR"
)

// Sentinels for errors.Is checks against a kind.
var (
	ErrDeviceNotFound         = &Error{Kind: KindDeviceNotFound}
	ErrUnsupportedReceiver    = &Error{Kind: KindUnsupportedReceiver}
	ErrNoCompatibleStream     = &Error{Kind: KindNoCompatibleStream}
	ErrTranscodeFailed        = &Error{Kind: KindTranscodeFailed}
	ErrStreamStartFailed      = &Error{Kind: KindStreamStartFailed}
	ErrTransportCommandFailed = &Error{Kind: KindTransportCommandFailed}
)

// Error is the user-facing failure type. Hints are printed below the message.
type Error struct {
	Kind    ErrorKind
	Message string
	Hints   []string
	Err     error
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || e == nil || other == nil {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
