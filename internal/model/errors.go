// internal/model/errors.go
package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies bridge failures
type ErrorKind string

const (
	KindChannelUnavailable ErrorKind = "CHANNEL_UNAVAILABLE"
	KindChannelIO          ErrorKind = "CHANNEL_IO_ERROR"
	KindTimeout            ErrorKind = "TIMEOUT"
	KindMalformedResponse  ErrorKind = "MALFORMED_RESPONSE"
	KindValidation         ErrorKind = "VALIDATION_ERROR"
	KindDecode             ErrorKind = "DECODE_ERROR"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrChannelUnavailable = &BridgeError{Kind: KindChannelUnavailable}
	ErrChannelIO          = &BridgeError{Kind: KindChannelIO}
	ErrTimeout            = &BridgeError{Kind: KindTimeout}
	ErrMalformedResponse  = &BridgeError{Kind: KindMalformedResponse}
	ErrValidation         = &BridgeError{Kind: KindValidation}
	ErrDecode             = &BridgeError{Kind: KindDecode}
)

// BridgeError is a classified failure raised by the bridge stack
type BridgeError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError creates a classified error for an operation
func NewError(kind ErrorKind, op string, err error) *BridgeError {
	return &BridgeError{Kind: kind, Op: op, Err: err}
}

// Errorf creates a classified error with a formatted cause
func Errorf(kind ErrorKind, op string, format string, args ...interface{}) *BridgeError {
	return &BridgeError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *BridgeError) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BridgeError) Unwrap() error {
	return e.Err
}

// Is matches any BridgeError of the same kind
func (e *BridgeError) Is(target error) bool {
	t, ok := target.(*BridgeError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first BridgeError in the chain, or "" if none
func KindOf(err error) ErrorKind {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// Session-level failures that carry no bridge kind
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionBusy     = errors.New("session busy")
	ErrProfileNotFound = errors.New("profile not found")
	ErrNotFound        = errors.New("record not found")
)
