package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedMessage      = errors.New("protocol: malformed message")
	ErrNotProtocolFraming    = errors.New("protocol: not protocol framing")
	ErrMessageTooLarge       = errors.New("protocol: message too large")
	ErrConnectionClosed      = errors.New("protocol: connection closed")
	ErrTimeout               = errors.New("protocol: timeout")
	ErrCancelled             = errors.New("protocol: cancelled")
	ErrUnregisteredOperation = errors.New("protocol: unregistered operation")
	ErrInvalidVarName        = errors.New("protocol: invalid variable name")
)

// ErrMissingFunc is a malformed message without an operation name.
var ErrMissingFunc = fmt.Errorf("%w: missing func variable", ErrMalformedMessage)
