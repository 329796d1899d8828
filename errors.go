package livechat

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	ErrClosed          = errors.New("livechat: session closed")
	ErrNotConnected    = errors.New("livechat: not connected")
	ErrUnmounted       = errors.New("livechat: adapter unmounted")
	ErrUnexpectedFrame = errors.New("livechat: unexpected frame")
)

// ConnectionError represents a connection-level error.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("livechat: %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("livechat: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// SendError represents an error while encoding or sending a frame.
type SendError struct {
	Op  string
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("livechat: send %s: %v", e.Op, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// ProtocolError represents an error frame or handshake violation.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("livechat: protocol error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("livechat: protocol error: %s", e.Message)
}

// ConfigError reports a missing or invalid Config field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("livechat: config %s: %s", e.Field, e.Message)
}

// ErrorKind classifies failures surfaced through an Adapter's state.
type ErrorKind string

const (
	ErrorKindConnectionFailed      ErrorKind = "connection-failed"
	ErrorKindSendWhileDisconnected ErrorKind = "send-while-disconnected"
	ErrorKindSendFailed            ErrorKind = "send-failed"
)

// Error is the error stored in State.Err.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("livechat: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("livechat: %s", e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
