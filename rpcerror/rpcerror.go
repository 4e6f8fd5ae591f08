// Package rpcerror defines the failure taxonomy of the facade RPC client.
//
// Every operation surfaces one of these types synchronously; nothing is retried or
// suppressed. The Is* predicates resolve the root cause first, so an error that was
// wrapped with github.com/nuclio/errors on its way up still classifies correctly.
package rpcerror

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"

	"github.com/nuclio/errors"
)

// ConnectionError means the transport could not be established.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportError is a write/read failure or a disconnect in the middle of a session.
type TransportError struct {
	Op  string // "write" or "read"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError is returned when a caller-imposed deadline elapses or the caller's
// context is cancelled while an operation is blocked on the socket.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transport %s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// EncodingError means the request could not be serialized. Nothing was sent.
type EncodingError struct {
	Method string
	Err    error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode request %q: %v", e.Method, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// DecodingError means an inbound line was not a well-formed envelope.
type DecodingError struct {
	Line []byte
	Err  error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("decode %q: %v", truncate(e.Line, 128), e.Err)
}

func (e *DecodingError) Unwrap() error { return e.Err }

// RemoteError is a well-formed response whose error member is not null.
type RemoteError struct {
	Method string

	// Payload is the error member exactly as received
	Payload json.RawMessage
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %q failed: %s", e.Method, e.Message())
}

// Message extracts a human readable message from the payload. String payloads are
// returned as-is, objects yield their "message" member, anything else its JSON text.
func (e *RemoteError) Message() string {
	var text string
	if err := json.Unmarshal(e.Payload, &text); err == nil {
		return text
	}

	var object struct {
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(e.Payload, &object); err == nil && object.Message != nil {
		return *object.Message
	}

	return string(e.Payload)
}

// AuthenticationError means the facade rejected the handshake secret.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// InvalidCallbackIDError means a callback was dispatched to an id that was never registered.
type InvalidCallbackIDError struct {
	ID    int
	Count int
}

func (e *InvalidCallbackIDError) Error() string {
	return "invalid callback id " + strconv.Itoa(e.ID) + " (registered: " + strconv.Itoa(e.Count) + ")"
}

func IsConnectionError(err error) bool {
	_, ok := find[*ConnectionError](err)
	return ok
}

func IsTransportError(err error) bool {
	_, ok := find[*TransportError](err)
	return ok
}

func IsTimeoutError(err error) bool {
	_, ok := find[*TimeoutError](err)
	return ok
}

func IsEncodingError(err error) bool {
	_, ok := find[*EncodingError](err)
	return ok
}

func IsDecodingError(err error) bool {
	_, ok := find[*DecodingError](err)
	return ok
}

func IsAuthenticationError(err error) bool {
	_, ok := find[*AuthenticationError](err)
	return ok
}

func IsInvalidCallbackIDError(err error) bool {
	_, ok := find[*InvalidCallbackIDError](err)
	return ok
}

// AsRemoteError returns the RemoteError err carries, if any.
func AsRemoteError(err error) (*RemoteError, bool) {
	return find[*RemoteError](err)
}

// find looks at the nuclio root cause first, then walks the standard Unwrap chain
func find[T error](err error) (T, bool) {
	if target, ok := errors.RootCause(err).(T); ok {
		return target, true
	}

	var target T
	if stderrors.As(err, &target) {
		return target, true
	}

	return target, false
}

func truncate(line []byte, max int) string {
	if len(line) <= max {
		return string(line)
	}
	return string(line[:max]) + "..."
}
