package commons

import "fmt"

// ErrorKind classifies a streaming-engine failure. Kinds are stable strings
// so they can be surfaced verbatim in error events and logs.
type ErrorKind string

const (
	// ErrInvalidFormat — a codec received input violating its precondition.
	ErrInvalidFormat ErrorKind = "INVALID_FORMAT"
	// ErrNotConnected — ingress pushed or upstream send attempted while the
	// upstream connection is not open.
	ErrNotConnected ErrorKind = "NOT_CONNECTED"
	// ErrUpstreamProtocol — a text frame that is not valid JSON or lacks "type".
	ErrUpstreamProtocol ErrorKind = "UPSTREAM_PROTOCOL"
	// ErrUpstreamTransport — socket error, unexpected close, handshake failure.
	ErrUpstreamTransport ErrorKind = "UPSTREAM_TRANSPORT"
	// ErrBackoffExhausted — the reconnect attempt ceiling was reached.
	ErrBackoffExhausted ErrorKind = "BACKOFF_EXHAUSTED"
	// ErrSessionGone — operation on a session past its terminal status.
	ErrSessionGone ErrorKind = "SESSION_GONE"
)

// StreamError carries an ErrorKind alongside a human-readable message and an
// optional wrapped cause.
type StreamError struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func NewStreamError(kind ErrorKind, message string) *StreamError {
	return &StreamError{Kind: kind, Message: message}
}

func WrapStreamError(kind ErrorKind, message string, cause error) *StreamError {
	return &StreamError{Kind: kind, Message: message, cause: cause}
}

func (e *StreamError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StreamError) Unwrap() error {
	return e.cause
}

// IsKind reports whether err is a StreamError of the given kind, unwrapping
// as needed.
func IsKind(err error, kind ErrorKind) bool {
	for err != nil {
		if se, ok := err.(*StreamError); ok {
			return se.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
