package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/tether/types"
)

var (
	// ErrInvalidAccess is returned when an attribute is read from a function
	// wrapper. Functions must be called or constructed, not reached into.
	ErrInvalidAccess = errors.New("bridge: cannot access attributes of a function (call it, or use new)")

	// ErrImmutableObject is returned when a caller tries to mutate a proxy.
	ErrImmutableObject = errors.New("bridge: remote objects are immutable")

	// ErrClosed is returned by operations on a closed bridge.
	ErrClosed = errors.New("bridge: closed")
)

// ExecutionTimeoutError reports a request that received no response within
// the correlator timeout. It is never retried.
type ExecutionTimeoutError struct {
	Action types.Action
	FFID   int64
	Key    any
	After  time.Duration
}

func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("bridge: %s on ffid %d key %v timed out after %v", e.Action, e.FFID, e.Key, e.After)
}

// Timeout reports true, matching net.Error style timeout checks.
func (e *ExecutionTimeoutError) Timeout() bool {
	return true
}

// IsTimeout returns true if err is or wraps an ExecutionTimeoutError.
func IsTimeout(err error) bool {
	var te *ExecutionTimeoutError
	return errors.As(err, &te)
}

// ProtocolErrorKind classifies protocol integrity faults.
type ProtocolErrorKind int

const (
	// ProtocolUnknownRequest is a response for an id that was never issued.
	ProtocolUnknownRequest ProtocolErrorKind = iota
	// ProtocolUnknownTag is a response whose type tag is outside the known set.
	ProtocolUnknownTag
	// ProtocolBadValue is a response whose value does not fit its tag.
	ProtocolBadValue
)

func (k ProtocolErrorKind) String() string {
	switch k {
	case ProtocolUnknownRequest:
		return "unknown_request"
	case ProtocolUnknownTag:
		return "unknown_tag"
	case ProtocolBadValue:
		return "bad_value"
	default:
		return "unknown"
	}
}

// ProtocolError is a fatal integrity fault on the channel. The bridge cannot
// recover from one; the session is torn down.
type ProtocolError struct {
	Kind ProtocolErrorKind
	R    int64
	Tag  types.TypeTag
	Msg  string
}

func (e *ProtocolError) Error() string {
	switch e.Kind {
	case ProtocolUnknownRequest:
		return fmt.Sprintf("bridge: protocol violation: response for unknown request %d", e.R)
	case ProtocolUnknownTag:
		return fmt.Sprintf("bridge: protocol violation: unknown type tag %q (request %d)", e.Tag, e.R)
	default:
		return fmt.Sprintf("bridge: protocol violation: %s (request %d)", e.Msg, e.R)
	}
}

// IsProtocolError returns true if err is or wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// RemoteError carries an exception raised by the remote runtime while
// serving a request.
type RemoteError struct {
	Action  types.Action
	FFID    int64
	Key     any
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bridge: remote %s on ffid %d key %v failed: %s", e.Action, e.FFID, e.Key, e.Message)
}
