// Package types defines the wire shapes exchanged with the remote runtime.
//
//nolint:revive // types is a common Go package naming convention
package types

import "math"

// RootFFID is the well-known foreign reference of the remote global scope.
const RootFFID int64 = 0

// Action is the operation a Request asks the remote runtime to perform.
type Action string

// Action constants.
const (
	ActionGet       Action = "get"
	ActionCall      Action = "call"
	ActionInit      Action = "init"
	ActionInspect   Action = "inspect"
	ActionSerialize Action = "serialize"
	ActionFree      Action = "free"
	ActionLength    Action = "length"
)

// HasArgs reports whether requests for this action carry an args list.
func (a Action) HasArgs() bool {
	return a == ActionCall || a == ActionInit
}

// Control keys for one-way event polling instructions. They are sent as
// ActionCall against RootFFID and never answered.
const (
	KeyStartEventPolling = "startEventPolling"
	KeyStopEventPolling  = "stopEventPolling"
)

// TypeTag tells the host how to interpret a Response value.
type TypeTag string

// Reference tags. Values carrying these tags are handles, never copies.
const (
	TagFunction TypeTag = "fn"
	TagClass    TypeTag = "class"
	TagObject   TypeTag = "obj"
	TagInstance TypeTag = "inst"
	TagVoid     TypeTag = "void"
)

// Primitive tags. The value is already locally representable.
const (
	TagString TypeTag = "string"
	TagNumber TypeTag = "num"
	TagInt    TypeTag = "int"
	TagBool   TypeTag = "bool"
)

// TagError marks a response whose value is the message of an exception
// thrown by the remote runtime while serving the request.
const TagError TypeTag = "error"

// IsPrimitive returns true for tags whose value needs no indirection.
func (t TypeTag) IsPrimitive() bool {
	switch t {
	case TagString, TagNumber, TagInt, TagBool:
		return true
	}
	return false
}

// IsKnown returns true if t belongs to the protocol's closed tag set.
func (t TypeTag) IsKnown() bool {
	switch t {
	case TagFunction, TagClass, TagObject, TagInstance, TagVoid, TagError:
		return true
	}
	return t.IsPrimitive()
}

// FrameType discriminates inbound frames.
type FrameType string

// Inbound frame discriminants.
const (
	FrameTypeResponse FrameType = "response"
	FrameTypeEvent    FrameType = "event"
)

// Request is one outbound operation against a remote object.
// Key is a string attribute name or an integer index.
type Request struct {
	// R correlates the request with its response.
	R int64 `msgpack:"r" cbor:"r"`
	// Action is the requested operation.
	Action Action `msgpack:"action" cbor:"action"`
	// FFID names the remote object the action applies to.
	FFID int64 `msgpack:"ffid" cbor:"ffid"`
	// Key is the attribute name or index, empty for ffid-only actions.
	Key any `msgpack:"key" cbor:"key"`
	// Args are the already-marshaled positional arguments (call/init only).
	Args []any `msgpack:"args,omitempty" cbor:"args,omitempty"`
}

// Response completes the Request with the same R.
type Response struct {
	// Type is always FrameTypeResponse.
	Type FrameType `msgpack:"type" cbor:"type"`
	// R is the originating request id.
	R int64 `msgpack:"r" cbor:"r"`
	// Key is the type tag of Val.
	Key TypeTag `msgpack:"key" cbor:"key"`
	// Val is an ffid for reference tags, nil for void, or a primitive.
	Val any `msgpack:"val" cbor:"val"`
}

// EventFrame reports that a polled remote event fired.
type EventFrame struct {
	// Type is always FrameTypeEvent.
	Type FrameType `msgpack:"type" cbor:"type"`
	// PollingID identifies the local subscription.
	PollingID int64 `msgpack:"p" cbor:"p"`
	// Val is the ffid of the remote arguments array, or nil when the event
	// carried no arguments.
	Val any `msgpack:"val" cbor:"val"`
}

// AsInt64 converts a decoded numeric value to int64.
// Codecs decode integers into whichever Go width fits, so every ffid read
// from the wire goes through here. Floats must be integral.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), n <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	case float32:
		return floatToInt64(float64(n))
	case float64:
		return floatToInt64(n)
	default:
		return 0, false
	}
}

// floatToInt64 accepts integral floats inside the int64 range. NaN and the
// infinities fail both checks.
func floatToInt64(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
