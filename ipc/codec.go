package ipc

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec converts frame payloads to and from Go values.
type Codec interface {
	// Name is the identifier used in configuration.
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Codec names.
const (
	CodecMsgpack = "msgpack"
	CodecCBOR    = "cbor"
)

// MsgpackCodec is the default payload codec.
type MsgpackCodec struct{}

// Name implements Codec.
func (MsgpackCodec) Name() string { return CodecMsgpack }

// Marshal implements Codec.
func (MsgpackCodec) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

// Unmarshal implements Codec.
func (MsgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// CBORCodec encodes payloads as canonical CBOR. Untyped maps decode as
// map[string]any so values look the same as under msgpack.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec builds a CBORCodec.
func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("ipc: cbor enc mode: %w", err)
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("ipc: cbor dec mode: %w", err)
	}
	return &CBORCodec{enc: enc, dec: dec}, nil
}

// Name implements Codec.
func (c *CBORCodec) Name() string { return CodecCBOR }

// Marshal implements Codec.
func (c *CBORCodec) Marshal(v any) ([]byte, error) { return c.enc.Marshal(v) }

// Unmarshal implements Codec.
func (c *CBORCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

// ParseCodec returns the codec registered under name.
// An empty name selects msgpack.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", CodecMsgpack:
		return MsgpackCodec{}, nil
	case CodecCBOR:
		return NewCBORCodec()
	default:
		return nil, fmt.Errorf("invalid codec: %q (must be msgpack or cbor)", name)
	}
}
