// Package ipc implements the length-prefixed framing spoken with the remote
// runtime over its stdio pipes.
package ipc

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pithecene-io/tether/types"
)

// Frame size constants.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxFrameSize - 4 bytes).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// FrameErrorKind classifies frame errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a payload the codec could not decode.
	FrameErrorDecode
	// FrameErrorEncode indicates an outbound value the codec could not encode.
	FrameErrorEncode
)

// FrameError represents a framing or codec error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the stream cannot be resynchronized after this
// error. Partial and oversized frames are fatal; a single undecodable
// payload is not, since the length prefix still delimits the next frame.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// FrameDecoder decodes length-prefixed frames from a stream.
type FrameDecoder struct {
	reader *bufio.Reader
}

// NewFrameDecoder creates a new frame decoder.
// The reader is buffered so pipes returning a few bytes per read(2) do not
// turn every frame into many syscalls.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{reader: bufio.NewReader(r)}
}

// ReadFrame reads a single frame from the stream and returns its payload.
//
// Errors:
//   - io.EOF: stream ended cleanly (no more frames)
//   - *FrameError with Kind=FrameErrorPartial: incomplete frame (fatal)
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit (fatal)
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(d.reader, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	_, err = io.ReadFull(d.reader, payload)
	if err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}

	return payload, nil
}

// FrameEncoder writes length-prefixed frames to a stream.
// WriteFrame is safe for concurrent use; each frame is written atomically
// with respect to other WriteFrame calls.
type FrameEncoder struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewFrameEncoder creates a new frame encoder.
func NewFrameEncoder(w io.Writer) *FrameEncoder {
	return &FrameEncoder{writer: w}
}

// WriteFrame writes payload prefixed with its big-endian length.
func (e *FrameEncoder) WriteFrame(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}

	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.writer.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// frameTypeProbe is used to peek at the type field without full decode.
type frameTypeProbe struct {
	Type types.FrameType `msgpack:"type" cbor:"type"`
}

// DecodeFrame decodes an inbound payload and returns either a
// *types.Response or a *types.EventFrame, discriminated by the type field.
func DecodeFrame(codec Codec, payload []byte) (any, error) {
	var probe frameTypeProbe
	if err := codec.Unmarshal(payload, &probe); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode frame type",
			Err:  err,
		}
	}

	switch probe.Type {
	case types.FrameTypeResponse:
		return DecodeResponse(codec, payload)
	case types.FrameTypeEvent:
		return DecodeEvent(codec, payload)
	default:
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("unknown frame type %q", probe.Type),
		}
	}
}

// DecodeResponse decodes a payload as a Response.
func DecodeResponse(codec Codec, payload []byte) (*types.Response, error) {
	var resp types.Response
	if err := codec.Unmarshal(payload, &resp); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode response",
			Err:  err,
		}
	}
	return &resp, nil
}

// DecodeEvent decodes a payload as an EventFrame.
func DecodeEvent(codec Codec, payload []byte) (*types.EventFrame, error) {
	var ev types.EventFrame
	if err := codec.Unmarshal(payload, &ev); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode event",
			Err:  err,
		}
	}
	return &ev, nil
}

// DecodeRequest decodes a payload as a Request. Used by remote-side
// implementations and test fakes.
func DecodeRequest(codec Codec, payload []byte) (*types.Request, error) {
	var req types.Request
	if err := codec.Unmarshal(payload, &req); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode request",
			Err:  err,
		}
	}
	return &req, nil
}

// Encode marshals an outbound value with codec, classifying failures as
// FrameErrorEncode.
func Encode(codec Codec, v any) ([]byte, error) {
	payload, err := codec.Marshal(v)
	if err != nil {
		return nil, &FrameError{
			Kind: FrameErrorEncode,
			Msg:  fmt.Sprintf("failed to encode %T", v),
			Err:  err,
		}
	}
	return payload, nil
}
