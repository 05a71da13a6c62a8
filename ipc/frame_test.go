package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/tether/types"
)

// encodeFrame encodes a payload with length prefix (matches the remote bridge output).
func encodeFrame(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

func mustCodecs(t *testing.T) []Codec {
	t.Helper()
	cb, err := NewCBORCodec()
	if err != nil {
		t.Fatalf("NewCBORCodec failed: %v", err)
	}
	return []Codec{MsgpackCodec{}, cb}
}

func TestFrameEncoder_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewFrameEncoder(&buf)

	payloads := [][]byte{[]byte("one"), {}, []byte("three")}
	for _, p := range payloads {
		if err := enc.WriteFrame(p); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	dec := NewFrameDecoder(&buf)
	for i, want := range payloads {
		got, err := dec.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame %d failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d = %q, want %q", i, got, want)
		}
	}

	if _, err := dec.ReadFrame(); err != io.EOF {
		t.Errorf("expected io.EOF after last frame, got %v", err)
	}
}

func TestDecodeFrame_Response(t *testing.T) {
	for _, codec := range mustCodecs(t) {
		t.Run(codec.Name(), func(t *testing.T) {
			payload, err := Encode(codec, &types.Response{
				Type: types.FrameTypeResponse,
				R:    17,
				Key:  types.TagObject,
				Val:  int64(42),
			})
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			decoded, err := DecodeFrame(codec, payload)
			if err != nil {
				t.Fatalf("DecodeFrame failed: %v", err)
			}
			resp, ok := decoded.(*types.Response)
			if !ok {
				t.Fatalf("DecodeFrame returned %T, want *types.Response", decoded)
			}
			if resp.R != 17 {
				t.Errorf("R = %d, want 17", resp.R)
			}
			if resp.Key != types.TagObject {
				t.Errorf("Key = %q, want %q", resp.Key, types.TagObject)
			}
			if ffid, ok := types.AsInt64(resp.Val); !ok || ffid != 42 {
				t.Errorf("Val = %v (%T), want 42", resp.Val, resp.Val)
			}
		})
	}
}

func TestDecodeFrame_Event(t *testing.T) {
	for _, codec := range mustCodecs(t) {
		t.Run(codec.Name(), func(t *testing.T) {
			payload, err := Encode(codec, &types.EventFrame{
				Type:      types.FrameTypeEvent,
				PollingID: 170000000001,
				Val:       nil,
			})
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			decoded, err := DecodeFrame(codec, payload)
			if err != nil {
				t.Fatalf("DecodeFrame failed: %v", err)
			}
			ev, ok := decoded.(*types.EventFrame)
			if !ok {
				t.Fatalf("DecodeFrame returned %T, want *types.EventFrame", decoded)
			}
			if ev.PollingID != 170000000001 {
				t.Errorf("PollingID = %d, want 170000000001", ev.PollingID)
			}
			if ev.Val != nil {
				t.Errorf("Val = %v, want nil", ev.Val)
			}
		})
	}
}

func TestDecodeRequest_PreservesArgs(t *testing.T) {
	for _, codec := range mustCodecs(t) {
		t.Run(codec.Name(), func(t *testing.T) {
			payload, err := Encode(codec, &types.Request{
				R:      5,
				Action: types.ActionCall,
				FFID:   3,
				Key:    "greet",
				Args:   []any{"world", map[string]any{"ffid": int64(9)}},
			})
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			req, err := DecodeRequest(codec, payload)
			if err != nil {
				t.Fatalf("DecodeRequest failed: %v", err)
			}
			if req.Action != types.ActionCall || req.FFID != 3 || req.Key != "greet" {
				t.Errorf("decoded request = %+v", req)
			}
			if len(req.Args) != 2 {
				t.Fatalf("len(Args) = %d, want 2", len(req.Args))
			}
			handle, ok := req.Args[1].(map[string]any)
			if !ok {
				t.Fatalf("Args[1] = %T, want map[string]any", req.Args[1])
			}
			if ffid, ok := types.AsInt64(handle["ffid"]); !ok || ffid != 9 {
				t.Errorf("Args[1][ffid] = %v, want 9", handle["ffid"])
			}
		})
	}
}

func TestDecodeRequest_OmitsEmptyArgs(t *testing.T) {
	payload, err := msgpack.Marshal(&types.Request{R: 1, Action: types.ActionGet, FFID: 0, Key: "console"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var raw map[string]any
	if err := msgpack.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if _, ok := raw["args"]; ok {
		t.Error("args should be omitted for ffid-only actions")
	}
}

func TestDecodeFrame_UnknownType(t *testing.T) {
	payload, err := msgpack.Marshal(map[string]any{"type": "heartbeat"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	_, err = DecodeFrame(MsgpackCodec{}, payload)
	if err == nil {
		t.Fatal("expected error for unknown frame type")
	}

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %T", err)
	}
	if frameErr.Kind != FrameErrorDecode {
		t.Errorf("Kind = %v, want FrameErrorDecode", frameErr.Kind)
	}
	if frameErr.IsFatal() {
		t.Error("decode errors should not be fatal")
	}
}

func TestFrameDecoder_PartialFrame(t *testing.T) {
	payload, _ := msgpack.Marshal(&types.Response{Type: types.FrameTypeResponse, R: 1, Key: types.TagVoid})
	frame := encodeFrame(payload)

	// Keep only length prefix + half payload
	truncated := frame[:LengthPrefixSize+len(frame[LengthPrefixSize:])/2]

	decoder := NewFrameDecoder(bytes.NewReader(truncated))
	_, err := decoder.ReadFrame()
	if err == nil {
		t.Fatal("expected error for truncated frame")
	}

	if !IsFatalFrameError(err) {
		t.Errorf("expected fatal frame error, got: %v", err)
	}

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %T", err)
	}
	if frameErr.Kind != FrameErrorPartial {
		t.Errorf("Kind = %v, want FrameErrorPartial", frameErr.Kind)
	}
}

func TestFrameDecoder_OversizedFrame(t *testing.T) {
	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], MaxPayloadSize+1)

	decoder := NewFrameDecoder(bytes.NewReader(lengthBuf[:]))
	_, err := decoder.ReadFrame()

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %T (%v)", err, err)
	}
	if frameErr.Kind != FrameErrorTooLarge {
		t.Errorf("Kind = %v, want FrameErrorTooLarge", frameErr.Kind)
	}
	if !frameErr.IsFatal() {
		t.Error("FrameErrorTooLarge.IsFatal() should return true")
	}
}

func TestFrameEncoder_Oversized(t *testing.T) {
	enc := NewFrameEncoder(io.Discard)
	err := enc.WriteFrame(make([]byte, MaxPayloadSize+1))
	if !IsFatalFrameError(err) {
		t.Errorf("expected fatal frame error, got %v", err)
	}
}

func TestFrameDecoder_EmptyStream(t *testing.T) {
	decoder := NewFrameDecoder(bytes.NewReader(nil))
	_, err := decoder.ReadFrame()
	if err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestFrameDecoder_TruncatedLengthPrefix(t *testing.T) {
	decoder := NewFrameDecoder(bytes.NewReader([]byte{0x00, 0x01}))
	_, err := decoder.ReadFrame()

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %T", err)
	}
	if frameErr.Kind != FrameErrorPartial {
		t.Errorf("Kind = %v, want FrameErrorPartial", frameErr.Kind)
	}
}

func TestFrameError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	err := &FrameError{Kind: FrameErrorDecode, Msg: "outer", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped error")
	}
	if got := err.Error(); got != "outer: inner" {
		t.Errorf("Error() = %q, want %q", got, "outer: inner")
	}
}

func TestIsFatalFrameError_NonFrameError(t *testing.T) {
	if IsFatalFrameError(errors.New("plain")) {
		t.Error("plain errors are never fatal frame errors")
	}
	if IsFatalFrameError(nil) {
		t.Error("nil is never a fatal frame error")
	}
}

func TestParseCodec(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", CodecMsgpack, false},
		{"msgpack", CodecMsgpack, false},
		{" CBOR ", CodecCBOR, false},
		{"json", "", true},
	}

	for _, tt := range tests {
		codec, err := ParseCodec(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseCodec(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCodec(%q) failed: %v", tt.in, err)
			continue
		}
		if codec.Name() != tt.want {
			t.Errorf("ParseCodec(%q).Name() = %q, want %q", tt.in, codec.Name(), tt.want)
		}
	}
}
