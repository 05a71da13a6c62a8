package bridgetest

import (
	"errors"
	"fmt"
	"io"

	"github.com/pithecene-io/tether/ipc"
)

// ServeFrames answers length-prefixed requests read from r, writing
// responses and scheduled events to w, until r reaches EOF.
func (h *Heap) ServeFrames(r io.Reader, w io.Writer, codec ipc.Codec) error {
	dec := ipc.NewFrameDecoder(r)
	enc := ipc.NewFrameEncoder(w)

	write := func(v any) error {
		payload, err := ipc.Encode(codec, v)
		if err != nil {
			return err
		}
		return enc.WriteFrame(payload)
	}

	for {
		payload, err := dec.ReadFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		req, err := ipc.DecodeRequest(codec, payload)
		if err != nil {
			return fmt.Errorf("bridgetest: %w", err)
		}
		if resp := h.Serve(req); resp != nil {
			if err := write(resp); err != nil {
				return err
			}
		}
		for _, f := range h.TakeScheduled() {
			if err := write(f); err != nil {
				return err
			}
		}
	}
}
