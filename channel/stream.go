// Package channel owns the byte stream to the remote runtime: the child
// process and the single worker that reads and writes its frames.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pithecene-io/tether/ipc"
	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/metrics"
	"github.com/pithecene-io/tether/types"
)

// ErrClosed is returned by Send once the worker has stopped.
var ErrClosed = errors.New("channel: closed")

// Handler consumes decoded inbound frames, in arrival order, on the worker
// goroutine. A non-nil error stops the worker.
type Handler interface {
	HandleFrame(frame any) error
}

// StreamError classifies why the worker stopped.
type StreamError struct {
	Kind StreamErrorKind
	Err  error
}

// StreamErrorKind classifies stream errors.
type StreamErrorKind int

const (
	// StreamErrorFrame is a fatal framing error on the inbound side.
	StreamErrorFrame StreamErrorKind = iota
	// StreamErrorWrite is a failed write to the remote's input.
	StreamErrorWrite
	// StreamErrorProtocol is a fatal error reported by the Handler.
	StreamErrorProtocol
	// StreamErrorCanceled is context cancellation.
	StreamErrorCanceled
)

func (e *StreamError) Error() string {
	return e.Err.Error()
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// IsCanceledError returns true if the worker stopped because its context
// was canceled.
func IsCanceledError(err error) bool {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Kind == StreamErrorCanceled
	}
	return false
}

// IsProtocolError returns true if the worker stopped on a Handler error.
func IsProtocolError(err error) bool {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Kind == StreamErrorProtocol
	}
	return false
}

type readResult struct {
	frame any
	err   error
}

// Stream is the single IO actor for one remote runtime.
//
// Send may be called from any goroutine. It encodes on the caller and queues
// the payload; only Run writes to the remote or reads from it.
type Stream struct {
	codec     ipc.Codec
	reader    io.Reader
	encoder   *ipc.FrameEncoder
	logger    *log.Logger
	collector *metrics.Collector

	mu      sync.Mutex
	outbox  [][]byte
	signal  chan struct{}
	started bool
	closed  bool

	alive atomic.Bool
}

// NewStream creates a stream reading frames from r and writing to w.
func NewStream(r io.Reader, w io.Writer, codec ipc.Codec, logger *log.Logger, collector *metrics.Collector) *Stream {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Stream{
		codec:     codec,
		reader:    r,
		encoder:   ipc.NewFrameEncoder(w),
		logger:    logger,
		collector: collector,
		signal:    make(chan struct{}, 1),
	}
}

// Alive reports whether Run is executing.
func (s *Stream) Alive() bool {
	return s.alive.Load()
}

// Send encodes req and queues it for the worker. It never blocks on the
// remote. Requests sent before Run starts are written once it does.
func (s *Stream) Send(req *types.Request) error {
	payload, err := ipc.Encode(s.codec, req)
	if err != nil {
		return err
	}
	if len(payload) > ipc.MaxPayloadSize {
		return &ipc.FrameError{
			Kind: ipc.FrameErrorTooLarge,
			Msg:  fmt.Sprintf("request %d payload %d exceeds max %d", req.R, len(payload), ipc.MaxPayloadSize),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.outbox = append(s.outbox, payload)
	select {
	case s.signal <- struct{}{}:
	default:
	}
	return nil
}

// Run is the worker loop. It writes queued requests in order and hands
// every inbound frame to h until the remote closes its output, a fatal error
// occurs, or ctx is done.
//
// Returns:
//   - nil: the remote closed its output cleanly (EOF)
//   - *StreamError: the worker stopped on an error
func (s *Stream) Run(ctx context.Context, h Handler) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("channel: stream already running")
	}
	s.started = true
	s.mu.Unlock()

	s.alive.Store(true)
	defer func() {
		s.alive.Store(false)
		s.mu.Lock()
		s.closed = true
		s.outbox = nil
		s.mu.Unlock()
	}()

	stop := make(chan struct{})
	defer close(stop)
	frames := make(chan readResult)
	go s.readLoop(frames, stop)

	for {
		select {
		case <-ctx.Done():
			return &StreamError{Kind: StreamErrorCanceled, Err: ctx.Err()}

		case <-s.signal:
			if err := s.flush(); err != nil {
				s.logger.Error("write failed", map[string]any{"error": err.Error()})
				return &StreamError{Kind: StreamErrorWrite, Err: fmt.Errorf("write error: %w", err)}
			}

		case res := <-frames:
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					s.logger.Debug("remote closed its output", nil)
					return nil
				}
				if ipc.IsFatalFrameError(res.err) {
					s.logger.Error("frame error", map[string]any{"error": res.err.Error()})
					return &StreamError{Kind: StreamErrorFrame, Err: fmt.Errorf("frame error: %w", res.err)}
				}
				// A bad payload is still delimited; the stream stays in sync.
				s.collector.IncIPCDecodeErrors()
				s.logger.Warn("frame decode error", map[string]any{"error": res.err.Error()})
				continue
			}
			if err := h.HandleFrame(res.frame); err != nil {
				s.logger.Error("fatal frame", map[string]any{"error": err.Error()})
				return &StreamError{Kind: StreamErrorProtocol, Err: err}
			}
		}
	}
}

func (s *Stream) flush() error {
	s.mu.Lock()
	batch := s.outbox
	s.outbox = nil
	s.mu.Unlock()

	for _, payload := range batch {
		if err := s.encoder.WriteFrame(payload); err != nil {
			return err
		}
	}
	return nil
}

// readLoop reads and decodes frames. It never touches the Handler.
func (s *Stream) readLoop(out chan<- readResult, stop <-chan struct{}) {
	dec := ipc.NewFrameDecoder(s.reader)
	for {
		payload, err := dec.ReadFrame()
		var res readResult
		if err != nil {
			res.err = err
		} else {
			res.frame, res.err = ipc.DecodeFrame(s.codec, payload)
		}

		select {
		case out <- res:
		case <-stop:
			return
		}

		if err != nil {
			return
		}
	}
}
