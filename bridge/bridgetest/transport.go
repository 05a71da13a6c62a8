package bridgetest

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pithecene-io/tether/types"
)

// ErrStopped is returned by Send after Stop.
var ErrStopped = errors.New("bridgetest: transport stopped")

// FrameHandler consumes inbound frames. *bridge.Bridge satisfies it.
type FrameHandler interface {
	HandleFrame(frame any) error
}

// Transport is a loopback channel to a Heap.
//
// Requests are served in order on a single worker goroutine, and responses
// and events are handed to the attached handler from that goroutine, the way
// the real channel worker does.
type Transport struct {
	heap  *Heap
	alive atomic.Bool

	mu       sync.Mutex
	handler  FrameHandler
	requests []types.Request
	drop     func(*types.Request) bool
	errs     []error
	stopped  bool

	work chan func()
	done chan struct{}
}

// NewTransport starts a transport serving heap.
func NewTransport(heap *Heap) *Transport {
	t := &Transport{
		heap: heap,
		work: make(chan func(), 1024),
		done: make(chan struct{}),
	}
	t.alive.Store(true)
	go t.run()
	return t
}

func (t *Transport) run() {
	defer close(t.done)
	for fn := range t.work {
		if fn == nil {
			return
		}
		fn()
	}
}

func (t *Transport) enqueue(fn func()) bool {
	select {
	case t.work <- fn:
		return true
	case <-t.done:
		return false
	}
}

// Attach sets the frame handler. Must be called before the first Send.
func (t *Transport) Attach(h FrameHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// SetAlive controls what Alive reports.
func (t *Transport) SetAlive(alive bool) {
	t.alive.Store(alive)
}

// Alive implements bridge.Transport.
func (t *Transport) Alive() bool {
	return t.alive.Load()
}

// DropWhen makes the transport swallow requests matching fn, so they never
// get a response. A nil fn restores normal service.
func (t *Transport) DropWhen(fn func(*types.Request) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drop = fn
}

// Send implements bridge.Transport.
func (t *Transport) Send(req *types.Request) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return ErrStopped
	}
	t.requests = append(t.requests, *req)
	drop := t.drop
	t.mu.Unlock()

	if drop != nil && drop(req) {
		return nil
	}
	r := *req
	ok := t.enqueue(func() {
		if resp := t.heap.Serve(&r); resp != nil {
			t.deliver(resp)
		}
		for _, f := range t.heap.TakeScheduled() {
			t.deliver(f)
		}
	})
	if !ok {
		return ErrStopped
	}
	return nil
}

// Inject hands frame to the handler from the worker goroutine.
func (t *Transport) Inject(frame any) {
	t.enqueue(func() { t.deliver(frame) })
}

// Fire emits event on ffid through the worker.
func (t *Transport) Fire(ffid int64, event string, args ...any) int {
	frames := t.heap.Fire(ffid, event, args...)
	for _, f := range frames {
		t.Inject(f)
	}
	return len(frames)
}

// Flush waits until everything queued so far has been handled.
func (t *Transport) Flush() {
	ch := make(chan struct{})
	if t.enqueue(func() { close(ch) }) {
		select {
		case <-ch:
		case <-t.done:
		}
	}
}

func (t *Transport) deliver(frame any) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h == nil {
		return
	}
	if err := h.HandleFrame(frame); err != nil {
		t.mu.Lock()
		t.errs = append(t.errs, err)
		t.mu.Unlock()
	}
}

// Requests returns a copy of every request sent so far.
func (t *Transport) Requests() []types.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]types.Request(nil), t.requests...)
}

// RequestsFor returns the requests with the given action.
func (t *Transport) RequestsFor(action types.Action) []types.Request {
	var out []types.Request
	for _, r := range t.Requests() {
		if r.Action == action {
			out = append(out, r)
		}
	}
	return out
}

// Errors returns the errors the handler reported.
func (t *Transport) Errors() []error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]error(nil), t.errs...)
}

// Stop rejects further sends and stops the worker after it drains.
func (t *Transport) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()
	t.alive.Store(false)
	t.enqueue(nil)
	<-t.done
}
