package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/tether/iox"
	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/metrics"
	"github.com/pithecene-io/tether/types"
)

// Handler receives the positional arguments of a remote event.
type Handler func(args ...Value)

// Subscription identifies one registration. It is the only way to target a
// specific handler in Unsubscribe; handlers themselves are never compared.
type Subscription struct {
	id int64
}

// PollingID returns the id the remote runtime tags this subscription's
// events with.
func (s Subscription) PollingID() int64 { return s.id }

type registration struct {
	id      int64
	source  int64
	event   string
	handler Handler
	once    bool
}

// events is the callback registry plus its dispatcher.
//
// The IO worker only enqueues event frames. Materialising arguments issues
// blocking requests, which the IO worker would never answer if it were the
// one waiting, so a separate goroutine dispatches in arrival order.
type events struct {
	corr      *Correlator
	bridge    *Bridge
	logger    *log.Logger
	collector *metrics.Collector

	nextID atomic.Int64

	mu    sync.Mutex
	regs  map[int64]*registration
	onces int
	idle  chan struct{} // closed while onces == 0

	frames *queue[*types.EventFrame]
	done   chan struct{}
	// inHandler is set while the dispatcher runs a user handler.
	inHandler atomic.Bool
}

func newEvents(b *Bridge) *events {
	e := &events{
		corr:      b.corr,
		bridge:    b,
		logger:    b.logger,
		collector: b.collector,
		regs:      make(map[int64]*registration),
		idle:      make(chan struct{}),
		frames:    newQueue[*types.EventFrame](),
		done:      make(chan struct{}),
	}
	close(e.idle)
	// Clock-seeded in centiseconds; request ids use a separate counter.
	e.nextID.Store(time.Now().UnixNano() / int64(10*time.Millisecond))
	return e
}

func (e *events) subscribe(source *Proxy, event string, handler Handler, once bool) (Subscription, error) {
	if handler == nil {
		return Subscription{}, fmt.Errorf("bridge: nil handler for %q", event)
	}

	reg := &registration{
		id:      e.nextID.Add(1),
		source:  source.ffid,
		event:   event,
		handler: handler,
		once:    once,
	}

	e.mu.Lock()
	e.regs[reg.id] = reg
	if once {
		e.holdLocked()
	}
	e.mu.Unlock()

	err := e.corr.Notify(types.ActionCall, types.RootFFID, types.KeyStartEventPolling, source.ffid, event, reg.id)
	if err != nil {
		e.mu.Lock()
		if _, ok := e.regs[reg.id]; ok {
			delete(e.regs, reg.id)
			if once {
				e.unholdLocked()
			}
		}
		e.mu.Unlock()
		return Subscription{}, fmt.Errorf("bridge: subscribe %q: %w", event, err)
	}

	e.collector.IncSubscriptionStarted()
	e.logger.Debug("subscribed", map[string]any{
		"ffid":       source.ffid,
		"event":      event,
		"polling_id": reg.id,
		"once":       once,
	})
	return Subscription{id: reg.id}, nil
}

// unsubscribe removes every registration for (source, event), narrowed to
// subs when any are given, and stops polling for each removed id.
func (e *events) unsubscribe(source *Proxy, event string, subs []Subscription) (int, error) {
	var want map[int64]bool
	if len(subs) > 0 {
		want = make(map[int64]bool, len(subs))
		for _, s := range subs {
			want[s.id] = true
		}
	}

	e.mu.Lock()
	var removed []int64
	for id, reg := range e.regs {
		if reg.source != source.ffid || reg.event != event {
			continue
		}
		if want != nil && !want[id] {
			continue
		}
		delete(e.regs, id)
		if reg.once {
			e.unholdLocked()
		}
		removed = append(removed, id)
	}
	e.mu.Unlock()

	var firstErr error
	for _, id := range removed {
		if err := e.stop(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return len(removed), firstErr
}

func (e *events) stop(id int64) error {
	e.collector.IncSubscriptionStopped()
	if err := e.corr.Notify(types.ActionCall, types.RootFFID, types.KeyStopEventPolling, id); err != nil {
		return fmt.Errorf("bridge: stop polling %d: %w", id, err)
	}
	return nil
}

func (e *events) holdLocked() {
	if e.onces == 0 {
		e.idle = make(chan struct{})
	}
	e.onces++
}

func (e *events) unholdLocked() {
	e.onces--
	if e.onces == 0 {
		close(e.idle)
	}
}

// wait blocks until no once-subscription is outstanding.
func (e *events) wait(ctx context.Context) error {
	e.mu.Lock()
	idle := e.idle
	e.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *events) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.regs)
}

func (e *events) enqueue(frame *types.EventFrame) {
	if !e.frames.Enqueue(frame) {
		e.collector.IncEventDropped()
	}
}

func (e *events) run() {
	defer close(e.done)
	for {
		frame, ok := e.frames.Dequeue()
		if !ok {
			return
		}
		e.dispatch(frame)
	}
}

func (e *events) dispatch(frame *types.EventFrame) {
	e.mu.Lock()
	reg, ok := e.regs[frame.PollingID]
	if ok && reg.once {
		delete(e.regs, reg.id)
	}
	e.mu.Unlock()

	if !ok {
		// Benign: an event can cross an unsubscribe in flight.
		e.collector.IncEventDropped()
		e.logger.Debug("event for unknown polling id", map[string]any{"polling_id": frame.PollingID})
		return
	}

	if reg.once {
		defer func() {
			e.mu.Lock()
			e.unholdLocked()
			e.mu.Unlock()
		}()
		if err := e.stop(reg.id); err != nil {
			e.logger.Debug("stop after once failed", map[string]any{"polling_id": reg.id, "error": err.Error()})
		}
	}

	args, err := e.materialize(frame.Val)
	if err != nil {
		e.collector.IncEventDropped()
		e.logger.Warn("event arguments unavailable", map[string]any{
			"polling_id": reg.id,
			"event":      reg.event,
			"error":      err.Error(),
		})
		return
	}

	e.invoke(reg, args)
	e.collector.IncEventDispatched()
}

// materialize turns an event payload into handler arguments. A nil or zero
// payload means no arguments; otherwise the payload names a remote array
// whose elements are read one by one.
func (e *events) materialize(payload any) ([]Value, error) {
	if payload == nil {
		return nil, nil
	}
	ffid, ok := types.AsInt64(payload)
	if !ok {
		return nil, fmt.Errorf("bridge: event payload %v (%T) is not an ffid", payload, payload)
	}
	if ffid == types.RootFFID {
		return nil, nil
	}

	list := e.bridge.newProxy(ffid, types.TagObject, 0, false)
	defer iox.DiscardClose(list)

	var args []Value
	for v, err := range list.Values(context.Background()) {
		if err != nil {
			for _, a := range args {
				if p, ok := a.(*Proxy); ok {
					iox.DiscardClose(p)
				}
			}
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

func (e *events) invoke(reg *registration, args []Value) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked", map[string]any{
				"polling_id": reg.id,
				"event":      reg.event,
				"panic":      fmt.Sprint(r),
			})
		}
	}()
	e.inHandler.Store(true)
	defer e.inHandler.Store(false)
	reg.handler(args...)
}

// close stops dispatch and waits for the dispatcher to drain. Called from a
// handler, it cannot wait for its own goroutine; the dispatcher exits once
// that handler returns.
func (e *events) close() {
	e.frames.Close()
	if e.inHandler.Load() {
		return
	}
	<-e.done
}
