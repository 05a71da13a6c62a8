package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/metrics"
	"github.com/pithecene-io/tether/types"
)

// DefaultTimeout bounds every blocking request.
const DefaultTimeout = 10 * time.Second

// tombstoneCapacity bounds how many expired request ids are remembered.
// A late response older than this many expirations is reported as a
// protocol violation instead of an orphan.
const tombstoneCapacity = 4096

// Transport is the outbound half of the channel to the remote runtime.
//
// Send enqueues a request for the IO worker; it must not block on the
// remote. Alive reports whether the worker that owns the channel is
// currently running.
type Transport interface {
	Send(req *types.Request) error
	Alive() bool
}

type result struct {
	resp *types.Response
	err  error
}

// Correlator matches responses to outstanding requests.
//
// Every call owns a single-use buffered channel, so concurrent callers never
// wait on each other; only the pending table is guarded by mu.
type Correlator struct {
	transport Transport
	timeout   time.Duration
	logger    *log.Logger
	collector *metrics.Collector

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan result
	// expired remembers ids whose waiter gave up, and ids of one-way
	// messages, so a late reply is discarded rather than treated as a fault.
	expired map[int64]struct{}
	ring    []int64
	head    int
	aborted error
}

// NewCorrelator creates a correlator over transport.
// A non-positive timeout selects DefaultTimeout.
func NewCorrelator(transport Transport, timeout time.Duration, logger *log.Logger, collector *metrics.Collector) *Correlator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Correlator{
		transport: transport,
		timeout:   timeout,
		logger:    logger,
		collector: collector,
		pending:   make(map[int64]chan result),
		expired:   make(map[int64]struct{}),
		ring:      make([]int64, 0, tombstoneCapacity),
	}
}

// Timeout returns the per-request deadline.
func (c *Correlator) Timeout() time.Duration {
	return c.timeout
}

// Send issues a request and blocks until its response arrives, the
// correlator timeout elapses, or ctx is done.
//
// A free issued while the channel is down short-circuits to a success value
// without touching the transport. A response tagged TagError is returned as
// *RemoteError.
func (c *Correlator) Send(ctx context.Context, action types.Action, ffid int64, key any, args ...any) (*types.Response, error) {
	if action == types.ActionFree && !c.transport.Alive() {
		c.collector.IncFreeSkipped()
		return &types.Response{Type: types.FrameTypeResponse, Key: types.TagBool, Val: true}, nil
	}

	id := c.nextID.Add(1)
	done := make(chan result, 1)

	c.mu.Lock()
	if c.aborted != nil {
		err := c.aborted
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = done
	c.mu.Unlock()

	req := &types.Request{R: id, Action: action, FFID: ffid, Key: key}
	if action.HasArgs() {
		req.Args = args
	}
	if err := c.transport.Send(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("bridge: send %s: %w", action, err)
	}
	c.collector.IncRequestSent(string(action))
	if action == types.ActionFree {
		c.collector.IncFreeSent()
	}

	res, err := c.await(ctx, id, done, req)
	if err != nil {
		return nil, err
	}
	if res.err != nil {
		return nil, res.err
	}
	if res.resp.Key == types.TagError {
		c.collector.IncRemoteError()
		return nil, &RemoteError{Action: action, FFID: ffid, Key: key, Message: fmt.Sprint(res.resp.Val)}
	}
	return res.resp, nil
}

func (c *Correlator) await(ctx context.Context, id int64, done chan result, req *types.Request) (result, error) {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res, nil
	case <-timer.C:
		if !c.expire(id) {
			// Delivered concurrently with the deadline; the result is buffered.
			return <-done, nil
		}
		c.collector.IncTimeout()
		c.logger.Warn("request timed out", map[string]any{
			"r":      id,
			"action": string(req.Action),
			"ffid":   req.FFID,
			"key":    req.Key,
		})
		return result{}, &ExecutionTimeoutError{Action: req.Action, FFID: req.FFID, Key: req.Key, After: c.timeout}
	case <-ctx.Done():
		if !c.expire(id) {
			return <-done, nil
		}
		return result{}, fmt.Errorf("bridge: %s on ffid %d: %w", req.Action, req.FFID, ctx.Err())
	}
}

// expire removes a pending entry and tombstones its id.
// Returns false if the entry was already consumed by Deliver or Abort.
func (c *Correlator) expire(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	c.tombstoneLocked(id)
	return true
}

func (c *Correlator) tombstoneLocked(id int64) {
	if len(c.ring) < tombstoneCapacity {
		c.ring = append(c.ring, id)
	} else {
		delete(c.expired, c.ring[c.head])
		c.ring[c.head] = id
		c.head = (c.head + 1) % tombstoneCapacity
	}
	c.expired[id] = struct{}{}
}

// Notify sends a one-way message. No response is awaited; any reply the
// remote sends anyway is discarded.
func (c *Correlator) Notify(action types.Action, ffid int64, key any, args ...any) error {
	id := c.nextID.Add(1)

	c.mu.Lock()
	if c.aborted != nil {
		err := c.aborted
		c.mu.Unlock()
		return err
	}
	c.tombstoneLocked(id)
	c.mu.Unlock()

	req := &types.Request{R: id, Action: action, FFID: ffid, Key: key}
	if action.HasArgs() {
		req.Args = args
	}
	if err := c.transport.Send(req); err != nil {
		return fmt.Errorf("bridge: notify %v: %w", key, err)
	}
	c.collector.IncRequestSent(string(action))
	return nil
}

// Deliver hands a response to its waiter and removes the pending entry.
//
// A response for an id that is neither pending nor remembered as expired is
// a *ProtocolError, as is a response with a tag outside the protocol's set.
// Both are fatal; the caller should stop the channel.
func (c *Correlator) Deliver(resp *types.Response) error {
	c.mu.Lock()
	done, ok := c.pending[resp.R]
	if ok {
		delete(c.pending, resp.R)
	}
	_, orphan := c.expired[resp.R]
	if orphan {
		delete(c.expired, resp.R)
	}
	c.mu.Unlock()

	if !ok {
		if orphan {
			c.collector.IncOrphanedResponse()
			c.logger.Debug("discarding late response", map[string]any{"r": resp.R})
			return nil
		}
		c.collector.IncProtocolError()
		return &ProtocolError{Kind: ProtocolUnknownRequest, R: resp.R}
	}

	if !resp.Key.IsKnown() {
		err := &ProtocolError{Kind: ProtocolUnknownTag, R: resp.R, Tag: resp.Key}
		c.collector.IncProtocolError()
		done <- result{err: err}
		return err
	}

	c.collector.IncResponseReceived()
	done <- result{resp: resp}
	return nil
}

// Abort fails every pending request with err and rejects new ones.
// Called once the channel has stopped for good.
func (c *Correlator) Abort(err error) {
	if err == nil {
		err = ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.aborted != nil {
		return
	}
	c.aborted = err
	for id, done := range c.pending {
		done <- result{err: err}
		delete(c.pending, id)
	}
}

// Pending returns the number of requests awaiting a response.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
