// Package bridge drives objects that live in a remote runtime.
//
// Every remote object is reached through a Proxy naming its ffid. Operations
// on a Proxy become requests matched to their responses by the Correlator;
// results come back as a Value. Proxies release their remote object when
// closed or collected, and remote events are delivered to local handlers
// through polling ids.
package bridge

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/metrics"
	"github.com/pithecene-io/tether/types"
)

// Bridge ties a Correlator, the handle table and the event registry to one
// channel.
type Bridge struct {
	transport Transport
	timeout   time.Duration
	logger    *log.Logger
	collector *metrics.Collector

	corr   *Correlator
	life   *lifetime
	events *events
	root   *Proxy

	closeOnce sync.Once
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithTimeout sets the per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.timeout = d }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *log.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithCollector sets the metrics collector. A nil collector is valid.
func WithCollector(c *metrics.Collector) Option {
	return func(b *Bridge) { b.collector = c }
}

// New creates a bridge over transport and starts its release and event
// goroutines. Frames read from the channel must be passed to HandleFrame.
func New(transport Transport, opts ...Option) *Bridge {
	b := &Bridge{
		transport: transport,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = log.NewNop()
	}

	b.corr = NewCorrelator(transport, b.timeout, b.logger.Named("correlator"), b.collector)
	b.life = newLifetime(b.corr, b.logger.Named("lifetime"), b.collector)
	b.events = newEvents(b)
	b.root = &Proxy{bridge: b, ffid: types.RootFFID, tag: types.TagObject}

	go b.life.run()
	go b.events.run()
	return b
}

func (b *Bridge) newProxy(ffid int64, tag types.TypeTag, parent int64, hasParent bool) *Proxy {
	p := &Proxy{bridge: b, ffid: ffid, tag: tag, parent: parent, hasParent: hasParent}
	if ffid == types.RootFFID {
		return p
	}
	b.life.acquire(ffid)
	p.cleanup = runtime.AddCleanup(p, b.life.release, ffid)
	return p
}

// Root returns the remote runtime's well-known root object.
func (b *Bridge) Root() *Proxy {
	return b.root
}

// Require loads a module in the remote runtime.
func (b *Bridge) Require(ctx context.Context, module string) (Value, error) {
	v, err := b.root.Call(ctx, "require", module)
	if err != nil {
		return nil, fmt.Errorf("bridge: require %q: %w", module, err)
	}
	return v, nil
}

// Console returns the remote runtime's console object.
func (b *Bridge) Console(ctx context.Context) (Value, error) {
	return b.root.Get(ctx, "console")
}

// Subscribe registers handler for event on source.
func (b *Bridge) Subscribe(source *Proxy, event string, handler Handler) (Subscription, error) {
	return b.events.subscribe(source, event, handler, false)
}

// SubscribeOnce registers handler for the next firing of event on source.
// Wait blocks until every such subscription has fired or been removed.
func (b *Bridge) SubscribeOnce(source *Proxy, event string, handler Handler) (Subscription, error) {
	return b.events.subscribe(source, event, handler, true)
}

// Unsubscribe removes subscriptions for event on source and returns how many
// were removed. With no subs, all of them are removed.
func (b *Bridge) Unsubscribe(source *Proxy, event string, subs ...Subscription) (int, error) {
	return b.events.unsubscribe(source, event, subs)
}

// Subscriptions returns the number of active registrations.
func (b *Bridge) Subscriptions() int {
	return b.events.count()
}

// References returns how many live local proxies hold ffid.
func (b *Bridge) References(ffid int64) int {
	return b.life.references(ffid)
}

// Pending returns the number of requests awaiting a response.
func (b *Bridge) Pending() int {
	return b.corr.Pending()
}

// HandleFrame routes one decoded inbound frame. It is called by the channel
// worker and never blocks on the remote. A non-nil error is fatal to the
// channel.
func (b *Bridge) HandleFrame(frame any) error {
	switch f := frame.(type) {
	case *types.Response:
		return b.corr.Deliver(f)
	case *types.EventFrame:
		b.events.enqueue(f)
		return nil
	default:
		b.collector.IncProtocolError()
		return &ProtocolError{Kind: ProtocolBadValue, Msg: fmt.Sprintf("unexpected frame %T", frame)}
	}
}

// Abort fails every pending and future request with err. Called when the
// channel stops.
func (b *Bridge) Abort(err error) {
	b.corr.Abort(err)
}

// Wait blocks until every once-subscription has fired or ctx is done.
func (b *Bridge) Wait(ctx context.Context) error {
	return b.events.wait(ctx)
}

// Collector returns the metrics collector, possibly nil.
func (b *Bridge) Collector() *metrics.Collector {
	return b.collector
}

// Close stops event dispatch, flushes queued frees and rejects further
// requests. It does not close the transport.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.events.close()
		b.life.close()
		b.corr.Abort(ErrClosed)
	})
	return nil
}
