package bridge

import (
	"context"
	"fmt"
	"iter"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pithecene-io/tether/types"
)

// cursorField is the only attribute Set accepts.
const cursorField = "cursor"

// Proxy is a local handle on an object owned by the remote runtime.
//
// A Proxy holds one reference on its ffid. The reference is dropped by
// Close, or by the garbage collector once the Proxy is unreachable.
type Proxy struct {
	bridge    *Bridge
	ffid      int64
	tag       types.TypeTag
	parent    int64
	hasParent bool
	cursor    atomic.Int64

	cleanup   runtime.Cleanup
	closeOnce sync.Once
}

// FFID returns the remote handle.
func (p *Proxy) FFID() int64 { return p.ffid }

// Parent returns the ffid of the constructor or object this instance was
// produced from, if any.
func (p *Proxy) Parent() (int64, bool) { return p.parent, p.hasParent }

// Tag returns types.TagObject or types.TagInstance.
func (p *Proxy) Tag() types.TypeTag { return p.tag }
func (*Proxy) isValue()             {}

// Get reads an attribute. "new" resolves locally to the proxy's constructor.
func (p *Proxy) Get(ctx context.Context, name string) (Value, error) {
	if name == "new" {
		return p.Constructor(), nil
	}
	return p.get(ctx, name)
}

// Index reads an element by position.
func (p *Proxy) Index(ctx context.Context, i int) (Value, error) {
	return p.get(ctx, i)
}

func (p *Proxy) get(ctx context.Context, key any) (Value, error) {
	resp, err := p.bridge.corr.Send(ctx, types.ActionGet, p.ffid, key)
	runtime.KeepAlive(p)
	if err != nil {
		return nil, err
	}
	return wrap(p, key, resp, true)
}

// Call invokes the method name with args. An empty name calls the object
// itself.
func (p *Proxy) Call(ctx context.Context, name string, args ...any) (Value, error) {
	return p.invoke(ctx, name, args)
}

func (p *Proxy) invoke(ctx context.Context, key any, args []any) (Value, error) {
	wire := marshalArgs(args)
	resp, err := p.bridge.corr.Send(ctx, types.ActionCall, p.ffid, key, wire...)
	runtime.KeepAlive(p)
	runtime.KeepAlive(args)
	if err != nil {
		return nil, err
	}
	return wrap(p, key, resp, false)
}

// Constructor returns a constructor that instantiates this object.
func (p *Proxy) Constructor() *Constructor {
	return &Constructor{owner: p, key: ""}
}

// New instantiates this object with args.
func (p *Proxy) New(ctx context.Context, args ...any) (*Proxy, error) {
	return p.Constructor().New(ctx, args...)
}

// Inspect returns the remote runtime's human readable description.
func (p *Proxy) Inspect(ctx context.Context) (string, error) {
	resp, err := p.bridge.corr.Send(ctx, types.ActionInspect, p.ffid, "")
	runtime.KeepAlive(p)
	if err != nil {
		return "", err
	}
	if s, ok := resp.Val.(string); ok {
		return s, nil
	}
	return fmt.Sprint(resp.Val), nil
}

// String implements fmt.Stringer via Inspect.
func (p *Proxy) String() string {
	s, err := p.Inspect(context.Background())
	if err != nil {
		return fmt.Sprintf("[remote %s %d]", p.tag, p.ffid)
	}
	return s
}

// Serialize asks the remote runtime to JSON-serialize the object and returns
// the decoded result.
func (p *Proxy) Serialize(ctx context.Context) (any, error) {
	resp, err := p.bridge.corr.Send(ctx, types.ActionSerialize, p.ffid, "")
	runtime.KeepAlive(p)
	if err != nil {
		return nil, err
	}
	return resp.Val, nil
}

// MarshalJSON encodes the handle, never the remote contents.
func (p *Proxy) MarshalJSON() ([]byte, error) {
	return fmt.Appendf(nil, `{"ffid":%d}`, p.ffid), nil
}

// Set assigns a local field. Remote objects are read-only; only the
// iteration cursor may be written.
func (p *Proxy) Set(name string, v any) error {
	if name != cursorField {
		return fmt.Errorf("%w: cannot set %q", ErrImmutableObject, name)
	}
	n, ok := types.AsInt64(v)
	if !ok {
		return fmt.Errorf("bridge: %s must be an integer, got %T", cursorField, v)
	}
	p.cursor.Store(n)
	return nil
}

// Length asks the remote runtime for the object's length.
func (p *Proxy) Length(ctx context.Context) (int, error) {
	resp, err := p.bridge.corr.Send(ctx, types.ActionLength, p.ffid, "")
	runtime.KeepAlive(p)
	if err != nil {
		return 0, err
	}
	v, err := wrap(p, "length", resp, true)
	if err != nil {
		return 0, err
	}
	prim, ok := v.(Primitive)
	if !ok {
		return 0, &ProtocolError{Kind: ProtocolBadValue, Tag: v.Tag(), Msg: "length is not a number"}
	}
	n, ok := prim.Int64()
	if !ok {
		return 0, &ProtocolError{Kind: ProtocolBadValue, Tag: prim.Kind, Msg: fmt.Sprintf("length %v is not an integer", prim.V)}
	}
	return int(n), nil
}

// Next reads the element at the cursor and advances it. It reports false
// once the cursor reaches the current length. The cursor belongs to one
// goroutine at a time; concurrent iterations of the same Proxy interleave
// indices.
func (p *Proxy) Next(ctx context.Context) (Value, bool, error) {
	n, err := p.Length(ctx)
	if err != nil {
		return nil, false, err
	}
	i := p.cursor.Load()
	if i >= int64(n) {
		return nil, false, nil
	}
	v, err := p.get(ctx, int(i))
	if err != nil {
		return nil, false, err
	}
	p.cursor.Store(i + 1)
	return v, true, nil
}

// Values iterates the object by index from 0 to its length. Each call to
// the returned sequence restarts from 0. Iteration stops after the first
// error.
func (p *Proxy) Values(ctx context.Context) iter.Seq2[Value, error] {
	return func(yield func(Value, error) bool) {
		p.cursor.Store(0)
		for {
			v, ok, err := p.Next(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !ok || !yield(v, nil) {
				return
			}
		}
	}
}

// On subscribes handler to event on this object.
func (p *Proxy) On(event string, handler Handler) (Subscription, error) {
	return p.bridge.Subscribe(p, event, handler)
}

// Once subscribes handler for a single firing of event.
func (p *Proxy) Once(event string, handler Handler) (Subscription, error) {
	return p.bridge.SubscribeOnce(p, event, handler)
}

// Off removes subscriptions for event on this object. With no subs, every
// subscription for the event is removed.
func (p *Proxy) Off(event string, subs ...Subscription) (int, error) {
	return p.bridge.Unsubscribe(p, event, subs...)
}

// Close drops this proxy's reference on its ffid. The remote object is
// freed once no other proxy holds it. Close is idempotent.
func (p *Proxy) Close() error {
	p.closeOnce.Do(func() {
		if p.ffid == types.RootFFID {
			return
		}
		p.cleanup.Stop()
		p.bridge.life.release(p.ffid)
	})
	return nil
}
