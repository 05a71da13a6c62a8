package bridge

import (
	"context"
	"fmt"
	"runtime"

	"github.com/pithecene-io/tether/types"
)

// Value is the local form of anything a remote-resolving operation returns.
//
// The set of implementations is closed: *Proxy, *Function, *Constructor,
// Void and Primitive. Callers switch on the concrete type.
type Value interface {
	Tag() types.TypeTag
	isValue()
}

// Void is the local marker for a remote undefined/null result.
type Void struct{}

// Tag returns types.TagVoid.
func (Void) Tag() types.TypeTag { return types.TagVoid }
func (Void) isValue()           {}

// Primitive is a value the remote runtime sent by copy.
type Primitive struct {
	Kind types.TypeTag
	V    any
}

// Tag returns the primitive kind.
func (p Primitive) Tag() types.TypeTag { return p.Kind }
func (Primitive) isValue()             {}

// Int64 returns the value as an integer when it is numeric and integral.
func (p Primitive) Int64() (int64, bool) {
	return types.AsInt64(p.V)
}

func (p Primitive) String() string {
	return fmt.Sprint(p.V)
}

// Function is a callable bound to an attribute of a remote object.
// Calling it issues a call against its owner's ffid with its key.
type Function struct {
	owner *Proxy
	key   any
}

// Tag returns types.TagFunction.
func (*Function) Tag() types.TypeTag { return types.TagFunction }
func (*Function) isValue()           {}

// Owner returns the proxy the function is bound to.
func (f *Function) Owner() *Proxy { return f.owner }

// Key returns the attribute the function was read from; empty when the
// owner itself is the function.
func (f *Function) Key() any { return f.key }

// Call invokes the function.
func (f *Function) Call(ctx context.Context, args ...any) (Value, error) {
	return f.owner.invoke(ctx, f.key, args)
}

// Get rejects attribute access. The only name a function answers to is
// "new", which yields a constructor over the same binding.
func (f *Function) Get(name string) (*Constructor, error) {
	if name != "new" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAccess, name)
	}
	return &Constructor{owner: f.owner, key: f.key}, nil
}

// Constructor builds remote instances.
type Constructor struct {
	owner *Proxy
	key   any
}

// Tag returns types.TagClass.
func (*Constructor) Tag() types.TypeTag { return types.TagClass }
func (*Constructor) isValue()           {}

// Owner returns the proxy the constructor is bound to.
func (c *Constructor) Owner() *Proxy { return c.owner }

// New issues an init and returns the instance. The instance's parent is
// always the ffid the constructor is bound to, whatever tag the remote
// reported.
func (c *Constructor) New(ctx context.Context, args ...any) (*Proxy, error) {
	p := c.owner
	wire := marshalArgs(args)
	resp, err := p.bridge.corr.Send(ctx, types.ActionInit, p.ffid, c.key, wire...)
	runtime.KeepAlive(p)
	runtime.KeepAlive(args)
	if err != nil {
		return nil, err
	}

	switch resp.Key {
	case types.TagObject, types.TagInstance:
	default:
		return nil, &ProtocolError{Kind: ProtocolBadValue, R: resp.R, Tag: resp.Key,
			Msg: fmt.Sprintf("init returned %q, want an instance", resp.Key)}
	}
	ffid, ok := types.AsInt64(resp.Val)
	if !ok {
		return nil, badHandle(resp)
	}
	return p.bridge.newProxy(ffid, types.TagInstance, p.ffid, true), nil
}

// wrap turns a correlated response into a Value.
//
// fromGet distinguishes an attribute read, where a function or class result
// stays bound to (owner, key), from a call or init, where the result is a
// fresh remote object that is itself the callable.
func wrap(owner *Proxy, key any, resp *types.Response, fromGet bool) (Value, error) {
	b := owner.bridge

	switch resp.Key {
	case types.TagFunction, types.TagClass:
		boundTo, boundKey := owner, key
		if !fromGet {
			ffid, ok := types.AsInt64(resp.Val)
			if !ok {
				return nil, badHandle(resp)
			}
			boundTo, boundKey = b.newProxy(ffid, types.TagObject, 0, false), ""
		}
		if resp.Key == types.TagClass {
			return &Constructor{owner: boundTo, key: boundKey}, nil
		}
		return &Function{owner: boundTo, key: boundKey}, nil

	case types.TagObject:
		ffid, ok := types.AsInt64(resp.Val)
		if !ok {
			return nil, badHandle(resp)
		}
		return b.newProxy(ffid, types.TagObject, 0, false), nil

	case types.TagInstance:
		ffid, ok := types.AsInt64(resp.Val)
		if !ok {
			return nil, badHandle(resp)
		}
		return b.newProxy(ffid, types.TagInstance, owner.ffid, true), nil

	case types.TagVoid:
		return Void{}, nil

	case types.TagString, types.TagNumber, types.TagInt, types.TagBool:
		return Primitive{Kind: resp.Key, V: resp.Val}, nil

	case types.TagError:
		return nil, &RemoteError{FFID: owner.ffid, Key: key, Message: fmt.Sprint(resp.Val)}

	default:
		return nil, &ProtocolError{Kind: ProtocolUnknownTag, R: resp.R, Tag: resp.Key}
	}
}

func badHandle(resp *types.Response) error {
	return &ProtocolError{Kind: ProtocolBadValue, R: resp.R, Tag: resp.Key,
		Msg: fmt.Sprintf("%s value %v (%T) is not an ffid", resp.Key, resp.Val, resp.Val)}
}
