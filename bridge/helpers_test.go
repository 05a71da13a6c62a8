package bridge

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pithecene-io/tether/bridge/bridgetest"
	"github.com/pithecene-io/tether/metrics"
	"github.com/pithecene-io/tether/types"
)

// newTestBridge wires a bridge to an in-memory heap rooted at root.
func newTestBridge(t *testing.T, root *bridgetest.Object, opts ...Option) (*Bridge, *bridgetest.Transport, *bridgetest.Heap) {
	t.Helper()

	heap := bridgetest.NewHeap(root)
	tr := bridgetest.NewTransport(heap)
	opts = append([]Option{WithCollector(metrics.NewCollector("test-session", "fake", "none"))}, opts...)
	b := New(tr, opts...)
	tr.Attach(b)

	t.Cleanup(func() {
		_ = b.Close()
		tr.Stop()
	})
	return b, tr, heap
}

// fixtureRoot returns a root object exercising every type tag.
func fixtureRoot() *bridgetest.Object {
	point := bridgetest.NewClass(func(args []any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("Point takes 2 arguments, got %d", len(args))
		}
		return bridgetest.NewObject(map[string]any{"x": args[0], "y": args[1]}), nil
	})
	origin := bridgetest.NewObject(map[string]any{"x": 0, "y": 0})
	origin.Kind = types.TagInstance

	child := bridgetest.NewObject(map[string]any{"label": "kid"})
	child.Description = "Child<kid>"

	return bridgetest.NewObject(map[string]any{
		"name":    "fixture",
		"count":   int64(3),
		"ratio":   0.5,
		"enabled": true,
		"nothing": nil,
		"child":   child,
		"origin":  origin,
		"list":    bridgetest.NewArray("a", "b", "c"),
		"emitter": bridgetest.NewObject(nil),
		"Point":   point,
		"greet": bridgetest.NewFunc(func(args []any) (any, error) {
			return fmt.Sprintf("hello %v", args[0]), nil
		}),
		"makeGreeter": bridgetest.NewFunc(func([]any) (any, error) {
			return bridgetest.NewFunc(func(args []any) (any, error) {
				return fmt.Sprintf("hi %v", args[0]), nil
			}), nil
		}),
		"makeClass": bridgetest.NewFunc(func([]any) (any, error) {
			return point, nil
		}),
		"labelOf": bridgetest.NewFunc(func(args []any) (any, error) {
			obj, ok := args[0].(*bridgetest.Object)
			if !ok {
				return nil, fmt.Errorf("labelOf: got %T", args[0])
			}
			return obj.Fields["label"], nil
		}),
		"fail": bridgetest.NewFunc(func([]any) (any, error) {
			return nil, errors.New("kaboom")
		}),
		"console": bridgetest.NewObject(map[string]any{
			"log": bridgetest.NewFunc(func([]any) (any, error) { return nil, nil }),
		}),
	})
}

// getProxy reads name from the root and requires it to be a proxy.
func getProxy(t *testing.T, b *Bridge, name string) *Proxy {
	t.Helper()
	v, err := b.Root().Get(context.Background(), name)
	require.NoError(t, err)
	p, ok := v.(*Proxy)
	require.True(t, ok, "%s: expected *Proxy, got %T", name, v)
	return p
}
