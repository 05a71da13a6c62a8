// Package bridgetest provides an in-memory remote runtime for exercising the
// bridge without a child process.
package bridgetest

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pithecene-io/tether/types"
)

// Func implements a remote function or constructor.
type Func func(args []any) (any, error)

// Object is a value living in the fake heap.
type Object struct {
	// Kind is TagObject, TagInstance, TagFunction or TagClass.
	Kind types.TypeTag
	// Fields are readable attributes. Values may be primitives, nil or
	// *Object.
	Fields map[string]any
	// Items, when non-nil, makes the object array-like: index reads and a
	// "length" attribute.
	Items []any
	// Fn is invoked by call (functions) or init (classes).
	Fn Func
	// Description is returned by inspect.
	Description string
}

// NewObject returns a plain object with fields.
func NewObject(fields map[string]any) *Object {
	if fields == nil {
		fields = map[string]any{}
	}
	return &Object{Kind: types.TagObject, Fields: fields}
}

// NewArray returns an array-like object.
func NewArray(items ...any) *Object {
	if items == nil {
		items = []any{}
	}
	return &Object{Kind: types.TagObject, Fields: map[string]any{}, Items: items}
}

// NewFunc returns a callable.
func NewFunc(fn Func) *Object {
	return &Object{Kind: types.TagFunction, Fields: map[string]any{}, Fn: fn}
}

// NewClass returns a constructor. fn must return the instance.
func NewClass(fn Func) *Object {
	return &Object{Kind: types.TagClass, Fields: map[string]any{}, Fn: fn}
}

// Poll is an active event subscription as seen by the remote side.
type Poll struct {
	FFID  int64
	Event string
}

// Heap is an object heap answering bridge requests.
//
// Objects are exported under a fresh ffid each time they cross to the host,
// as a real remote runtime does. ffid 0 is the root and holds Modules behind
// a "require" function.
type Heap struct {
	mu       sync.Mutex
	objects  map[int64]*Object
	nextFFID int64
	polls    map[int64]Poll
	freed    []int64
	stopped  []int64
	modules  map[string]any
	pending  []scheduled
}

type scheduled struct {
	event string
	args  []any
}

// NewHeap creates a heap whose root object is root. A nil root gets an empty
// object. A "require" function is added to it.
func NewHeap(root *Object) *Heap {
	if root == nil {
		root = NewObject(nil)
	}
	h := &Heap{
		objects: map[int64]*Object{types.RootFFID: root},
		polls:   make(map[int64]Poll),
		modules: make(map[string]any),
	}
	root.Fields["require"] = NewFunc(h.require)
	return h
}

// Register makes module loadable with require.
func (h *Heap) Register(name string, module any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.modules[name] = module
}

func (h *Heap) require(args []any) (any, error) {
	if len(args) == 0 {
		return nil, errors.New("require: module name missing")
	}
	name, _ := args[0].(string)
	h.mu.Lock()
	m, ok := h.modules[name]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("Cannot find module '%s'", name)
	}
	return m, nil
}

// Live returns the number of exported objects, root excluded.
func (h *Heap) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.objects) - 1
}

// Has reports whether ffid is still exported.
func (h *Heap) Has(ffid int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.objects[ffid]
	return ok
}

// Freed returns the ffids released so far, in order.
func (h *Heap) Freed() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.freed...)
}

// Polls returns active subscriptions keyed by polling id.
func (h *Heap) Polls() map[int64]Poll {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[int64]Poll, len(h.polls))
	for k, v := range h.polls {
		out[k] = v
	}
	return out
}

// Stopped returns the polling ids stopped so far, in order.
func (h *Heap) Stopped() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.stopped...)
}

// Serve answers one request. It returns nil for the one-way event polling
// controls.
func (h *Heap) Serve(req *types.Request) *types.Response {
	if req.Action == types.ActionCall && req.FFID == types.RootFFID {
		switch req.Key {
		case types.KeyStartEventPolling:
			h.startPolling(req.Args)
			return nil
		case types.KeyStopEventPolling:
			h.stopPolling(req.Args)
			return nil
		}
	}

	tag, val, err := h.serve(req)
	if err != nil {
		tag, val = types.TagError, err.Error()
	}
	return &types.Response{Type: types.FrameTypeResponse, R: req.R, Key: tag, Val: val}
}

func (h *Heap) serve(req *types.Request) (types.TypeTag, any, error) {
	h.mu.Lock()
	obj, ok := h.objects[req.FFID]
	h.mu.Unlock()
	if !ok {
		if req.Action == types.ActionFree {
			return types.TagBool, true, nil
		}
		return "", nil, fmt.Errorf("ffid %d is not in the heap", req.FFID)
	}

	switch req.Action {
	case types.ActionGet:
		v, isMethod, err := lookup(obj, req.Key)
		if err != nil {
			return "", nil, err
		}
		if isMethod {
			// Methods keep their binding on the host; the value is informational.
			return v.(*Object).Kind, h.export(v.(*Object)), nil
		}
		return h.encode(v)

	case types.ActionCall:
		fn, err := h.target(obj, req.Key, types.TagFunction)
		if err != nil {
			return "", nil, err
		}
		out, err := fn.Fn(h.resolveArgs(req.Args))
		if err != nil {
			return "", nil, err
		}
		return h.encode(out)

	case types.ActionInit:
		cls, err := h.target(obj, req.Key, types.TagClass)
		if err != nil {
			return "", nil, err
		}
		out, err := cls.Fn(h.resolveArgs(req.Args))
		if err != nil {
			return "", nil, err
		}
		inst, ok := out.(*Object)
		if !ok {
			return "", nil, fmt.Errorf("constructor returned %T", out)
		}
		inst.Kind = types.TagInstance
		return types.TagInstance, h.export(inst), nil

	case types.ActionInspect:
		if obj.Description != "" {
			return types.TagString, obj.Description, nil
		}
		return types.TagString, fmt.Sprintf("[%s %d]", obj.Kind, req.FFID), nil

	case types.ActionSerialize:
		return types.TagObject, serialize(obj), nil

	case types.ActionLength:
		if obj.Items == nil {
			return types.TagVoid, nil, nil
		}
		return types.TagInt, int64(len(obj.Items)), nil

	case types.ActionFree:
		h.mu.Lock()
		delete(h.objects, req.FFID)
		h.freed = append(h.freed, req.FFID)
		h.mu.Unlock()
		return types.TagBool, true, nil

	default:
		return "", nil, fmt.Errorf("unknown action %q", req.Action)
	}
}

func lookup(obj *Object, key any) (v any, isMethod bool, err error) {
	if i, ok := types.AsInt64(key); ok {
		if i < 0 || int(i) >= len(obj.Items) {
			return nil, false, nil
		}
		return obj.Items[i], false, nil
	}
	name, _ := key.(string)
	if name == "length" && obj.Items != nil {
		return int64(len(obj.Items)), false, nil
	}
	v, ok := obj.Fields[name]
	if !ok {
		return nil, false, nil
	}
	if o, ok := v.(*Object); ok && (o.Kind == types.TagFunction || o.Kind == types.TagClass) {
		return v, true, nil
	}
	return v, false, nil
}

func (h *Heap) target(obj *Object, key any, want types.TypeTag) (*Object, error) {
	name, _ := key.(string)
	t := obj
	if name != "" {
		v, ok := obj.Fields[name]
		if !ok {
			return nil, fmt.Errorf("%s is not a function", name)
		}
		t, _ = v.(*Object)
	}
	if t == nil || t.Fn == nil {
		return nil, fmt.Errorf("%v is not callable", key)
	}
	if want == types.TagClass && t.Kind != types.TagClass {
		return nil, fmt.Errorf("%v is not a constructor", key)
	}
	return t, nil
}

// encode exports v and returns its tag and wire value.
func (h *Heap) encode(v any) (types.TypeTag, any, error) {
	switch x := v.(type) {
	case nil:
		return types.TagVoid, nil, nil
	case string:
		return types.TagString, x, nil
	case bool:
		return types.TagBool, x, nil
	case int:
		return types.TagInt, int64(x), nil
	case int64:
		return types.TagInt, x, nil
	case float64:
		return types.TagNumber, x, nil
	case *Object:
		return x.Kind, h.export(x), nil
	default:
		return "", nil, fmt.Errorf("cannot encode %T", v)
	}
}

func (h *Heap) export(obj *Object) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextFFID++
	h.objects[h.nextFFID] = obj
	return h.nextFFID
}

// resolveArgs replaces {"ffid": n} references with heap objects.
func (h *Heap) resolveArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
		m, ok := a.(map[string]any)
		if !ok {
			continue
		}
		ffid, ok := types.AsInt64(m["ffid"])
		if !ok {
			continue
		}
		h.mu.Lock()
		obj, found := h.objects[ffid]
		h.mu.Unlock()
		if !found {
			continue
		}
		if key, ok := m["key"].(string); ok && key != "" {
			out[i] = obj.Fields[key]
		} else {
			out[i] = obj
		}
	}
	return out
}

func serialize(obj *Object) any {
	if obj.Items != nil {
		out := make([]any, 0, len(obj.Items))
		for _, it := range obj.Items {
			if o, ok := it.(*Object); ok {
				out = append(out, serialize(o))
				continue
			}
			out = append(out, it)
		}
		return out
	}
	keys := make([]string, 0, len(obj.Fields))
	for k := range obj.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		switch v := obj.Fields[k].(type) {
		case *Object:
			if v.Kind == types.TagFunction || v.Kind == types.TagClass {
				continue
			}
			out[k] = serialize(v)
		default:
			out[k] = v
		}
	}
	return out
}

func (h *Heap) startPolling(args []any) {
	if len(args) < 3 {
		return
	}
	ffid, _ := types.AsInt64(args[0])
	event, _ := args[1].(string)
	id, _ := types.AsInt64(args[2])
	h.mu.Lock()
	h.polls[id] = Poll{FFID: ffid, Event: event}
	h.mu.Unlock()
}

func (h *Heap) stopPolling(args []any) {
	if len(args) < 1 {
		return
	}
	id, _ := types.AsInt64(args[0])
	h.mu.Lock()
	delete(h.polls, id)
	h.stopped = append(h.stopped, id)
	h.mu.Unlock()
}

// Fire builds the event frames for event on ffid, one per active poll. With
// no args the frames carry no payload; otherwise the args are exported as an
// array.
func (h *Heap) Fire(ffid int64, event string, args ...any) []*types.EventFrame {
	h.mu.Lock()
	var ids []int64
	for id, p := range h.polls {
		if p.FFID == ffid && p.Event == event {
			ids = append(ids, id)
		}
	}
	h.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	frames := make([]*types.EventFrame, 0, len(ids))
	for _, id := range ids {
		f := &types.EventFrame{Type: types.FrameTypeEvent, PollingID: id}
		if len(args) > 0 {
			f.Val = h.export(NewArray(args...))
		}
		frames = append(frames, f)
	}
	return frames
}

// FireAll builds frames for event on every subscribed object.
func (h *Heap) FireAll(event string, args ...any) []*types.EventFrame {
	h.mu.Lock()
	targets := make(map[int64]bool)
	for _, p := range h.polls {
		if p.Event == event {
			targets[p.FFID] = true
		}
	}
	h.mu.Unlock()

	ffids := make([]int64, 0, len(targets))
	for ffid := range targets {
		ffids = append(ffids, ffid)
	}
	sort.Slice(ffids, func(i, j int) bool { return ffids[i] < ffids[j] })

	var frames []*types.EventFrame
	for _, ffid := range ffids {
		frames = append(frames, h.Fire(ffid, event, args...)...)
	}
	return frames
}

// Schedule queues event to be fired on every subscriber once the current
// request has been answered. Remote functions use it to emit events.
func (h *Heap) Schedule(event string, args ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = append(h.pending, scheduled{event: event, args: args})
}

// TakeScheduled returns the frames for every scheduled event and clears the
// schedule.
func (h *Heap) TakeScheduled() []*types.EventFrame {
	h.mu.Lock()
	pending := h.pending
	h.pending = nil
	h.mu.Unlock()

	var frames []*types.EventFrame
	for _, s := range pending {
		frames = append(frames, h.FireAll(s.event, s.args...)...)
	}
	return frames
}
