package bridge

// marshalArgs converts call arguments to their wire form.
//
// Proxies travel as {"ffid": n} so the remote side can resolve them in its
// heap. Functions and constructors travel as their owner's handle, with the
// bound key when there is one. Slices and string-keyed maps are converted
// element-wise; anything else is left for the codec.
func marshalArgs(args []any) []any {
	if len(args) == 0 {
		return nil
	}
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = marshalValue(a)
	}
	return out
}

func marshalValue(v any) any {
	switch x := v.(type) {
	case *Proxy:
		return handleRef(x.ffid, "")
	case *Function:
		return handleRef(x.owner.ffid, x.key)
	case *Constructor:
		return handleRef(x.owner.ffid, x.key)
	case Primitive:
		return x.V
	case Void:
		return nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = marshalValue(e)
		}
		return out
	case []Value:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = marshalValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = marshalValue(e)
		}
		return out
	default:
		return v
	}
}

func handleRef(ffid int64, key any) map[string]any {
	ref := map[string]any{"ffid": ffid}
	if s, ok := key.(string); ok && s == "" {
		return ref
	}
	if key != nil {
		ref["key"] = key
	}
	return ref
}
