package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pithecene-io/tether/bridge"
)

// ValueView is the rendered form of a remote value.
type ValueView struct {
	Path        string `json:"path" yaml:"path"`
	Tag         string `json:"tag" yaml:"tag"`
	FFID        *int64 `json:"ffid,omitempty" yaml:"ffid,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Value       any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// EventView is one rendered event delivery.
type EventView struct {
	Event string `json:"event" yaml:"event"`
	Seq   int    `json:"seq" yaml:"seq"`
	Args  []any  `json:"args" yaml:"args"`
}

// describe builds the view of v. Handles are inspected and serialized;
// a value the remote cannot serialize is shown by description only.
func describe(ctx context.Context, path string, v bridge.Value) (ValueView, error) {
	view := ValueView{Path: path, Tag: string(v.Tag())}
	switch val := v.(type) {
	case bridge.Void:
	case bridge.Primitive:
		view.Value = val.V
	case *bridge.Function:
		view.Description = fmt.Sprintf("[function %v]", val.Key())
	case *bridge.Constructor:
		view.Description = "[class]"
	case *bridge.Proxy:
		ffid := val.FFID()
		view.FFID = &ffid
		desc, err := val.Inspect(ctx)
		if err != nil {
			return view, err
		}
		view.Description = desc
		data, err := val.Serialize(ctx)
		var remote *bridge.RemoteError
		switch {
		case errors.As(err, &remote):
		case err != nil:
			return view, err
		default:
			view.Value = data
		}
	}
	return view, nil
}

// plain converts an event argument without further remote calls.
func plain(v bridge.Value) any {
	switch val := v.(type) {
	case bridge.Primitive:
		return val.V
	case *bridge.Proxy:
		return map[string]any{"ffid": val.FFID(), "tag": string(val.Tag())}
	case *bridge.Function:
		return fmt.Sprintf("[function %v]", val.Key())
	case *bridge.Constructor:
		return "[class]"
	default:
		return nil
	}
}

// parseArgs decodes each CLI argument as JSON. Integral numbers become
// int64 and anything that is not valid JSON is passed as a string.
func parseArgs(raw []string) []any {
	args := make([]any, 0, len(raw))
	for _, s := range raw {
		dec := json.NewDecoder(strings.NewReader(s))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil || dec.More() {
			args = append(args, s)
			continue
		}
		args = append(args, normalize(v))
	}
	return args
}

func normalize(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		f, _ := val.Float64()
		return f
	case []any:
		for i := range val {
			val[i] = normalize(val[i])
		}
		return val
	case map[string]any:
		for k := range val {
			val[k] = normalize(val[k])
		}
		return val
	default:
		return v
	}
}
