package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/pithecene-io/tether/bridge"
	"github.com/pithecene-io/tether/cli/tui"
	"github.com/pithecene-io/tether/iox"
)

// maxSummary caps the one-line value shown for objects in the browser.
const maxSummary = 120

// browseLoader reads browser nodes by walking attrs past base. Each step
// resolves the full path again, so a node always reflects the live object.
func browseLoader(b *bridge.Bridge, base Path) tui.Loader {
	return func(ctx context.Context, attrs []string) (tui.Node, error) {
		p := Path{Module: base.Module, Attrs: append(slices.Clone(base.Attrs), attrs...)}
		v, err := resolve(ctx, b, p)
		if err != nil {
			return tui.Node{}, err
		}
		if px, ok := v.(*bridge.Proxy); ok {
			defer iox.DiscardClose(px)
		}
		view, err := describe(ctx, p.String(), v)
		if err != nil {
			return tui.Node{}, err
		}
		return browseNode(view), nil
	}
}

// browseNode converts an inspect view. Only handles have children: the keys
// of a serialized object or the indices of a serialized array.
func browseNode(view ValueView) tui.Node {
	n := tui.Node{
		Path:        view.Path,
		Tag:         view.Tag,
		FFID:        view.FFID,
		Description: view.Description,
	}
	switch val := view.Value.(type) {
	case nil:
	case map[string]any:
		n.Value = summarize(val)
		if view.FFID != nil {
			n.Children = slices.Sorted(maps.Keys(val))
		}
	case []any:
		n.Value = summarize(val)
		if view.FFID != nil {
			n.Children = make([]string, len(val))
			for i := range val {
				n.Children[i] = strconv.Itoa(i)
			}
		}
	default:
		n.Value = fmt.Sprint(val)
	}
	return n
}

func summarize(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	if len(data) > maxSummary {
		return string(data[:maxSummary-3]) + "..."
	}
	return string(data)
}
