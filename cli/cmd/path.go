package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pithecene-io/tether/bridge"
)

// Path addresses a value in the remote runtime as "module:attr.attr".
// The module is required first; without one the walk starts at the
// remote's global object. Numeric attrs index into arrays.
type Path struct {
	Module string
	Attrs  []string
}

// ParsePath parses a path. The module ends at the last colon, so
// "node:fs:readFileSync" requires "node:fs".
func ParsePath(s string) (Path, error) {
	if strings.TrimSpace(s) == "" {
		return Path{}, errors.New("empty path")
	}

	var p Path
	rest := s
	if i := strings.LastIndex(s, ":"); i >= 0 {
		p.Module, rest = s[:i], s[i+1:]
		if p.Module == "" {
			return Path{}, fmt.Errorf("path %q: empty module name", s)
		}
	}
	if rest == "" {
		if p.Module == "" {
			return Path{}, fmt.Errorf("path %q: nothing to resolve", s)
		}
		return p, nil
	}
	for _, attr := range strings.Split(rest, ".") {
		if attr == "" {
			return Path{}, fmt.Errorf("path %q: empty attribute", s)
		}
		p.Attrs = append(p.Attrs, attr)
	}
	return p, nil
}

// String renders the path in its parsed form.
func (p Path) String() string {
	attrs := strings.Join(p.Attrs, ".")
	if p.Module == "" {
		return attrs
	}
	return p.Module + ":" + attrs
}

// prefix renders the module plus the first n attrs.
func (p Path) prefix(n int) string {
	return Path{Module: p.Module, Attrs: p.Attrs[:n]}.String()
}

// resolve walks p from the module (or global object) to its final value.
func resolve(ctx context.Context, b *bridge.Bridge, p Path) (bridge.Value, error) {
	var cur bridge.Value = b.Root()
	if p.Module != "" {
		mod, err := b.Require(ctx, p.Module)
		if err != nil {
			return nil, fmt.Errorf("require %q: %w", p.Module, err)
		}
		cur = mod
	}

	for i, attr := range p.Attrs {
		next, err := step(ctx, cur, attr)
		if err != nil {
			at := p.prefix(i)
			if at == "" {
				at = "globalThis"
			}
			return nil, fmt.Errorf("%s: read %q: %w", at, attr, err)
		}
		cur = next
	}
	return cur, nil
}

func step(ctx context.Context, cur bridge.Value, attr string) (bridge.Value, error) {
	switch v := cur.(type) {
	case *bridge.Proxy:
		if n, err := strconv.Atoi(attr); err == nil && n >= 0 {
			return v.Index(ctx, n)
		}
		return v.Get(ctx, attr)
	case *bridge.Function:
		return v.Get(attr)
	default:
		return nil, fmt.Errorf("%w: %s value has no attributes", bridge.ErrInvalidAccess, cur.Tag())
	}
}
